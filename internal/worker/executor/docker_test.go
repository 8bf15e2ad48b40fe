package executor

import (
	"testing"

	"grinder/pkg/model"

	"gotest.tools/v3/assert"
)

func TestParseYield(t *testing.T) {
	v, err := parseYield("weakening n00dles\n0.25\n")
	assert.NilError(t, err)
	assert.Equal(t, v, 0.25)

	v, err = parseYield("")
	assert.NilError(t, err)
	assert.Equal(t, v, 0.0)

	_, err = parseYield("done\n")
	assert.ErrorContains(t, err, "is not a number")
}

func TestDispatchEnv(t *testing.T) {
	env := dispatchEnv(
		&model.Dispatch{ID: "d1", BatchID: "b1", Op: model.OpGrow, TargetID: "n00dles", Units: 7},
		&model.Payload{Name: "grow.js"},
	)
	assert.DeepEqual(t, env, []string{
		"GRINDER_OP=grow",
		"GRINDER_PAYLOAD=grow.js",
		"GRINDER_DISPATCH=d1",
		"GRINDER_BATCH=b1",
		"GRINDER_TARGET=n00dles",
		"GRINDER_UNITS=7",
	})
}
