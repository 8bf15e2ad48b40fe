package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"grinder/internal/master/scheduler"
	"grinder/pkg/model"

	"gotest.tools/v3/assert"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "grinder.yaml")
	assert.NilError(t, os.WriteFile(path, []byte(body), 0o644))
	return path
}

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load(writeConfig(t, "{}\n"))
	assert.NilError(t, err)

	sc, err := cfg.Scheduler.Build()
	assert.NilError(t, err)
	assert.DeepEqual(t, sc, scheduler.DefaultConfig())
	assert.DeepEqual(t, cfg.Etcd.Endpoints, []string{"localhost:2379"})
	assert.Equal(t, cfg.Worker.Executor, "effect")
	assert.Equal(t, cfg.PayloadSet()[model.OpHack].Cost, 1.7)
}

func TestLoadFile(t *testing.T) {
	path := writeConfig(t, `
scheduler:
  mode: batch
  node_order: most-free
  batch_spacing: 50ms
  ratios:
    weaken: 0.5
    grow: 0.3
    hack: 0.2
payloads:
  hack:
    name: hack.js
    image: alpine:latest
    command: ["sh", "-c", "echo 1"]
    cost: 2.4
worker:
  id: n00dles
  capacity: 16
  executor: docker
`)
	cfg, err := Load(path)
	assert.NilError(t, err)

	sc, err := cfg.Scheduler.Build()
	assert.NilError(t, err)
	assert.Equal(t, sc.Mode, scheduler.ModeBatch)
	assert.Equal(t, sc.NodeOrder, scheduler.OrderMostFree)
	assert.Equal(t, sc.BatchSpacing, 50*time.Millisecond)
	assert.Equal(t, sc.Ratios.Grow, 0.3)

	hack := cfg.PayloadSet()[model.OpHack]
	assert.Equal(t, hack.Cost, 2.4)
	assert.DeepEqual(t, hack.Command, []string{"sh", "-c", "echo 1"})
	assert.Equal(t, cfg.PayloadSet()[model.OpWeaken].Cost, 1.75)
	assert.Equal(t, cfg.Worker.Capacity, 16.0)
}

func TestLoadEnvOverride(t *testing.T) {
	t.Setenv("GRINDER_SCHEDULER_MODE", "simple")
	t.Setenv("GRINDER_SCHEDULER_HOME", "darkweb")

	cfg, err := Load(writeConfig(t, "scheduler:\n  mode: batch\n"))
	assert.NilError(t, err)
	assert.Equal(t, cfg.Scheduler.Mode, "simple")
	assert.Equal(t, cfg.Scheduler.Home, "darkweb")
}

func TestLoadRejectsInvalid(t *testing.T) {
	for name, body := range map[string]string{
		"mode":     "scheduler:\n  mode: turbo\n",
		"fraction": "scheduler:\n  hack_fraction: 1.5\n",
		"cost":     "payloads:\n  grow:\n    cost: 0\n",
		"executor": "worker:\n  executor: podman\n",
	} {
		t.Run(name, func(t *testing.T) {
			_, err := Load(writeConfig(t, body))
			assert.ErrorContains(t, err, "config validation failed")
		})
	}
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	assert.ErrorContains(t, err, "error reading config file")
}
