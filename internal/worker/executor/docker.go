package executor

import (
	"bytes"
	"context"
	"fmt"
	"strconv"
	"strings"

	"grinder/internal/logging"
	"grinder/pkg/model"

	"github.com/docker/docker/api/types"
	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/client"
	"github.com/docker/docker/pkg/stdcopy"
	"go.uber.org/zap"
)

const defaultImage = "alpine:latest"

// DockerExecutor runs a payload as a one-shot container. The container
// sees the dispatch through GRINDER_* variables and reports its yield as
// the last line of its output.
type DockerExecutor struct {
	cli *client.Client
	log *logging.Logger
}

func NewDockerExecutor(log *logging.Logger) (*DockerExecutor, error) {
	cli, err := client.NewClientWithOpts(client.FromEnv, client.WithVersion("1.44"))
	if err != nil {
		return nil, err
	}
	return &DockerExecutor{cli: cli, log: log.Named("docker")}, nil
}

func (e *DockerExecutor) Run(ctx context.Context, d *model.Dispatch, p *model.Payload) (float64, error) {
	image := p.Image
	if image == "" {
		image = defaultImage
	}
	e.log.Debug("[Docker] starting payload", zap.String("dispatch", d.ID), zap.String("payload", p.Name), zap.String("image", image))

	resp, err := e.cli.ContainerCreate(ctx, &container.Config{
		Image: image,
		Cmd:   p.Command,
		Env:   dispatchEnv(d, p),
		Tty:   false,
	}, nil, nil, nil, "")
	if err != nil {
		return 0, fmt.Errorf("create container: %w", err)
	}
	containerID := resp.ID
	defer e.cli.ContainerRemove(context.WithoutCancel(ctx), containerID, types.ContainerRemoveOptions{Force: true})

	if err := e.cli.ContainerStart(ctx, containerID, types.ContainerStartOptions{}); err != nil {
		return 0, fmt.Errorf("start container: %w", err)
	}

	statusCh, errCh := e.cli.ContainerWait(ctx, containerID, container.WaitConditionNotRunning)
	select {
	case err := <-errCh:
		if err != nil {
			return 0, fmt.Errorf("wait container: %w", err)
		}
	case st := <-statusCh:
		if st.StatusCode != 0 {
			return 0, fmt.Errorf("payload %s exited with status %d", p.Name, st.StatusCode)
		}
	}

	out, err := e.cli.ContainerLogs(ctx, containerID, types.ContainerLogsOptions{ShowStdout: true, ShowStderr: true})
	if err != nil {
		return 0, fmt.Errorf("container logs: %w", err)
	}
	defer out.Close()

	var buf bytes.Buffer
	if _, err := stdcopy.StdCopy(&buf, &buf, out); err != nil {
		return 0, fmt.Errorf("read container output: %w", err)
	}
	return parseYield(buf.String())
}

func dispatchEnv(d *model.Dispatch, p *model.Payload) []string {
	return []string{
		"GRINDER_OP=" + string(d.Op),
		"GRINDER_PAYLOAD=" + p.Name,
		"GRINDER_DISPATCH=" + d.ID,
		"GRINDER_BATCH=" + d.BatchID,
		"GRINDER_TARGET=" + d.TargetID,
		"GRINDER_UNITS=" + strconv.Itoa(d.Units),
	}
}

// parseYield reads the last non-empty output line as the operation's yield.
// No output at all means a zero yield.
func parseYield(output string) (float64, error) {
	lines := strings.Split(strings.TrimSpace(output), "\n")
	last := strings.TrimSpace(lines[len(lines)-1])
	if last == "" {
		return 0, nil
	}
	v, err := strconv.ParseFloat(last, 64)
	if err != nil {
		return 0, fmt.Errorf("payload output %q is not a number", last)
	}
	return v, nil
}
