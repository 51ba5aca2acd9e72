package docker

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"strconv"
	"sync"
	"time"

	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/client"
	"github.com/docker/docker/pkg/stdcopy"

	"service-sopm/internal/core/sandbox"
	"service-sopm/internal/core/task"
)

const (
	reasonDeadline = "DeadlineExceeded"
	reasonOOM      = "OOMKilled"
	pidsLimit      = 128
	tmpfsOptions   = "rw,noexec,nosuid,size=64m"
)

// localTask holds the timers of one execution container. The container
// name equals the task name, so the daemon stays the source of truth.
type localTask struct {
	mu          sync.Mutex
	deadline    *time.Timer
	expire      *time.Timer
	deadlineHit bool
}

func (t *localTask) stopTimers() {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.deadline != nil {
		t.deadline.Stop()
	}
	if t.expire != nil {
		t.expire.Stop()
	}
}

func ptr[T any](v T) *T { return &v }

func (c *Client) CreateTask(ctx context.Context, spec sandbox.TaskSpec) error {
	if err := c.ensureImage(ctx, spec.Image); err != nil {
		return err
	}

	_ = c.cli.ContainerRemove(ctx, spec.Name, container.RemoveOptions{Force: true})

	env := make([]string, 0, len(spec.Env))
	for _, e := range spec.Env {
		env = append(env, e.Name+"="+e.Value)
	}
	memory := int64(spec.MemoryLimitMB) << 20

	resp, err := c.cli.ContainerCreate(ctx,
		&container.Config{
			Image:  spec.Image,
			Env:    env,
			Labels: spec.Labels,
			User:   strconv.FormatInt(spec.RunAsUser, 10),
		},
		&container.HostConfig{
			ReadonlyRootfs: true,
			CapDrop:        []string{"ALL"},
			SecurityOpt:    []string{"no-new-privileges"},
			Tmpfs:          map[string]string{"/tmp": tmpfsOptions},
			Resources: container.Resources{
				Memory:            memory,
				MemorySwap:        memory,
				MemoryReservation: int64(spec.MemoryRequestMB) << 20,
				NanoCPUs:          int64(spec.CPULimitMillicores) * 1_000_000,
				PidsLimit:         ptr(int64(pidsLimit)),
			},
		},
		nil, nil, spec.Name,
	)
	if err != nil {
		return fmt.Errorf("docker create: %w", err)
	}

	t := &localTask{}
	c.mu.Lock()
	if old, ok := c.tasks[spec.Name]; ok {
		old.stopTimers()
	}
	c.tasks[spec.Name] = t
	c.mu.Unlock()

	if err := c.cli.ContainerStart(ctx, resp.ID, container.StartOptions{}); err != nil {
		c.removeTask(spec.Name)
		return fmt.Errorf("docker start: %w", err)
	}

	t.mu.Lock()
	t.deadline = time.AfterFunc(spec.ActiveDeadline, func() {
		t.mu.Lock()
		t.deadlineHit = true
		t.mu.Unlock()
		if err := c.cli.ContainerKill(context.Background(), resp.ID, "SIGKILL"); err != nil && !client.IsErrNotFound(err) {
			c.lg.Warn().Err(err).Str("container", spec.Name).Msg("failed to kill container past its deadline")
		}
	})
	t.expire = time.AfterFunc(spec.ActiveDeadline+spec.TTLAfterFinished, func() { c.removeTask(spec.Name) })
	t.mu.Unlock()

	c.lg.Info().
		Str("container_id", resp.ID).
		Str("task", spec.Name).
		Msg("execution container started")
	return nil
}

func (c *Client) TaskStatus(ctx context.Context, name string) (*task.Status, error) {
	inspect, err := c.cli.ContainerInspect(ctx, name)
	if err != nil {
		return nil, fmt.Errorf("docker inspect: %w", err)
	}
	var deadlineHit bool
	c.mu.Lock()
	t, ok := c.tasks[name]
	c.mu.Unlock()
	if ok {
		t.mu.Lock()
		deadlineHit = t.deadlineHit
		t.mu.Unlock()
	}
	var state *container.State
	if inspect.ContainerJSONBase != nil {
		state = inspect.State
	}
	st := containerStatus(state, deadlineHit)
	if st.Phase.Terminal() && ok {
		t.mu.Lock()
		if t.deadline != nil {
			t.deadline.Stop()
		}
		t.mu.Unlock()
	}
	return &st, nil
}

func containerStatus(state *container.State, deadlineHit bool) task.Status {
	if state == nil {
		return task.Status{Phase: task.PhasePending}
	}
	if state.Running || state.Restarting || state.Paused {
		return task.Status{Phase: task.PhaseRunning}
	}
	switch string(state.Status) {
	case "exited", "dead":
	default:
		return task.Status{Phase: task.PhasePending}
	}
	switch {
	case deadlineHit:
		return task.Status{Phase: task.PhaseFailed, Reason: reasonDeadline}
	case state.OOMKilled:
		return task.Status{Phase: task.PhaseFailed, Reason: reasonOOM}
	case state.ExitCode == 0:
		return task.Status{Phase: task.PhaseSucceeded}
	case state.Error != "":
		return task.Status{Phase: task.PhaseFailed, Reason: state.Error}
	default:
		return task.Status{Phase: task.PhaseFailed, Reason: fmt.Sprintf("Error: exit code %d", state.ExitCode)}
	}
}

// TaskOutput returns what the container wrote to stdout.
func (c *Client) TaskOutput(ctx context.Context, name string) (string, error) {
	rc, err := c.cli.ContainerLogs(ctx, name, container.LogsOptions{ShowStdout: true})
	if err != nil {
		return "", fmt.Errorf("docker logs: %w", err)
	}
	defer rc.Close()
	var stdout bytes.Buffer
	if _, err := stdcopy.StdCopy(&stdout, io.Discard, rc); err != nil {
		return "", fmt.Errorf("demux logs: %w", err)
	}
	return stdout.String(), nil
}

func (c *Client) removeTask(name string) {
	c.mu.Lock()
	t, ok := c.tasks[name]
	delete(c.tasks, name)
	c.mu.Unlock()
	if ok {
		t.stopTimers()
	}
	err := c.cli.ContainerRemove(context.Background(), name, container.RemoveOptions{Force: true, RemoveVolumes: true})
	if err != nil && !client.IsErrNotFound(err) {
		c.lg.Warn().Err(err).Str("container", name).Msg("failed to remove execution container")
	}
}
