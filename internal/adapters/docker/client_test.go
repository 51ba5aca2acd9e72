package docker

import (
	"archive/tar"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"io"
	"testing"

	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/api/types/registry"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"service-sopm/internal/config"
	"service-sopm/internal/core/task"
)

func TestContainerStatus(t *testing.T) {
	tests := []struct {
		name     string
		state    *container.State
		deadline bool
		want     task.Status
	}{
		{"no state", nil, false, task.Status{Phase: task.PhasePending}},
		{"created", &container.State{Status: "created"}, false, task.Status{Phase: task.PhasePending}},
		{"running", &container.State{Status: "running", Running: true}, false, task.Status{Phase: task.PhaseRunning}},
		{"clean exit", &container.State{Status: "exited"}, false, task.Status{Phase: task.PhaseSucceeded}},
		{"non-zero exit", &container.State{Status: "exited", ExitCode: 3}, false,
			task.Status{Phase: task.PhaseFailed, Reason: "Error: exit code 3"}},
		{"oom", &container.State{Status: "exited", ExitCode: 137, OOMKilled: true}, false,
			task.Status{Phase: task.PhaseFailed, Reason: reasonOOM}},
		{"killed at deadline", &container.State{Status: "exited", ExitCode: 137}, true,
			task.Status{Phase: task.PhaseFailed, Reason: reasonDeadline}},
		{"daemon error", &container.State{Status: "dead", ExitCode: 128, Error: "mount failed"}, false,
			task.Status{Phase: task.PhaseFailed, Reason: "mount failed"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, containerStatus(tt.state, tt.deadline))
		})
	}
}

func TestBuildContext(t *testing.T) {
	files := map[string]string{
		"Dockerfile":       "FROM python:3.11-slim\n",
		"function.py":      "print('hi')\n",
		"requirements.txt": "# No dependencies",
	}
	buf, err := buildContext(files)
	require.NoError(t, err)

	tr := tar.NewReader(buf)
	var names []string
	for {
		hdr, err := tr.Next()
		if errors.Is(err, io.EOF) {
			break
		}
		require.NoError(t, err)
		body, err := io.ReadAll(tr)
		require.NoError(t, err)
		assert.Equal(t, files[hdr.Name], string(body))
		assert.Equal(t, int64(0o644), hdr.Mode)
		names = append(names, hdr.Name)
	}
	assert.Equal(t, []string{"Dockerfile", "function.py", "requirements.txt"}, names)
}

func TestEncodeAuth(t *testing.T) {
	decode := func(s string) registry.AuthConfig {
		raw, err := base64.URLEncoding.DecodeString(s)
		require.NoError(t, err)
		var auth registry.AuthConfig
		require.NoError(t, json.Unmarshal(raw, &auth))
		return auth
	}

	anon, err := encodeAuth(config.Config{RegistryURL: "localhost:5000"})
	require.NoError(t, err)
	assert.Equal(t, registry.AuthConfig{}, decode(anon))

	withCreds, err := encodeAuth(config.Config{RegistryURL: "registry.local", RegistryUser: "u", RegistryPass: "p"})
	require.NoError(t, err)
	assert.Equal(t, registry.AuthConfig{Username: "u", Password: "p", ServerAddress: "registry.local"}, decode(withCreds))
}

func TestLocalBuildBookkeeping(t *testing.T) {
	c := &Client{lg: zerolog.Nop(), builds: map[string]*localBuild{}, tasks: map[string]*localTask{}}
	ctx := context.Background()

	_, err := c.BuildStatus(ctx, "build-f1")
	assert.ErrorIs(t, err, errBuildNotFound)

	cancelled := false
	b := &localBuild{cancel: func() { cancelled = true }, status: task.Status{Phase: task.PhaseRunning}}
	c.builds["build-f1"] = b
	_, _ = b.Write([]byte("Step 1/6 : FROM python:3.11-slim\nerror: boom"))

	st, err := c.BuildStatus(ctx, "build-f1")
	require.NoError(t, err)
	assert.Equal(t, task.PhaseRunning, st.Phase)

	logs, err := c.BuildLogs(ctx, "build-f1", 11)
	require.NoError(t, err)
	assert.Equal(t, "error: boom", logs)

	require.NoError(t, c.DeleteBuild(ctx, "build-f1", "build-context-f1"))
	assert.True(t, cancelled)
	_, err = c.BuildStatus(ctx, "build-f1")
	assert.ErrorIs(t, err, errBuildNotFound)

	assert.NoError(t, c.DeleteBuild(ctx, "build-f1", "build-context-f1"))
}
