package docker

import (
	"archive/tar"
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"sort"
	"sync"
	"time"

	"github.com/docker/docker/api/types/build"
	"github.com/docker/docker/api/types/image"
	"github.com/docker/docker/pkg/jsonmessage"

	"service-sopm/internal/core/builder"
	"service-sopm/internal/core/task"
)

var errBuildNotFound = errors.New("build not found")

// localBuild tracks one image build running in the background. It doubles
// as the writer the daemon's progress stream is rendered into.
type localBuild struct {
	cancel context.CancelFunc

	mu     sync.Mutex
	status task.Status
	logs   bytes.Buffer
	expire *time.Timer
}

func (b *localBuild) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.logs.Write(p)
}

func (b *localBuild) snapshot() (task.Status, string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.status, b.logs.String()
}

func (b *localBuild) setStatus(st task.Status) {
	b.mu.Lock()
	b.status = st
	b.mu.Unlock()
}

// CreateBuild fetches the source, packs it with the rendered files into a
// build context and starts building and pushing the image in the background.
func (c *Client) CreateBuild(ctx context.Context, spec builder.Spec) error {
	source, err := c.sources.Get(ctx, spec.SourceRef)
	if err != nil {
		return fmt.Errorf("fetch source %s: %w", spec.SourceRef, err)
	}
	files := make(map[string]string, len(spec.Files)+1)
	for name, body := range spec.Files {
		files[name] = body
	}
	files[spec.SourceFile] = string(source)

	tarball, err := buildContext(files)
	if err != nil {
		return fmt.Errorf("pack build context: %w", err)
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.builds[spec.Name]; ok {
		return fmt.Errorf("build %s already exists", spec.Name)
	}
	bctx, cancel := context.WithCancel(context.Background())
	b := &localBuild{cancel: cancel, status: task.Status{Phase: task.PhaseRunning}}
	c.builds[spec.Name] = b

	go c.runBuild(bctx, spec, tarball, b)

	c.lg.Info().Str("build", spec.Name).Str("image", spec.Image).Msg("local build started")
	return nil
}

func (c *Client) runBuild(ctx context.Context, spec builder.Spec, tarball io.Reader, b *localBuild) {
	lg := c.lg.With().Str("build", spec.Name).Logger()

	err := c.buildAndPush(ctx, spec, tarball, b)
	switch {
	case err == nil:
		b.setStatus(task.Status{Phase: task.PhaseSucceeded})
		lg.Info().Str("image", spec.Image).Msg("image built and pushed")
	case ctx.Err() != nil:
		lg.Debug().Msg("local build cancelled")
		return
	default:
		b.setStatus(task.Status{Phase: task.PhaseFailed, Reason: err.Error()})
		lg.Warn().Err(err).Msg("local build failed")
	}

	b.mu.Lock()
	b.expire = time.AfterFunc(spec.TTL, func() { c.forgetBuild(spec.Name, b) })
	b.mu.Unlock()
}

func (c *Client) buildAndPush(ctx context.Context, spec builder.Spec, tarball io.Reader, b *localBuild) error {
	resp, err := c.cli.ImageBuild(ctx, tarball, build.ImageBuildOptions{
		Tags:        []string{spec.Image},
		Dockerfile:  "Dockerfile",
		Remove:      true,
		ForceRemove: true,
		PullParent:  true,
		Labels:      map[string]string{"function-id": spec.FunctionID},
	})
	if err != nil {
		return fmt.Errorf("image build: %w", err)
	}
	defer resp.Body.Close()
	if err := jsonmessage.DisplayJSONMessagesStream(resp.Body, b, 0, false, nil); err != nil {
		return err
	}

	rc, err := c.cli.ImagePush(ctx, spec.Image, image.PushOptions{RegistryAuth: c.authHeader})
	if err != nil {
		return fmt.Errorf("image push: %w", err)
	}
	defer rc.Close()
	return jsonmessage.DisplayJSONMessagesStream(rc, b, 0, false, nil)
}

func (c *Client) forgetBuild(name string, b *localBuild) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.builds[name] == b {
		delete(c.builds, name)
	}
}

// DeleteBuild cancels a running build and forgets it. The context lives in
// memory only, so contextName has nothing to clean up here.
func (c *Client) DeleteBuild(_ context.Context, name, _ string) error {
	c.mu.Lock()
	b, ok := c.builds[name]
	delete(c.builds, name)
	c.mu.Unlock()
	if !ok {
		return nil
	}
	b.cancel()
	b.mu.Lock()
	if b.expire != nil {
		b.expire.Stop()
	}
	b.mu.Unlock()
	return nil
}

func (c *Client) lookupBuild(name string) (*localBuild, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	b, ok := c.builds[name]
	if !ok {
		return nil, fmt.Errorf("%w: %s", errBuildNotFound, name)
	}
	return b, nil
}

func (c *Client) BuildStatus(_ context.Context, name string) (*task.Status, error) {
	b, err := c.lookupBuild(name)
	if err != nil {
		return nil, err
	}
	st, _ := b.snapshot()
	return &st, nil
}

func (c *Client) BuildLogs(_ context.Context, name string, tailBytes int) (string, error) {
	b, err := c.lookupBuild(name)
	if err != nil {
		return "", err
	}
	_, logs := b.snapshot()
	return builder.Tail(logs, tailBytes), nil
}

// buildContext packs files into an uncompressed tar stream in name order.
func buildContext(files map[string]string) (*bytes.Buffer, error) {
	names := make([]string, 0, len(files))
	for name := range files {
		names = append(names, name)
	}
	sort.Strings(names)

	var buf bytes.Buffer
	tw := tar.NewWriter(&buf)
	for _, name := range names {
		body := files[name]
		hdr := &tar.Header{
			Name:     name,
			Mode:     0o644,
			Size:     int64(len(body)),
			Typeflag: tar.TypeReg,
		}
		if err := tw.WriteHeader(hdr); err != nil {
			return nil, err
		}
		if _, err := io.WriteString(tw, body); err != nil {
			return nil, err
		}
	}
	if err := tw.Close(); err != nil {
		return nil, err
	}
	return &buf, nil
}
