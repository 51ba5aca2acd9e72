// Package docker runs builds and sandboxed executions against a local Docker
// daemon, for development without a cluster.
package docker

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"sync"

	"github.com/docker/docker/api/types/image"
	"github.com/docker/docker/api/types/registry"
	"github.com/docker/docker/client"
	"github.com/rs/zerolog"

	"service-sopm/internal/config"
)

// Sources reads submitted function source.
type Sources interface {
	Get(ctx context.Context, ref string) ([]byte, error)
}

type Client struct {
	cli        *client.Client
	lg         zerolog.Logger
	cfg        config.Config
	sources    Sources
	authHeader string

	mu     sync.Mutex
	builds map[string]*localBuild
	tasks  map[string]*localTask
}

func New(cfg config.Config, sources Sources, lg zerolog.Logger) (*Client, error) {
	cli, err := client.NewClientWithOpts(client.FromEnv, client.WithAPIVersionNegotiation())
	if err != nil {
		return nil, err
	}

	c := &Client{
		cli:     cli,
		cfg:     cfg,
		sources: sources,
		lg:      lg.With().Str("adapter", "docker").Logger(),
		builds:  make(map[string]*localBuild),
		tasks:   make(map[string]*localTask),
	}

	auth, err := encodeAuth(cfg)
	if err != nil {
		return nil, err
	}
	c.authHeader = auth
	if cfg.RegistryUser != "" {
		c.lg.Info().Str("registry", cfg.RegistryURL).Msg("configured registry authentication")
	}
	return c, nil
}

// encodeAuth builds the X-Registry-Auth value. The daemon rejects pushes
// without the header, so anonymous access still sends an empty object.
func encodeAuth(cfg config.Config) (string, error) {
	auth := registry.AuthConfig{}
	if cfg.RegistryUser != "" && cfg.RegistryPass != "" {
		auth = registry.AuthConfig{
			Username:      cfg.RegistryUser,
			Password:      cfg.RegistryPass,
			ServerAddress: cfg.RegistryURL,
		}
	}
	encodedJSON, err := json.Marshal(auth)
	if err != nil {
		return "", fmt.Errorf("marshal auth config: %w", err)
	}
	return base64.URLEncoding.EncodeToString(encodedJSON), nil
}

func (c *Client) Ping(ctx context.Context) error {
	_, err := c.cli.Ping(ctx)
	return err
}

func (c *Client) Close() error {
	c.mu.Lock()
	for _, b := range c.builds {
		b.cancel()
	}
	for _, t := range c.tasks {
		t.stopTimers()
	}
	c.mu.Unlock()
	return c.cli.Close()
}

func (c *Client) ensureImage(ctx context.Context, img string) error {
	_, _, err := c.cli.ImageInspectWithRaw(ctx, img)
	if err == nil {
		return nil
	}
	if !client.IsErrNotFound(err) {
		return fmt.Errorf("image inspect: %w", err)
	}

	c.lg.Info().Str("image", img).Msg("pulling image from registry")
	rc, err := c.cli.ImagePull(ctx, img, image.PullOptions{RegistryAuth: c.authHeader})
	if err != nil {
		return fmt.Errorf("image pull: %w", err)
	}
	defer rc.Close()
	_, _ = io.Copy(io.Discard, rc)

	return nil
}
