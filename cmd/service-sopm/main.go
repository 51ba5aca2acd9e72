package main

import (
	"os"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"service-sopm/internal/config"

	_ "service-sopm/docs"
)

// @title           Serverless Job Platform API
// @version         1.0
// @description     Submit built-in and user function jobs, manage user functions and their image builds.
// @host            localhost:8080
// @BasePath        /
func main() {
	cfg := config.MustLoad()
	log := newLogger(cfg)

	root := &cobra.Command{
		Use:          "service-sopm",
		Short:        "Serverless job scheduler and sandboxed function runner",
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return serve(cmd.Context(), cfg, log)
		},
	}
	root.AddCommand(
		&cobra.Command{
			Use:   "serve",
			Short: "Run the HTTP API, both dispatchers and the build pipeline",
			RunE: func(cmd *cobra.Command, _ []string) error {
				return serve(cmd.Context(), cfg, log)
			},
		},
		&cobra.Command{
			Use:   "migrate",
			Short: "Create or update the database tables and exit",
			RunE: func(_ *cobra.Command, _ []string) error {
				return migrate(cfg, log)
			},
		},
	)

	if err := root.Execute(); err != nil {
		log.Error().Err(err).Msg("exit")
		os.Exit(1)
	}
}

func newLogger(cfg config.Config) zerolog.Logger {
	level, err := zerolog.ParseLevel(cfg.LogLevel)
	if err != nil || level == zerolog.NoLevel {
		level = zerolog.InfoLevel
	}
	return zerolog.New(os.Stdout).Level(level).With().Timestamp().
		Str("svc", "service-sopm").Logger()
}
