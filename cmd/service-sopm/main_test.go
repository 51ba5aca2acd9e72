package main

import (
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"

	"service-sopm/internal/config"
	"service-sopm/internal/core/functions"
)

func TestNewLoggerLevel(t *testing.T) {
	assert.Equal(t, zerolog.DebugLevel, newLogger(config.Config{LogLevel: "debug"}).GetLevel())
	assert.Equal(t, zerolog.InfoLevel, newLogger(config.Config{LogLevel: "chatty"}).GetLevel())
	assert.Equal(t, zerolog.InfoLevel, newLogger(config.Config{}).GetLevel())
}

func TestBuilderRequest(t *testing.T) {
	req := builderRequest(functions.BuildRequest{
		FunctionID:    "f1",
		Runtime:       functions.RuntimeNode18,
		CodeReference: "functions/f1/code.js",
		Dependencies:  "lodash",
	})
	assert.Equal(t, "f1", req.FunctionID)
	assert.Equal(t, "node18", req.Runtime)
	assert.Equal(t, "functions/f1/code.js", req.CodeReference)
	assert.Equal(t, "lodash", req.Dependencies)
}
