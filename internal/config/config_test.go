package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fxnlabs/gpurt/fixtures"
	"github.com/fxnlabs/gpurt/internal/runtime"
)

func TestLoadConfig(t *testing.T) {
	t.Run("valid config", func(t *testing.T) {
		config, err := LoadConfig("../../fixtures/tests/config/valid_config.yaml")
		require.NoError(t, err)
		require.NotNil(t, config)

		assert.Equal(t, "debug", config.Logger.Verbosity)
		assert.Equal(t, "127.0.0.1:9500", config.Metrics.ListenAddress)
		// keys missing from the file keep their defaults
		assert.Equal(t, 5*time.Second, config.Metrics.ShutdownTimeout)
		assert.True(t, config.Runtime.UseUnifiedSharedMemory)

		engine, err := config.EngineType()
		require.NoError(t, err)
		assert.Equal(t, runtime.EngineSYCL, engine)

		cfg, err := config.EngineConfiguration()
		require.NoError(t, err)
		assert.Equal(t, runtime.EngineConfiguration{
			Runtime:                runtime.RuntimeLevelZero,
			QueueType:              runtime.QueueInOrder,
			EnableProfiling:        true,
			UseMemoryPool:          false,
			UseUnifiedSharedMemory: true,
			PriorityMode:           runtime.PriorityHigh,
			ThrottleMode:           runtime.ThrottleLow,
			ThreadsPerQueue:        2,
		}, cfg)
	})

	t.Run("non-existent file", func(t *testing.T) {
		config, err := LoadConfig("non-existent-file.yaml")
		assert.Error(t, err)
		assert.Nil(t, config)
	})

	t.Run("invalid yaml", func(t *testing.T) {
		configPath := filepath.Join(t.TempDir(), "config.yaml")
		require.NoError(t, os.WriteFile(configPath, []byte("runtime: [unclosed"), 0644))

		config, err := LoadConfig(configPath)
		assert.Error(t, err)
		assert.Nil(t, config)
	})

	t.Run("unknown enum value", func(t *testing.T) {
		config, err := LoadConfig("../../fixtures/tests/config/invalid_queue_type.yaml")
		assert.ErrorIs(t, err, runtime.ErrInvalidArgument)
		assert.ErrorContains(t, err, "runtime.queueType")
		assert.Nil(t, config)
	})
}

func TestTemplateMatchesDefaults(t *testing.T) {
	config, err := Parse(fixtures.ConfigTemplate)
	require.NoError(t, err)
	assert.Equal(t, Default(), config)

	cfg, err := config.EngineConfiguration()
	require.NoError(t, err)
	assert.Equal(t, runtime.DefaultEngineConfiguration(), cfg)
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		modify func(*Config)
		field  string
	}{
		{"engine", func(c *Config) { c.Runtime.Engine = "cuda" }, "runtime.engine"},
		{"runtime", func(c *Config) { c.Runtime.Runtime = "vulkan" }, "runtime.runtime"},
		{"priority", func(c *Config) { c.Runtime.Priority = "urgent" }, "runtime.priority"},
		{"throttle", func(c *Config) { c.Runtime.Throttle = "" }, "runtime.throttle"},
		{"threads", func(c *Config) { c.Runtime.ThreadsPerQueue = -1 }, "runtime.threadsPerQueue"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			config := Default()
			tt.modify(config)
			err := config.Validate()
			assert.ErrorIs(t, err, runtime.ErrInvalidArgument)
			assert.ErrorContains(t, err, tt.field)
		})
	}
	assert.NoError(t, Default().Validate())
}
