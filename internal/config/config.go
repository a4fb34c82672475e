package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/fxnlabs/gpurt/internal/runtime"
)

// DefaultPath is the configuration file read when none is given.
const DefaultPath = "config.yaml"

type Config struct {
	Logger  LoggerConfig  `yaml:"logger"`
	Runtime RuntimeConfig `yaml:"runtime"`
	Metrics MetricsConfig `yaml:"metrics"`
}

type LoggerConfig struct {
	Verbosity string `yaml:"verbosity"`
	Encoding  string `yaml:"encoding"`
}

// RuntimeConfig selects the backend and the engine configuration. Enum
// values use the names printed by the runtime package. An empty Device
// picks the first device the backend reports.
type RuntimeConfig struct {
	Engine                 string `yaml:"engine"`
	Device                 string `yaml:"device"`
	Runtime                string `yaml:"runtime"`
	QueueType              string `yaml:"queueType"`
	Profiling              bool   `yaml:"profiling"`
	UseMemoryPool          bool   `yaml:"useMemoryPool"`
	UseUnifiedSharedMemory bool   `yaml:"useUnifiedSharedMemory"`
	Priority               string `yaml:"priority"`
	Throttle               string `yaml:"throttle"`
	ThreadsPerQueue        int    `yaml:"threadsPerQueue"`
}

type MetricsConfig struct {
	ListenAddress   string        `yaml:"listenAddress"`
	ShutdownTimeout time.Duration `yaml:"shutdownTimeout"`
}

// Default returns the configuration used for keys missing from a file.
func Default() *Config {
	return &Config{
		Logger: LoggerConfig{Verbosity: "info", Encoding: "json"},
		Runtime: RuntimeConfig{
			Engine:                 "ocl",
			Runtime:                "ocl",
			QueueType:              "out_of_order",
			UseMemoryPool:          true,
			UseUnifiedSharedMemory: true,
			Priority:               "disabled",
			Throttle:               "disabled",
		},
		Metrics: MetricsConfig{
			ListenAddress:   ":9464",
			ShutdownTimeout: 5 * time.Second,
		},
	}
}

func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return Parse(data)
}

// Parse decodes a YAML document over the defaults and validates it.
func Parse(data []byte) (*Config, error) {
	config := Default()
	if err := yaml.Unmarshal(data, config); err != nil {
		return nil, err
	}
	if err := config.Validate(); err != nil {
		return nil, err
	}
	return config, nil
}

// Validate checks the enum values of the runtime section.
func (c *Config) Validate() error {
	if _, err := c.EngineType(); err != nil {
		return fmt.Errorf("runtime.engine: %w", err)
	}
	if _, err := c.EngineConfiguration(); err != nil {
		return err
	}
	if c.Runtime.ThreadsPerQueue < 0 {
		return fmt.Errorf("runtime.threadsPerQueue: %w: %d", runtime.ErrInvalidArgument, c.Runtime.ThreadsPerQueue)
	}
	return nil
}

// EngineType is the configured backend.
func (c *Config) EngineType() (runtime.EngineType, error) {
	return runtime.ParseEngineType(c.Runtime.Engine)
}

// EngineConfiguration converts the runtime section.
func (c *Config) EngineConfiguration() (runtime.EngineConfiguration, error) {
	r := c.Runtime
	rt, err := runtime.ParseRuntimeType(r.Runtime)
	if err != nil {
		return runtime.EngineConfiguration{}, fmt.Errorf("runtime.runtime: %w", err)
	}
	qt, err := runtime.ParseQueueType(r.QueueType)
	if err != nil {
		return runtime.EngineConfiguration{}, fmt.Errorf("runtime.queueType: %w", err)
	}
	priority, err := runtime.ParsePriorityMode(r.Priority)
	if err != nil {
		return runtime.EngineConfiguration{}, fmt.Errorf("runtime.priority: %w", err)
	}
	throttle, err := runtime.ParseThrottleMode(r.Throttle)
	if err != nil {
		return runtime.EngineConfiguration{}, fmt.Errorf("runtime.throttle: %w", err)
	}
	return runtime.EngineConfiguration{
		Runtime:                rt,
		QueueType:              qt,
		EnableProfiling:        r.Profiling,
		UseMemoryPool:          r.UseMemoryPool,
		UseUnifiedSharedMemory: r.UseUnifiedSharedMemory,
		PriorityMode:           priority,
		ThrottleMode:           throttle,
		ThreadsPerQueue:        r.ThreadsPerQueue,
	}, nil
}
