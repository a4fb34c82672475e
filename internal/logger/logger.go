package logger

import (
	"fmt"

	"go.uber.org/zap"
)

// New builds a production logger at the given level. encoding is "json"
// or "console"; empty means json.
func New(verbosity, encoding string) (*zap.Logger, error) {
	config := zap.NewProductionConfig()
	level, err := zap.ParseAtomicLevel(verbosity)
	if err != nil {
		return nil, err
	}
	config.Level = level
	switch encoding {
	case "", "json":
	case "console":
		config.Encoding = "console"
		config.Sampling = nil
	default:
		return nil, fmt.Errorf("unknown log encoding %q", encoding)
	}
	return config.Build()
}
