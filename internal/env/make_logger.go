package env

import (
	"fmt"

	zap "go.uber.org/zap"
)

// MakeLogger builds the production JSON logger at the named level, one of
// debug, info, warn or error. An empty level means info.
func MakeLogger(level string) (*zap.Logger, error) {
	atomicLevel := zap.NewAtomicLevelAt(zap.InfoLevel)

	if level != "" {
		if err := atomicLevel.UnmarshalText([]byte(level)); err != nil {
			return nil, fmt.Errorf("invalid log level %q: %w", level, err)
		}
	}

	logConfig := zap.NewProductionConfig()
	logConfig.Level = atomicLevel
	logConfig.Encoding = "json"

	return logConfig.Build()
}
