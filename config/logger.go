package config

import (
	"fmt"

	"go.uber.org/zap"
)

// NewLogger builds the process logger and installs it globally so
// library-level code can use zap.L().
func NewLogger() (*zap.Logger, error) {
	log, err := zap.NewProduction()
	if err != nil {
		return nil, fmt.Errorf("build logger: %w", err)
	}
	zap.ReplaceGlobals(log)
	return log, nil
}
