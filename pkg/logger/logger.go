package logger

import (
	"github.com/cozy-creator/genjobs/internal/config"

	"go.uber.org/zap"
)

func NewLogger(cfg *config.Config) (*zap.Logger, error) {
	return ForEnvironment(cfg.Environment)
}

// ForEnvironment picks the zap preset for env: prod logs JSON at info level,
// test uses the example logger and everything else logs for development.
func ForEnvironment(env string) (*zap.Logger, error) {
	switch env {
	case "prod", "production":
		return zap.NewProduction()
	case "test":
		return zap.NewExample(), nil
	default:
		return zap.NewDevelopment()
	}
}

func MustNewLogger(cfg *config.Config) *zap.Logger {
	return zap.Must(NewLogger(cfg))
}
