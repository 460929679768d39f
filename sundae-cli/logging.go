package sundaecli

import (
	"os"

	"github.com/rs/zerolog"
)

var LogLevelFlag = StringFlag("log-level", "Minimum level to log: trace, debug, info, warn or error", &CommonOpts.LogLevel, "info")

// Logger builds the service's root logger at the level set by --log-level.
func Logger(service Service) zerolog.Logger {
	logger := zerolog.New(os.Stdout).With().
		Timestamp().
		Str("service", service.Name).
		Str("version", service.Version).
		Logger()

	if level, err := zerolog.ParseLevel(CommonOpts.LogLevel); err == nil && CommonOpts.LogLevel != "" {
		logger = logger.Level(level)
	}
	return logger
}
