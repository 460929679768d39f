package sundaegql

import (
	"os"

	sundaecli "github.com/SundaeSwap-finance/sundae-gqlws/sundae-cli"
	sundaews "github.com/SundaeSwap-finance/sundae-gqlws/sundae-ws"
	"github.com/rs/zerolog"
)

type BaseConfig struct {
	Logger  zerolog.Logger
	Service sundaecli.Service

	// Metrics receives websocket connection and operation metrics, if set.
	Metrics sundaews.Metrics
}

func NewConfig(service sundaecli.Service) BaseConfig {
	return BaseConfig{
		Logger: zerolog.New(os.Stdout).With().
			Str("service", service.Name).
			Str("version", service.Version).
			Logger(),
		Service: service,
	}
}
