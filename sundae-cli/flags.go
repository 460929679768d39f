package sundaecli

import (
	"strings"
	"time"

	"github.com/urfave/cli/v2"
)

var CommonOpts struct {
	Console  bool
	Dry      bool
	Env      string
	Network  string
	Port     int
	LogLevel string
}

var ConsoleFlag = cli.BoolFlag{
	Name:        "console",
	Usage:       "whether to run in console mode or lambda mode",
	Value:       false,
	EnvVars:     []string{"CONSOLE"},
	Destination: &CommonOpts.Console,
}
var DryFlag = cli.BoolFlag{
	Name:        "dry",
	Usage:       "whether to actually persist any records or not",
	Value:       false,
	EnvVars:     []string{"DRY"},
	Destination: &CommonOpts.Dry,
}
var EnvFlag = cli.StringFlag{
	Name:        "env",
	Usage:       "environment",
	Value:       "local",
	EnvVars:     []string{"ENV"},
	Destination: &CommonOpts.Env,
}
var NetworkFlag = cli.StringFlag{
	Name:        "network",
	Usage:       "network the service runs against; defaults to env",
	EnvVars:     []string{"NETWORK"},
	Destination: &CommonOpts.Network,
}
var PortFlag = func(p int) *cli.IntFlag {
	return &cli.IntFlag{
		Name:        "port",
		Usage:       "Port to listen to, if running locally",
		Value:       p,
		EnvVars:     []string{"PORT"},
		Destination: &CommonOpts.Port,
	}
}

var CommonFlags = []cli.Flag{
	&ConsoleFlag,
	&DryFlag,
	&EnvFlag,
	&NetworkFlag,
	LogLevelFlag,
}

// envVar maps a flag name like "max-in-flight" to MAX_IN_FLIGHT.
func envVar(name string) string {
	return strings.ToUpper(strings.ReplaceAll(name, "-", "_"))
}

func StringFlag(name, usage string, destination *string, value ...string) *cli.StringFlag {
	flag := &cli.StringFlag{
		Name:        name,
		Usage:       usage,
		EnvVars:     []string{envVar(name)},
		Destination: destination,
	}
	if len(value) > 0 {
		flag.Value = value[0]
	}
	return flag
}

func BoolFlag(name, usage string, destination *bool) *cli.BoolFlag {
	return &cli.BoolFlag{
		Name:        name,
		Usage:       usage,
		EnvVars:     []string{envVar(name)},
		Destination: destination,
	}
}

func IntFlag(name, usage string, destination *int, value int) *cli.IntFlag {
	return &cli.IntFlag{
		Name:        name,
		Usage:       usage,
		Value:       value,
		EnvVars:     []string{envVar(name)},
		Destination: destination,
	}
}

func DurationFlag(name, usage string, destination *time.Duration, value time.Duration) *cli.DurationFlag {
	return &cli.DurationFlag{
		Name:        name,
		Usage:       usage,
		Value:       value,
		EnvVars:     []string{envVar(name)},
		Destination: destination,
	}
}
