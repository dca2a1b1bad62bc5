package rii

import (
	"os"
	"strings"

	"github.com/rs/zerolog"
)

// logger is the package-level structured logger. Engines derive a leveled
// child from it depending on their Verbose setting.
var logger = zerolog.New(os.Stderr).With().Timestamp().Str("component", "rii").Logger()

// init sets the global logging level from the RII_LOG environment variable.
func init() {
	switch strings.TrimSpace(strings.ToLower(os.Getenv("RII_LOG"))) {
	case "0", "off", "false":
		zerolog.SetGlobalLevel(zerolog.Disabled)
	case "full", "all":
		zerolog.SetGlobalLevel(zerolog.DebugLevel)
		logger = logger.Output(zerolog.ConsoleWriter{Out: os.Stderr})
	default:
		zerolog.SetGlobalLevel(zerolog.DebugLevel)
	}
}
