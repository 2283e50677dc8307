// Package system carries the ambient process concerns every cmd/ entrypoint
// needs and none of the domain packages should own: structured logging
// setup and an ordered shutdown-hook registry. Grounded on the
// system.SetupLogging/system.NewCleanupManager call-site convention used by
// every helixml-helix cmd/helix/*.go entrypoint (the package body itself
// wasn't present in the retrieval pack, only its call sites, so this is
// reconstructed from how it's invoked: zero-arg setup, then a
// CleanupManager whose Cleanup(ctx) runs at the end via defer).
package system

import (
	"os"
	"strings"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// SetupLogging installs a console-pretty zerolog writer at a level read
// from LOG_LEVEL (default info), matching the teacher's
// cmd-entrypoint-calls-once convention.
func SetupLogging() {
	level := zerolog.InfoLevel
	if raw := strings.TrimSpace(os.Getenv("LOG_LEVEL")); raw != "" {
		if parsed, err := zerolog.ParseLevel(strings.ToLower(raw)); err == nil {
			level = parsed
		}
	}
	zerolog.SetGlobalLevel(level)

	writer := zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: "15:04:05"}
	log.Logger = zerolog.New(writer).With().Timestamp().Logger()
}
