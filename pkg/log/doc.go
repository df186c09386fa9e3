/*
Package log provides structured logging using zerolog.

The package wraps zerolog behind a global logger initialized once via
log.Init, with console output for interactive use and JSON output for
automation (a reconciliation run driven from CI wants machine-readable
logs on stderr while the diff report goes to stdout).

# Usage

Initializing the logger:

	log.Init(log.Config{
		Level:      log.InfoLevel,
		JSONOutput: false,
	})

Component loggers:

	clientLog := log.WithComponent("client")
	clientLog.Debug().
		Str("method", "GET").
		Str("path", "/rest/api/latest/agent/").
		Msg("request")

Context helpers:

	agentLog := log.WithAgentID(119734282)
	agentLog.Info().Msg("agent authenticated")

Logs go to stderr by default so that stdout stays reserved for the
change report and check-mode diff output.
*/
package log
