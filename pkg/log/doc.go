/*
Package log provides structured logging for cloner using zerolog.

A single global Logger is configured once by Init, normally from the
--log-level and --json-logs flags of the cloner binary. Components derive a
child logger when they are constructed and keep it for their lifetime:

	logger := log.WithComponent("supervisor")
	logger.Info().Int("pid", pid).Msg("Process started")

Domain helpers attach the fields that make cloner logs searchable:

	log.WithCluster("checkout")   // "cluster" field
	log.WithMonitor("lb-eu-1")    // "monitor" field
	log.WithPID(4242)             // "pid" field

They combine with zerolog's With to keep the component:

	log.WithPID(pid).With().Str("component", "supervisor").Logger()

# Output

With JSONOutput every entry is one JSON object per line, suitable for log
shippers. Otherwise a console writer with RFC 3339 timestamps is used. Output
defaults to stderr so that stdout stays free for command results.

# Levels

debug, info, warn and error map to the zerolog levels of the same name;
anything else falls back to info. The level is global, so Init should be
called before components are created. Captured stdout and stderr lines of
the supervised tool are logged at debug level only.
*/
package log
