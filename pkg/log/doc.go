/*
Package log provides structured logging for the restore engine using zerolog.

The log package wraps zerolog to give JSON-structured logging with
component-specific child loggers, configurable levels, and helper
functions for common patterns. All logs carry timestamps and can be
filtered by severity.

# Usage

	log.Init(log.Config{
		Level:      log.InfoLevel,
		JSONOutput: true,
		Output:     os.Stdout,
	})

	log.Info("node starting")

	restoreLog := log.WithComponent("restore")
	restoreLog.Info().
		Str("request_id", requestID).
		Str("snapshot", snapshotName).
		Msg("phase transition")

Context loggers:

  - WithComponent(name) tags logs with the emitting package (restore, stage, wal, cluster)
  - WithNodeID(id) tags logs with the local node identity
  - WithRequestID(id) tags logs with the in-flight restore attempt
  - WithGroupID(id) tags logs with the cache group being staged or replayed

# Design

A single package-level zerolog.Logger, initialized once via Init and
read concurrently by every component through With()-derived child
loggers. Debug level is verbose and development-only; Info is the
production default; Error always carries .Err(err) for the underlying
cause.
*/
package log
