// Package logging configures the station's log/slog output.
//
// Every entry carries service=intercom and the build version. cmd/intercom
// adds the station ID, and each component adds its own "component" field:
//
//	log := logging.New(cfg.Logging, version).With("station", cfg.Station.ID)
//	reg := log.With("component", "register")
//
// Output is stdout, stderr, a lumberjack-rotated file, or stdout plus the
// file ("both"). SIP passwords, HA1 hashes and JWT secrets are never logged.
package logging
