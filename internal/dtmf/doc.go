// Package dtmf classifies in-call tones into station commands.
//
// The Router holds an ordered table of at most MaxMappings entries. Route
// returns the command of the first enabled entry whose tone matches, or
// CommandNone when nothing matches or routing is switched off. The router
// never executes anything; the actuation bridge does.
//
// # Atomic replacement
//
// Configure validates a whole table before swapping it in. One bad entry
// rejects the batch and the previous table keeps routing.
//
// # Execution slot
//
// TryAcquire/Release implement a single in-flight flag so at most one
// routed command executes at a time. A tone arriving while a command is
// still running is rejected with ErrBusy rather than queued.
//
// # Persistence
//
// SQLiteRepository stores the table in the dtmf_mappings table so an
// operator's configuration survives restarts.
package dtmf
