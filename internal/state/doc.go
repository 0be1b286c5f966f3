// Package state holds the mutable objects shared between the agent's
// background loops.
//
// Each structure owns exactly one lock and none of them call into another
// while holding it, so the loops can read and write them in any order:
//
//   - ConfigStore: read-mostly configuration behind a sync.RWMutex. The only
//     runtime writer is the API token refresh, which never replaces a token
//     with one issued earlier.
//   - PrinterSet: the printers found by the last discovery pass, replaced
//     wholesale by the directory synchronizer and read by the job tracker.
//   - Registry: the in-flight print jobs, one mutex for the whole set.
//     Readers take a Snapshot and work on the copy so no lock is held
//     across spooler or network calls.
package state
