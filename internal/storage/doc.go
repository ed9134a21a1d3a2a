// Package storage persists the bot's state in a single SQLite file.
//
// It holds:
//   - Recipient rows (one per user who ever requested to join)
//   - Deferred admission tasks (welcome / final approval), so the
//     welcome and approval timers survive process restarts
package storage
