// Package journal keeps a durable record of recorder command traffic.
//
// Every command the session sends, every command that fails or is dropped,
// local precondition refusals and connection transitions are written to
// the command_journal table. Operators read it back through the HTTP API
// when reconstructing what happened during a show.
//
// Writes go through Writer, which queues entries on a buffered channel and
// inserts them from a single goroutine so the session never waits on
// SQLite. When the queue is full new entries are dropped with a warning.
//
// Usage:
//
//	repo := journal.NewSQLiteRepository(db.DB)
//	w := journal.NewWriter(repo, journal.WriterOptions{Logger: log})
//	defer w.Close()
//
//	w.Record(journal.KindSent, "play: 1", "")
package journal
