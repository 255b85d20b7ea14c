// Package audit implements the operational audit log (component K): a
// write-only, observability-only SQLite trail of events (in this module
// only the gateway's trigger entries are recorded), kept strictly outside the discovery core's state of record so
// it never violates the "no filesystem persistence for discovery state"
// invariant (the core's only state of record is the F/G key-value
// store). Schema setup is ported directly from the teacher's initDB
// (gorm.Open(sqlite.Open(...)) + PRAGMA journal_mode=WAL +
// db.AutoMigrate); the async single-writer goroutine draining a buffered
// channel is grounded on the teacher's livePositionWriteCh/
// livePositionWriter pair, used there for the same reason (serialize
// writes to avoid SQLite lock contention).
package audit

import (
	"context"
	"log"
	"time"

	"github.com/glebarez/sqlite"
	"gorm.io/gorm"

	"github.com/flipper1994/discovery-engine/internal/errs"
)

// Entry is one row of the audit trail.
type Entry struct {
	ID         uint      `gorm:"primaryKey"`
	OccurredAt time.Time `gorm:"index"`
	Kind       string    `gorm:"index"` // trigger, job_finished, job_failed, lock_contended, universe_floor_breached
	Strategy   string    `gorm:"index"`
	JobID      string
	Detail     string
	Outcome    string
}

const writeQueueCapacity = 256

// Log is the async audit writer. A full or unavailable database degrades
// to a no-op rather than blocking the caller, per errs.KindAuditUnavailable
// being a non-fatal, observability-only error kind.
type Log struct {
	db       *gorm.DB
	writeCh  chan Entry
	disabled bool
}

// Open opens (creating if needed) the SQLite audit database at path,
// applies WAL mode, migrates the schema, and starts the single writer
// goroutine.
func Open(path string) (*Log, error) {
	db, err := gorm.Open(sqlite.Open(path), &gorm.Config{})
	if err != nil {
		return nil, errs.Wrap(errs.KindAuditUnavailable, "open audit db", err)
	}
	db.Exec("PRAGMA journal_mode=WAL")

	if err := db.AutoMigrate(&Entry{}); err != nil {
		return nil, errs.Wrap(errs.KindAuditUnavailable, "migrate audit db", err)
	}

	l := &Log{db: db, writeCh: make(chan Entry, writeQueueCapacity)}
	go l.writer()
	return l, nil
}

// Disabled returns a Log that accepts Record calls but writes nothing,
// used when AUDIT_DB_PATH cannot be opened at boot and the operator has
// chosen to run without an audit trail rather than fail the process.
func Disabled() *Log {
	return &Log{disabled: true}
}

func (l *Log) writer() {
	for e := range l.writeCh {
		if err := l.db.Create(&e).Error; err != nil {
			log.Printf("[audit] write failed: %v", err)
		}
	}
}

// Record enqueues an audit entry. Non-blocking: if the write queue is
// full, the entry is dropped and logged rather than backing up the
// caller's request path.
func (l *Log) Record(ctx context.Context, kind, strategy, jobID, detail, outcome string) {
	if l == nil || l.disabled {
		return
	}
	e := Entry{
		OccurredAt: time.Now(),
		Kind:       kind,
		Strategy:   strategy,
		JobID:      jobID,
		Detail:     detail,
		Outcome:    outcome,
	}
	select {
	case l.writeCh <- e:
	default:
		log.Printf("[audit] write queue full, dropping entry kind=%s strategy=%s", kind, strategy)
	}
}

// Recent returns the most recent limit entries, optionally filtered by
// strategy, newest first. The gateway registers no HTTP route that
// serves it.
func (l *Log) Recent(strategy string, limit int) ([]Entry, error) {
	if l == nil || l.disabled {
		return nil, nil
	}
	var entries []Entry
	q := l.db.Order("occurred_at desc").Limit(limit)
	if strategy != "" {
		q = q.Where("strategy = ?", strategy)
	}
	if err := q.Find(&entries).Error; err != nil {
		return nil, errs.Wrap(errs.KindAuditUnavailable, "read audit log", err)
	}
	return entries, nil
}
