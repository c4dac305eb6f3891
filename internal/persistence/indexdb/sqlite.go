// Package indexdb maintains a queryable sqlite index of the audit stream.
// The JSONL logs remain the source of truth; this index exists for the
// read API and ad-hoc inspection.
package indexdb

import (
	"context"
	"database/sql"
	"encoding/json"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"github.com/pkg/errors"
	_ "modernc.org/sqlite"

	"herovault.gg/internal/core/game"
)

type SQLiteIndex struct {
	db *sql.DB

	ch    chan game.AuditEntry
	flush chan chan struct{}
	wg    sync.WaitGroup
	once  sync.Once

	closed atomic.Bool
}

func OpenSQLite(path string) (*SQLiteIndex, error) {
	if path == "" {
		return nil, errors.New("empty db path")
	}

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, errors.Wrap(err, "mkdir")
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, errors.Wrap(err, "open sqlite")
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	if err := initPragmas(db); err != nil {
		_ = db.Close()
		return nil, errors.Wrap(err, "pragmas")
	}
	if err := initSchema(db); err != nil {
		_ = db.Close()
		return nil, errors.Wrap(err, "schema")
	}

	s := &SQLiteIndex{
		db: db,
		// High buffer: bursty op streams must not stall the game loop.
		ch:    make(chan game.AuditEntry, 65536),
		flush: make(chan chan struct{}),
	}
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.loop()
	}()
	return s, nil
}

func initPragmas(db *sql.DB) error {
	// WAL is much faster for append-style workloads.
	// NORMAL is a decent durability/perf tradeoff for a secondary index.
	pragmas := []string{
		"PRAGMA journal_mode=WAL;",
		"PRAGMA synchronous=NORMAL;",
		"PRAGMA busy_timeout=5000;",
		"PRAGMA temp_store=MEMORY;",
	}
	for _, p := range pragmas {
		if _, err := db.Exec(p); err != nil {
			return err
		}
	}
	return nil
}

func initSchema(db *sql.DB) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS meta (
			key TEXT PRIMARY KEY,
			value TEXT NOT NULL
		);`,
		`CREATE TABLE IF NOT EXISTS audits (
			seq INTEGER PRIMARY KEY,
			at TEXT NOT NULL,
			op TEXT NOT NULL,
			caller TEXT NOT NULL,
			ref TEXT,
			ok INTEGER NOT NULL,
			code TEXT,
			message TEXT,
			raw_json TEXT NOT NULL
		);`,
		`CREATE INDEX IF NOT EXISTS idx_audits_caller_seq ON audits(caller, seq);`,
		`CREATE INDEX IF NOT EXISTS idx_audits_op_seq ON audits(op, seq);`,
		`INSERT OR REPLACE INTO meta(key,value) VALUES('schema_version','1');`,
	}
	for _, s := range stmts {
		if _, err := db.Exec(s); err != nil {
			return err
		}
	}
	return nil
}

func (s *SQLiteIndex) Close() error {
	var err error
	s.once.Do(func() {
		s.closed.Store(true)
		close(s.ch)
		s.wg.Wait()
		err = s.db.Close()
	})
	return err
}

// WriteAudit queues an entry for the writer goroutine. Entries are dropped
// rather than blocking when the indexer falls behind.
func (s *SQLiteIndex) WriteAudit(entry game.AuditEntry) error {
	if s == nil || s.closed.Load() {
		return nil
	}
	select {
	case s.ch <- entry:
	default:
	}
	return nil
}

// Flush blocks until every entry queued before the call is committed.
func (s *SQLiteIndex) Flush() {
	if s == nil || s.closed.Load() {
		return
	}
	done := make(chan struct{})
	s.flush <- done
	<-done
}

func (s *SQLiteIndex) loop() {
	ctx := context.Background()

	insert, err := s.db.Prepare(`INSERT OR REPLACE INTO audits(seq,at,op,caller,ref,ok,code,message,raw_json) VALUES(?,?,?,?,?,?,?,?,?)`)
	if err != nil {
		for range s.ch {
		}
		return
	}
	defer insert.Close()

	var (
		tx            *sql.Tx
		opCount       int
		lastCommit    = time.Now()
		commitEvery   = 2000
		commitMaxWait = 2 * time.Second
	)

	begin := func() {
		if tx != nil {
			return
		}
		txx, err := s.db.BeginTx(ctx, nil)
		if err != nil {
			time.Sleep(50 * time.Millisecond)
			return
		}
		tx = txx
		opCount = 0
		lastCommit = time.Now()
	}
	commit := func() {
		if tx == nil {
			return
		}
		_ = tx.Commit()
		tx = nil
		opCount = 0
		lastCommit = time.Now()
	}
	rollback := func() {
		if tx == nil {
			return
		}
		_ = tx.Rollback()
		tx = nil
		opCount = 0
		lastCommit = time.Now()
	}

	handle := func(entry game.AuditEntry) {
		begin()
		if tx == nil {
			return
		}
		raw, _ := json.Marshal(entry)
		okInt := 0
		if entry.OK {
			okInt = 1
		}
		if _, err := tx.Stmt(insert).Exec(
			int64(entry.Seq),
			entry.Time.UTC().Format(time.RFC3339Nano),
			entry.Op,
			entry.Caller,
			entry.Ref,
			okInt,
			entry.Code,
			entry.Message,
			string(raw),
		); err != nil {
			rollback()
			return
		}
		opCount++
		if opCount >= commitEvery || time.Since(lastCommit) >= commitMaxWait {
			commit()
		}
	}

	for {
		select {
		case entry, ok := <-s.ch:
			if !ok {
				commit()
				return
			}
			handle(entry)
		case done := <-s.flush:
		drain:
			for {
				select {
				case entry, ok := <-s.ch:
					if !ok {
						break drain
					}
					handle(entry)
				default:
					break drain
				}
			}
			commit()
			close(done)
		}
	}
}

// RecentAudits returns up to limit entries, newest first.
func (s *SQLiteIndex) RecentAudits(limit int) ([]game.AuditEntry, error) {
	return s.queryAudits(`SELECT raw_json FROM audits ORDER BY seq DESC LIMIT ?`, limit)
}

// AuditsByCaller returns up to limit entries for one caller, newest first.
func (s *SQLiteIndex) AuditsByCaller(caller string, limit int) ([]game.AuditEntry, error) {
	return s.queryAudits(`SELECT raw_json FROM audits WHERE caller = ? ORDER BY seq DESC LIMIT ?`, caller, limit)
}

func (s *SQLiteIndex) queryAudits(q string, args ...any) ([]game.AuditEntry, error) {
	rows, err := s.db.Query(q, args...)
	if err != nil {
		return nil, errors.Wrap(err, "query audits")
	}
	defer rows.Close()

	var out []game.AuditEntry
	for rows.Next() {
		var raw string
		if err := rows.Scan(&raw); err != nil {
			return nil, errors.Wrap(err, "scan audit row")
		}
		var e game.AuditEntry
		if err := json.Unmarshal([]byte(raw), &e); err != nil {
			return nil, errors.Wrap(err, "decode audit row")
		}
		out = append(out, e)
	}
	return out, rows.Err()
}
