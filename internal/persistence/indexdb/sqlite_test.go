package indexdb

import (
	"path/filepath"
	"testing"
	"time"

	"herovault.gg/internal/core/game"
)

func open(t *testing.T) *SQLiteIndex {
	t.Helper()
	s, err := OpenSQLite(filepath.Join(t.TempDir(), "index", "game.db"))
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func entry(seq uint64, op, caller string, ok bool) game.AuditEntry {
	e := game.AuditEntry{
		Seq:    seq,
		Time:   time.Unix(int64(1000+seq), 0).UTC(),
		Op:     op,
		Caller: caller,
		OK:     ok,
	}
	if !ok {
		e.Code = "E_ACCESS_DENIED"
	}
	return e
}

func TestWriteAndQuery(t *testing.T) {
	s := open(t)

	if err := s.WriteAudit(entry(1, "BOX_BUY", "addr2", true)); err != nil {
		t.Fatalf("write: %v", err)
	}
	if err := s.WriteAudit(entry(2, "MARKET_SET_FEE", "mallory", false)); err != nil {
		t.Fatalf("write: %v", err)
	}
	if err := s.WriteAudit(entry(3, "BOX_OPEN", "addr2", true)); err != nil {
		t.Fatalf("write: %v", err)
	}
	s.Flush()

	recent, err := s.RecentAudits(2)
	if err != nil {
		t.Fatalf("recent: %v", err)
	}
	if len(recent) != 2 || recent[0].Seq != 3 || recent[1].Seq != 2 {
		t.Fatalf("recent = %+v", recent)
	}
	if recent[1].Code != "E_ACCESS_DENIED" || recent[1].OK {
		t.Fatalf("failed op row = %+v", recent[1])
	}

	byCaller, err := s.AuditsByCaller("addr2", 10)
	if err != nil {
		t.Fatalf("byCaller: %v", err)
	}
	if len(byCaller) != 2 || byCaller[0].Op != "BOX_OPEN" || byCaller[1].Op != "BOX_BUY" {
		t.Fatalf("byCaller = %+v", byCaller)
	}
}

func TestWriteAfterCloseIsNoop(t *testing.T) {
	s := open(t)
	if err := s.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}
	if err := s.WriteAudit(entry(1, "BOX_BUY", "addr2", true)); err != nil {
		t.Fatalf("write after close: %v", err)
	}
	// Double close is safe.
	if err := s.Close(); err != nil {
		t.Fatalf("second close: %v", err)
	}
}

func TestReopenKeepsRows(t *testing.T) {
	path := filepath.Join(t.TempDir(), "game.db")
	s, err := OpenSQLite(path)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	if err := s.WriteAudit(entry(1, "SHARD_CRAFT", "addr2", true)); err != nil {
		t.Fatalf("write: %v", err)
	}
	s.Flush()
	if err := s.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}

	s2, err := OpenSQLite(path)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer s2.Close()
	rows, err := s2.RecentAudits(10)
	if err != nil {
		t.Fatalf("recent: %v", err)
	}
	if len(rows) != 1 || rows[0].Op != "SHARD_CRAFT" {
		t.Fatalf("rows = %+v", rows)
	}
}
