package main

import (
	"database/sql"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	_ "modernc.org/sqlite"
)

// dbCmd reads the sqlite audit index without going through the server. Useful
// when the server is down or the question is about history, not live state.
func dbCmd(args []string) {
	fs := flag.NewFlagSet("db", flag.ExitOnError)
	dataDir := fs.String("data", "./data", "runtime data directory")
	dbPath := fs.String("db", "", "sqlite db path (optional)")
	limit := fs.Int("limit", 20, "result limit")
	caller := fs.String("caller", "", "caller filter (optional)")
	opName := fs.String("op", "", "op filter (optional)")
	failed := fs.Bool("failed", false, "only rejected ops")
	_ = fs.Parse(args)

	path := strings.TrimSpace(*dbPath)
	if path == "" {
		path = filepath.Join(*dataDir, "index", "game.db")
	}
	if *limit <= 0 {
		*limit = 20
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		fmt.Fprintln(os.Stderr, "open:", err)
		os.Exit(1)
	}
	defer db.Close()

	q := `SELECT seq,at,op,caller,ref,ok,code,message FROM audits`
	var conds []string
	var qargs []any
	if strings.TrimSpace(*caller) != "" {
		conds = append(conds, "caller=?")
		qargs = append(qargs, strings.TrimSpace(*caller))
	}
	if strings.TrimSpace(*opName) != "" {
		conds = append(conds, "op=?")
		qargs = append(qargs, strings.TrimSpace(*opName))
	}
	if *failed {
		conds = append(conds, "ok=0")
	}
	if len(conds) > 0 {
		q += " WHERE " + strings.Join(conds, " AND ")
	}
	q += " ORDER BY seq DESC LIMIT ?"
	qargs = append(qargs, *limit)

	rows, err := db.Query(q, qargs...)
	if err != nil {
		fmt.Fprintln(os.Stderr, "query:", err)
		os.Exit(1)
	}
	defer rows.Close()
	for rows.Next() {
		var r struct {
			Seq     uint64 `json:"seq"`
			At      string `json:"at"`
			Op      string `json:"op"`
			Caller  string `json:"caller"`
			Ref     string `json:"ref,omitempty"`
			OK      bool   `json:"ok"`
			Code    string `json:"code,omitempty"`
			Message string `json:"message,omitempty"`
		}
		var ok int
		if err := rows.Scan(&r.Seq, &r.At, &r.Op, &r.Caller, &r.Ref, &ok, &r.Code, &r.Message); err != nil {
			fmt.Fprintln(os.Stderr, "scan:", err)
			os.Exit(1)
		}
		r.OK = ok != 0
		printJSON(r)
	}
	if err := rows.Err(); err != nil {
		fmt.Fprintln(os.Stderr, "rows:", err)
		os.Exit(1)
	}
}

func printJSON(v any) {
	enc := json.NewEncoder(os.Stdout)
	enc.SetEscapeHTML(false)
	_ = enc.Encode(v)
}
