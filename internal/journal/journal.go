// Package journal keeps a SQLite record of every button report the hub
// receives.
package journal

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"

	"github.com/sweeney/now-remote/internal/logic"
)

// DefaultPath is where the hub journal lives unless configured otherwise.
const DefaultPath = "/var/lib/now-remote/journal.db"

// Journal is an append-only log of received reports.
type Journal struct {
	db *sql.DB
}

// Open opens (creating if needed) the journal at path and migrates it.
func Open(path string) (*Journal, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, fmt.Errorf("create journal directory: %w", err)
	}

	db, err := sql.Open("sqlite", path+"?_journal_mode=WAL&_busy_timeout=5000&_synchronous=NORMAL")
	if err != nil {
		return nil, fmt.Errorf("open journal: %w", err)
	}
	// SQLite only supports one writer at a time.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	j := &Journal{db: db}
	if err := j.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate journal: %w", err)
	}
	return j, nil
}

// Close closes the database.
func (j *Journal) Close() error {
	return j.db.Close()
}

func (j *Journal) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS reports (
		id TEXT PRIMARY KEY,
		remote TEXT NOT NULL,
		events TEXT NOT NULL,
		clicks INTEGER NOT NULL,
		received_at INTEGER NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_reports_remote ON reports(remote);
	CREATE INDEX IF NOT EXISTS idx_reports_received_at ON reports(received_at);
	`
	_, err := j.db.Exec(schema)
	return err
}

type storedEvent struct {
	Type   uint8 `json:"type"`
	Clicks uint8 `json:"clicks"`
}

// Record appends report to the journal. A report without an ID is given one,
// and the stored report is returned.
func (j *Journal) Record(ctx context.Context, report logic.Report) (logic.Report, error) {
	if report.ID == "" {
		report.ID = uuid.New().String()
	}

	events := make([]storedEvent, len(report.Events))
	for i, e := range report.Events {
		events[i] = storedEvent{Type: uint8(e.Type), Clicks: e.ClickCount}
	}
	encoded, err := json.Marshal(events)
	if err != nil {
		return report, fmt.Errorf("encode events: %w", err)
	}

	_, err = j.db.ExecContext(ctx,
		`INSERT INTO reports (id, remote, events, clicks, received_at) VALUES (?, ?, ?, ?, ?)`,
		report.ID, report.Remote, string(encoded), report.Clicks(), report.ReceivedAt.UnixNano())
	if err != nil {
		return report, fmt.Errorf("insert report: %w", err)
	}
	return report, nil
}

// Recent returns up to limit reports, newest first. An empty remote matches
// every remote.
func (j *Journal) Recent(ctx context.Context, remote string, limit int) ([]logic.Report, error) {
	query := `SELECT id, remote, events, received_at FROM reports`
	var args []any
	if remote != "" {
		query += ` WHERE remote = ?`
		args = append(args, remote)
	}
	query += ` ORDER BY received_at DESC, rowid DESC LIMIT ?`
	args = append(args, limit)

	rows, err := j.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query reports: %w", err)
	}
	defer rows.Close()

	var reports []logic.Report
	for rows.Next() {
		var (
			r       logic.Report
			encoded string
			at      int64
		)
		if err := rows.Scan(&r.ID, &r.Remote, &encoded, &at); err != nil {
			return nil, fmt.Errorf("scan report: %w", err)
		}
		var events []storedEvent
		if err := json.Unmarshal([]byte(encoded), &events); err != nil {
			return nil, fmt.Errorf("decode events of %s: %w", r.ID, err)
		}
		for _, e := range events {
			r.Events = append(r.Events, logic.ButtonEvent{Type: logic.ButtonEventType(e.Type), ClickCount: e.Clicks})
		}
		r.ReceivedAt = time.Unix(0, at).UTC()
		reports = append(reports, r)
	}
	return reports, rows.Err()
}

// Count returns the number of recorded reports.
func (j *Journal) Count(ctx context.Context) (int, error) {
	var n int
	if err := j.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM reports`).Scan(&n); err != nil {
		return 0, fmt.Errorf("count reports: %w", err)
	}
	return n, nil
}

// Prune deletes reports received before cutoff and returns how many went.
func (j *Journal) Prune(ctx context.Context, cutoff time.Time) (int64, error) {
	res, err := j.db.ExecContext(ctx, `DELETE FROM reports WHERE received_at < ?`, cutoff.UnixNano())
	if err != nil {
		return 0, fmt.Errorf("prune reports: %w", err)
	}
	return res.RowsAffected()
}
