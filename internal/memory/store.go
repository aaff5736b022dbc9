// Package memory implements the durable cross-run memory of the pipeline.
//
// It stores project-scoped Decisions and Patterns and run-scoped Insights in
// SQLite. Critical insights can be promoted into decisions; promotion is
// idempotent per insight.
package memory

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"go.uber.org/zap"

	_ "modernc.org/sqlite"
)

// openDB is a package-level var to allow test injection.
var openDB = sql.Open

// Kind enumerates memory record kinds.
type Kind string

const (
	KindDecision Kind = "decision"
	KindPattern  Kind = "pattern"
	KindInsight  Kind = "insight"
)

// Importance levels for insights. Only critical insights are eligible for
// promotion into decisions.
type Importance string

const (
	ImportanceLow      Importance = "low"
	ImportanceMedium   Importance = "medium"
	ImportanceHigh     Importance = "high"
	ImportanceCritical Importance = "critical"
)

// Decision is a durable, project-scoped choice with its rationale.
type Decision struct {
	ID          int64  `json:"id"`
	Title       string `json:"title"`
	Content     string `json:"content"`
	Rationale   string `json:"rationale,omitempty"`
	SourceRunID string `json:"source_run_id,omitempty"`
	CreatedAt   string `json:"created_at"`
}

// Pattern is a reusable project-scoped observation.
type Pattern struct {
	ID        int64  `json:"id"`
	Title     string `json:"title"`
	Content   string `json:"content"`
	CreatedAt string `json:"created_at"`
}

// Insight is a run-scoped observation with an importance level.
type Insight struct {
	ID         int64      `json:"id"`
	RunID      string     `json:"run_id"`
	Content    string     `json:"content"`
	Importance Importance `json:"importance"`
	Promoted   bool       `json:"promoted"`
	CreatedAt  string     `json:"created_at"`
}

// Record is one query result, normalized across kinds.
type Record struct {
	Kind      Kind   `json:"kind"`
	ID        int64  `json:"id"`
	Title     string `json:"title,omitempty"`
	Content   string `json:"content"`
	RunID     string `json:"run_id,omitempty"`
	CreatedAt string `json:"created_at"`
}

// Store is the SQLite-backed memory store.
type Store struct {
	db     *sql.DB
	logger *zap.Logger
}

// New opens (creating if needed) the memory database at path.
func New(path string, logger *zap.Logger) (*Store, error) {
	if path == "" {
		return nil, fmt.Errorf("memory: database path cannot be empty")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("memory: create data dir: %w", err)
	}

	db, err := openDB("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("memory: open database: %w", err)
	}

	pragmas := []string{
		"PRAGMA journal_mode = WAL",
		"PRAGMA busy_timeout = 5000",
		"PRAGMA synchronous = NORMAL",
		"PRAGMA foreign_keys = ON",
	}
	for _, p := range pragmas {
		if _, err := db.Exec(p); err != nil {
			db.Close()
			return nil, fmt.Errorf("memory: pragma %q: %w", p, err)
		}
	}

	s := &Store{db: db, logger: logger}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("memory: migration: %w", err)
	}
	return s, nil
}

// Close closes the underlying database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) migrate() error {
	schema := `
		CREATE TABLE IF NOT EXISTS decisions (
			id            INTEGER PRIMARY KEY AUTOINCREMENT,
			title         TEXT NOT NULL,
			content       TEXT NOT NULL,
			rationale     TEXT,
			source_run_id TEXT,
			insight_key   TEXT UNIQUE,
			created_at    TEXT NOT NULL DEFAULT (datetime('now'))
		);

		CREATE TABLE IF NOT EXISTS patterns (
			id         INTEGER PRIMARY KEY AUTOINCREMENT,
			title      TEXT NOT NULL,
			content    TEXT NOT NULL,
			created_at TEXT NOT NULL DEFAULT (datetime('now'))
		);

		CREATE TABLE IF NOT EXISTS insights (
			id         INTEGER PRIMARY KEY AUTOINCREMENT,
			run_id     TEXT NOT NULL,
			content    TEXT NOT NULL,
			importance TEXT NOT NULL DEFAULT 'medium',
			promoted   INTEGER NOT NULL DEFAULT 0,
			created_at TEXT NOT NULL DEFAULT (datetime('now'))
		);

		CREATE INDEX IF NOT EXISTS idx_insights_run ON insights(run_id);
		CREATE INDEX IF NOT EXISTS idx_insights_importance ON insights(importance);
	`
	_, err := s.db.Exec(schema)
	return err
}

// AddDecision records a durable project-scoped decision.
func (s *Store) AddDecision(title, content, rationale, sourceRunID string) (int64, error) {
	if title == "" || content == "" {
		return 0, fmt.Errorf("memory: decision title and content are required")
	}
	res, err := s.db.Exec(
		`INSERT INTO decisions (title, content, rationale, source_run_id) VALUES (?, ?, ?, ?)`,
		title, content, nullable(rationale), nullable(sourceRunID),
	)
	if err != nil {
		return 0, fmt.Errorf("memory: insert decision: %w", err)
	}
	return res.LastInsertId()
}

// AddPattern records a reusable project-scoped observation.
func (s *Store) AddPattern(title, content string) (int64, error) {
	if title == "" || content == "" {
		return 0, fmt.Errorf("memory: pattern title and content are required")
	}
	res, err := s.db.Exec(`INSERT INTO patterns (title, content) VALUES (?, ?)`, title, content)
	if err != nil {
		return 0, fmt.Errorf("memory: insert pattern: %w", err)
	}
	return res.LastInsertId()
}

// AddInsight records a run-scoped insight.
func (s *Store) AddInsight(runID, content string, importance Importance) (int64, error) {
	if runID == "" || content == "" {
		return 0, fmt.Errorf("memory: insight run id and content are required")
	}
	switch importance {
	case ImportanceLow, ImportanceMedium, ImportanceHigh, ImportanceCritical:
	default:
		return 0, fmt.Errorf("memory: invalid importance %q", importance)
	}
	res, err := s.db.Exec(
		`INSERT INTO insights (run_id, content, importance) VALUES (?, ?, ?)`,
		runID, content, string(importance),
	)
	if err != nil {
		return 0, fmt.Errorf("memory: insert insight: %w", err)
	}
	return res.LastInsertId()
}

// QueryOptions filters memory queries.
type QueryOptions struct {
	// Kind limits results to one record kind; empty means all kinds.
	Kind Kind

	// RunID limits insight results to one run (ignored for project scope).
	RunID string

	// Keywords are matched as substrings against title and content.
	Keywords []string

	// Limit caps the number of results per kind; 0 means 20.
	Limit int
}

// Query returns memory records matching the options, decisions and patterns
// first, then insights.
func (s *Store) Query(opts QueryOptions) ([]Record, error) {
	limit := opts.Limit
	if limit <= 0 {
		limit = 20
	}

	var records []Record

	if opts.Kind == "" || opts.Kind == KindDecision {
		rows, err := s.queryKind(
			`SELECT id, title, content, '' AS run_id, created_at FROM decisions`,
			[]string{"title", "content"}, opts.Keywords, limit)
		if err != nil {
			return nil, err
		}
		for i := range rows {
			rows[i].Kind = KindDecision
		}
		records = append(records, rows...)
	}

	if opts.Kind == "" || opts.Kind == KindPattern {
		rows, err := s.queryKind(
			`SELECT id, title, content, '' AS run_id, created_at FROM patterns`,
			[]string{"title", "content"}, opts.Keywords, limit)
		if err != nil {
			return nil, err
		}
		for i := range rows {
			rows[i].Kind = KindPattern
		}
		records = append(records, rows...)
	}

	if opts.Kind == "" || opts.Kind == KindInsight {
		base := `SELECT id, '' AS title, content, run_id, created_at FROM insights`
		var extra []string
		var args []any
		if opts.RunID != "" {
			extra = append(extra, "run_id = ?")
			args = append(args, opts.RunID)
		}
		rows, err := s.queryKindWhere(base, []string{"content"}, opts.Keywords, extra, args, limit)
		if err != nil {
			return nil, err
		}
		for i := range rows {
			rows[i].Kind = KindInsight
		}
		records = append(records, rows...)
	}

	return records, nil
}

func (s *Store) queryKind(base string, searchCols, keywords []string, limit int) ([]Record, error) {
	return s.queryKindWhere(base, searchCols, keywords, nil, nil, limit)
}

func (s *Store) queryKindWhere(base string, searchCols, keywords, extraWhere []string, extraArgs []any, limit int) ([]Record, error) {
	var where []string
	var args []any

	for _, kw := range keywords {
		kw = strings.TrimSpace(kw)
		if kw == "" {
			continue
		}
		var ors []string
		for _, col := range searchCols {
			ors = append(ors, col+" LIKE ?")
			args = append(args, "%"+kw+"%")
		}
		where = append(where, "("+strings.Join(ors, " OR ")+")")
	}
	where = append(where, extraWhere...)
	args = append(args, extraArgs...)

	query := base
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY datetime(created_at) DESC, id DESC LIMIT ?"
	args = append(args, limit)

	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("memory: query: %w", err)
	}
	defer rows.Close()

	var records []Record
	for rows.Next() {
		var r Record
		if err := rows.Scan(&r.ID, &r.Title, &r.Content, &r.RunID, &r.CreatedAt); err != nil {
			return nil, fmt.Errorf("memory: scan: %w", err)
		}
		records = append(records, r)
	}
	return records, rows.Err()
}

// PromoteCriticalInsights converts every unpromoted critical insight of the
// run into a decision and returns the number of decisions created.
//
// Promotion is idempotent: each insight carries a unique insight_key on its
// decision, so repeated calls never duplicate decisions.
func (s *Store) PromoteCriticalInsights(runID string) (int, error) {
	if runID == "" {
		return 0, fmt.Errorf("memory: run id cannot be empty")
	}

	tx, err := s.db.Begin()
	if err != nil {
		return 0, fmt.Errorf("memory: begin promotion: %w", err)
	}
	defer tx.Rollback()

	rows, err := tx.Query(
		`SELECT id, content FROM insights WHERE run_id = ? AND importance = ? AND promoted = 0`,
		runID, string(ImportanceCritical),
	)
	if err != nil {
		return 0, fmt.Errorf("memory: select critical insights: %w", err)
	}

	type pending struct {
		id      int64
		content string
	}
	var candidates []pending
	for rows.Next() {
		var p pending
		if err := rows.Scan(&p.id, &p.content); err != nil {
			rows.Close()
			return 0, fmt.Errorf("memory: scan insight: %w", err)
		}
		candidates = append(candidates, p)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return 0, err
	}

	promoted := 0
	for _, c := range candidates {
		key := fmt.Sprintf("insight:%d", c.id)
		res, err := tx.Exec(
			`INSERT OR IGNORE INTO decisions (title, content, rationale, source_run_id, insight_key)
			 VALUES (?, ?, ?, ?, ?)`,
			decisionTitle(c.content), c.content, "promoted from critical insight", runID, key,
		)
		if err != nil {
			return 0, fmt.Errorf("memory: promote insight %d: %w", c.id, err)
		}
		if n, _ := res.RowsAffected(); n > 0 {
			promoted++
		}
		if _, err := tx.Exec(`UPDATE insights SET promoted = 1 WHERE id = ?`, c.id); err != nil {
			return 0, fmt.Errorf("memory: mark insight %d promoted: %w", c.id, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("memory: commit promotion: %w", err)
	}

	s.logger.Debug("promoted critical insights",
		zap.String("run.id", runID), zap.Int("count", promoted))
	return promoted, nil
}

// decisionTitle derives a short title from insight content.
func decisionTitle(content string) string {
	const maxTitle = 80
	title := strings.TrimSpace(content)
	if i := strings.IndexByte(title, '\n'); i >= 0 {
		title = title[:i]
	}
	if len(title) > maxTitle {
		title = title[:maxTitle]
	}
	return title
}

func nullable(s string) any {
	if s == "" {
		return nil
	}
	return s
}
