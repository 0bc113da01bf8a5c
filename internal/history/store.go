// Package history persists the long-lived audit trail of executed
// actions. The operation log answers "what can I undo"; history answers
// "what has this tool done over time" for reporting and statistics.
package history

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	_ "github.com/mattn/go-sqlite3"

	"github.com/mvasile/fileward/internal/events"
)

// Action is one persisted audit row.
type Action struct {
	ID           string    `json:"id"`
	Filename     string    `json:"filename"`
	OldPath      string    `json:"old_path"`
	NewPath      string    `json:"new_path,omitempty"`
	Operation    string    `json:"operation"`
	Category     string    `json:"category,omitempty"`
	TimeSaved    float64   `json:"time_saved"`
	UserApproved bool      `json:"user_approved"`
	CreatedAt    time.Time `json:"created_at"`
}

// Stats aggregates the audit trail.
type Stats struct {
	TotalActions   int            `json:"total_actions"`
	TotalTimeSaved float64        `json:"total_time_saved"`
	ByOperation    map[string]int `json:"by_operation"`
	ByCategory     map[string]int `json:"by_category"`
}

// Store is the persistence boundary. Failures here must never block or
// fail a filesystem mutation that already happened.
type Store interface {
	LogAction(action Action) error
	QueryHistory(limit int) ([]Action, error)
	QueryStats() (Stats, error)
	Close() error
}

// SQLiteStore implements Store on a local SQLite database.
type SQLiteStore struct {
	db     *sql.DB
	logger *events.Logger
}

// NewSQLiteStore opens (and if needed creates) the history database.
func NewSQLiteStore(dbPath string, logger *events.Logger) (*SQLiteStore, error) {
	if err := os.MkdirAll(filepath.Dir(dbPath), 0755); err != nil {
		return nil, fmt.Errorf("create history directory: %w", err)
	}

	db, err := sql.Open("sqlite3", dbPath+"?_journal=WAL&_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	store := &SQLiteStore{
		db:     db,
		logger: logger.WithField("component", "history_store"),
	}

	if err := store.initialize(); err != nil {
		db.Close()
		return nil, fmt.Errorf("initialize database: %w", err)
	}

	return store, nil
}

func (s *SQLiteStore) initialize() error {
	schema := `
    CREATE TABLE IF NOT EXISTS actions (
        id TEXT PRIMARY KEY,
        filename TEXT NOT NULL,
        old_path TEXT NOT NULL,
        new_path TEXT,
        operation TEXT NOT NULL,
        category TEXT,
        time_saved REAL NOT NULL DEFAULT 0,
        user_approved INTEGER NOT NULL DEFAULT 0,
        created_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP
    );

    CREATE INDEX IF NOT EXISTS idx_actions_created ON actions(created_at);
    CREATE INDEX IF NOT EXISTS idx_actions_operation ON actions(operation);
    `

	if _, err := s.db.Exec(schema); err != nil {
		return fmt.Errorf("create schema: %w", err)
	}
	return nil
}

// LogAction inserts one audit row. A zero ID gets a fresh UUID.
func (s *SQLiteStore) LogAction(action Action) error {
	if action.ID == "" {
		action.ID = uuid.New().String()
	}
	if action.CreatedAt.IsZero() {
		action.CreatedAt = time.Now()
	}

	_, err := s.db.Exec(`
        INSERT INTO actions (id, filename, old_path, new_path, operation, category, time_saved, user_approved, created_at)
        VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
    `, action.ID, action.Filename, action.OldPath, nullable(action.NewPath),
		action.Operation, nullable(action.Category), action.TimeSaved,
		action.UserApproved, action.CreatedAt)
	if err != nil {
		return fmt.Errorf("insert action: %w", err)
	}

	s.logger.WithFields(map[string]interface{}{
		"id":        action.ID,
		"operation": action.Operation,
		"file":      action.Filename,
	}).Debug("action recorded")

	return nil
}

// QueryHistory returns the most recent actions, newest first.
func (s *SQLiteStore) QueryHistory(limit int) ([]Action, error) {
	if limit <= 0 {
		limit = 50
	}

	rows, err := s.db.Query(`
        SELECT id, filename, old_path, new_path, operation, category, time_saved, user_approved, created_at
        FROM actions
        ORDER BY created_at DESC, id DESC
        LIMIT ?
    `, limit)
	if err != nil {
		return nil, fmt.Errorf("query history: %w", err)
	}
	defer rows.Close()

	var actions []Action
	for rows.Next() {
		var a Action
		var newPath, category sql.NullString
		if err := rows.Scan(&a.ID, &a.Filename, &a.OldPath, &newPath, &a.Operation,
			&category, &a.TimeSaved, &a.UserApproved, &a.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan action row: %w", err)
		}
		a.NewPath = newPath.String
		a.Category = category.String
		actions = append(actions, a)
	}
	return actions, rows.Err()
}

// QueryStats aggregates the whole trail.
func (s *SQLiteStore) QueryStats() (Stats, error) {
	stats := Stats{
		ByOperation: make(map[string]int),
		ByCategory:  make(map[string]int),
	}

	err := s.db.QueryRow(`
        SELECT COUNT(*), COALESCE(SUM(time_saved), 0) FROM actions
    `).Scan(&stats.TotalActions, &stats.TotalTimeSaved)
	if err != nil {
		return Stats{}, fmt.Errorf("query totals: %w", err)
	}

	rows, err := s.db.Query(`SELECT operation, COUNT(*) FROM actions GROUP BY operation`)
	if err != nil {
		return Stats{}, fmt.Errorf("query operations: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var op string
		var count int
		if err := rows.Scan(&op, &count); err != nil {
			return Stats{}, fmt.Errorf("scan operation row: %w", err)
		}
		stats.ByOperation[op] = count
	}
	if err := rows.Err(); err != nil {
		return Stats{}, err
	}

	catRows, err := s.db.Query(`SELECT category, COUNT(*) FROM actions WHERE category IS NOT NULL GROUP BY category`)
	if err != nil {
		return Stats{}, fmt.Errorf("query categories: %w", err)
	}
	defer catRows.Close()
	for catRows.Next() {
		var category string
		var count int
		if err := catRows.Scan(&category, &count); err != nil {
			return Stats{}, fmt.Errorf("scan category row: %w", err)
		}
		stats.ByCategory[category] = count
	}
	return stats, catRows.Err()
}

// Close releases the database handle.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func nullable(s string) interface{} {
	if s == "" {
		return nil
	}
	return s
}
