// Package storage persists training examples in SQLite and fronts the
// database with a bounded, batching write queue so generation workers never
// block on disk.
package storage

import (
	"database/sql"
	"embed"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"github.com/dexterai/traingen/internal/example"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// Store wraps a SQLite database holding the training_examples table.
type Store struct {
	db *sql.DB
}

// Open opens (or creates) a SQLite database in dataDir and runs pending
// migrations. Pass ":memory:" as dataDir for an in-memory database (used by
// tests).
func Open(dataDir string) (*Store, error) {
	var dsn string
	if dataDir == ":memory:" {
		dsn = ":memory:"
	} else {
		if err := os.MkdirAll(dataDir, 0o755); err != nil {
			return nil, fmt.Errorf("creating data directory: %w", err)
		}
		dsn = filepath.Join(dataDir, "traingen.db")
	}

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("pinging database: %w", err)
	}

	// Limit to single connection to avoid "database is locked" errors.
	db.SetMaxOpenConns(1)

	// Set busy timeout so concurrent access waits briefly instead of failing immediately.
	if _, err := db.Exec("PRAGMA busy_timeout = 5000"); err != nil {
		db.Close()
		return nil, fmt.Errorf("setting busy timeout: %w", err)
	}

	// Enable WAL mode for better concurrent read performance.
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("setting journal mode: %w", err)
	}

	s := &Store{db: db}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("running migrations: %w", err)
	}

	return s, nil
}

// Close closes the underlying database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// migrate reads embedded SQL migration files and applies any that haven't been run yet.
func (s *Store) migrate() error {
	if _, err := s.db.Exec(`CREATE TABLE IF NOT EXISTS schema_version (
		version INTEGER PRIMARY KEY,
		applied_at DATETIME DEFAULT CURRENT_TIMESTAMP
	)`); err != nil {
		return fmt.Errorf("creating schema_version table: %w", err)
	}

	entries, err := migrationsFS.ReadDir("migrations")
	if err != nil {
		return fmt.Errorf("reading migrations directory: %w", err)
	}

	sort.Slice(entries, func(i, j int) bool {
		return entries[i].Name() < entries[j].Name()
	})

	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".sql") {
			continue
		}

		version, err := parseMigrationVersion(entry.Name())
		if err != nil {
			return err
		}

		var exists int
		if err := s.db.QueryRow("SELECT COUNT(*) FROM schema_version WHERE version = ?", version).Scan(&exists); err != nil {
			return fmt.Errorf("checking migration %d: %w", version, err)
		}
		if exists > 0 {
			continue
		}

		content, err := migrationsFS.ReadFile("migrations/" + entry.Name())
		if err != nil {
			return fmt.Errorf("reading migration %s: %w", entry.Name(), err)
		}

		tx, err := s.db.Begin()
		if err != nil {
			return fmt.Errorf("beginning transaction for migration %d: %w", version, err)
		}

		if _, err := tx.Exec(string(content)); err != nil {
			tx.Rollback()
			return fmt.Errorf("applying migration %d: %w", version, err)
		}

		if _, err := tx.Exec("INSERT INTO schema_version (version) VALUES (?)", version); err != nil {
			tx.Rollback()
			return fmt.Errorf("recording migration %d: %w", version, err)
		}

		if err := tx.Commit(); err != nil {
			return fmt.Errorf("committing migration %d: %w", version, err)
		}
	}

	return nil
}

func parseMigrationVersion(filename string) (int, error) {
	var version int
	if _, err := fmt.Sscanf(filename, "%d_", &version); err != nil {
		return 0, fmt.Errorf("parsing migration version from %q: %w", filename, err)
	}
	return version, nil
}

// AppliedMigrations returns the list of applied migration versions in ascending order.
func (s *Store) AppliedMigrations() ([]int, error) {
	rows, err := s.db.Query("SELECT version FROM schema_version ORDER BY version ASC")
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var versions []int
	for rows.Next() {
		var v int
		if err := rows.Scan(&v); err != nil {
			return nil, err
		}
		versions = append(versions, v)
	}
	return versions, rows.Err()
}

// UpsertExample writes one record, replacing any existing row with the same
// scenario ID. Replays from the at-least-once write path are absorbed here.
func (s *Store) UpsertExample(rec Record) error {
	now := time.Now().UTC().Format(time.RFC3339)
	_, err := s.db.Exec(`
		INSERT INTO training_examples (scenario_id, scenario_json, reasoning_json, validation_status, validation_error, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(scenario_id) DO UPDATE SET
			scenario_json = excluded.scenario_json,
			reasoning_json = excluded.reasoning_json,
			validation_status = excluded.validation_status,
			validation_error = excluded.validation_error,
			updated_at = excluded.updated_at`,
		rec.ScenarioID, rec.ScenarioJSON, rec.ReasoningJSON,
		rec.ValidationStatus, rec.ValidationError, now, now,
	)
	return err
}

// WriteBatch upserts a batch of records in a single transaction.
func (s *Store) WriteBatch(recs []Record) error {
	if len(recs) == 0 {
		return nil
	}
	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("beginning batch transaction: %w", err)
	}
	now := time.Now().UTC().Format(time.RFC3339)
	for _, rec := range recs {
		if _, err := tx.Exec(`
			INSERT INTO training_examples (scenario_id, scenario_json, reasoning_json, validation_status, validation_error, created_at, updated_at)
			VALUES (?, ?, ?, ?, ?, ?, ?)
			ON CONFLICT(scenario_id) DO UPDATE SET
				scenario_json = excluded.scenario_json,
				reasoning_json = excluded.reasoning_json,
				validation_status = excluded.validation_status,
				validation_error = excluded.validation_error,
				updated_at = excluded.updated_at`,
			rec.ScenarioID, rec.ScenarioJSON, rec.ReasoningJSON,
			rec.ValidationStatus, rec.ValidationError, now, now,
		); err != nil {
			tx.Rollback()
			return fmt.Errorf("upserting example %s: %w", rec.ScenarioID, err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("committing batch: %w", err)
	}
	return nil
}

// GetStats returns the validation breakdown of the stored dataset.
func (s *Store) GetStats() (Stats, error) {
	var st Stats
	err := s.db.QueryRow(`
		SELECT COUNT(*),
			COALESCE(SUM(CASE WHEN validation_status = ? THEN 1 ELSE 0 END), 0),
			COALESCE(SUM(CASE WHEN validation_status = ? THEN 1 ELSE 0 END), 0)
		FROM training_examples`,
		example.StatusValid, example.StatusInvalid,
	).Scan(&st.Total, &st.Valid, &st.Invalid)
	if err != nil {
		return Stats{}, fmt.Errorf("querying stats: %w", err)
	}
	return st, nil
}

// CountValid returns the number of VALID examples.
func (s *Store) CountValid() (int, error) {
	var n int
	err := s.db.QueryRow(`SELECT COUNT(*) FROM training_examples WHERE validation_status = ?`,
		example.StatusValid).Scan(&n)
	return n, err
}

// ValidExamples returns up to limit VALID examples decoded into their typed
// payloads, newest first. A limit <= 0 returns all of them.
func (s *Store) ValidExamples(limit int) ([]Pair, error) {
	query := `
		SELECT scenario_json, reasoning_json
		FROM training_examples
		WHERE validation_status = ?
		ORDER BY created_at DESC`
	args := []any{example.StatusValid}
	if limit > 0 {
		query += " LIMIT ?"
		args = append(args, limit)
	}

	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var pairs []Pair
	for rows.Next() {
		var scJSON, rJSON string
		if err := rows.Scan(&scJSON, &rJSON); err != nil {
			return nil, err
		}
		var p Pair
		if err := json.Unmarshal([]byte(scJSON), &p.Scenario); err != nil {
			return nil, fmt.Errorf("decoding scenario: %w", err)
		}
		if err := json.Unmarshal([]byte(rJSON), &p.Reasoning); err != nil {
			return nil, fmt.Errorf("decoding reasoning: %w", err)
		}
		pairs = append(pairs, p)
	}
	return pairs, rows.Err()
}

// RecentExamples returns the most recently updated rows regardless of status.
func (s *Store) RecentExamples(limit int) ([]StoredExample, error) {
	rows, err := s.db.Query(`
		SELECT id, scenario_id, scenario_json, reasoning_json, validation_status, COALESCE(validation_error, ''), created_at, updated_at
		FROM training_examples ORDER BY updated_at DESC, id DESC LIMIT ?`, limit,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var results []StoredExample
	for rows.Next() {
		var e StoredExample
		var createdAt, updatedAt string
		if err := rows.Scan(&e.ID, &e.ScenarioID, &e.ScenarioJSON, &e.ReasoningJSON, &e.ValidationStatus, &e.ValidationError, &createdAt, &updatedAt); err != nil {
			return nil, err
		}
		if e.CreatedAt, err = time.Parse(time.RFC3339, createdAt); err != nil {
			return nil, fmt.Errorf("parsing created_at: %w", err)
		}
		if e.UpdatedAt, err = time.Parse(time.RFC3339, updatedAt); err != nil {
			return nil, fmt.Errorf("parsing updated_at: %w", err)
		}
		results = append(results, e)
	}
	return results, rows.Err()
}

// GetExample returns the row for one scenario ID.
func (s *Store) GetExample(scenarioID string) (StoredExample, error) {
	var e StoredExample
	var createdAt, updatedAt string
	err := s.db.QueryRow(`
		SELECT id, scenario_id, scenario_json, reasoning_json, validation_status, COALESCE(validation_error, ''), created_at, updated_at
		FROM training_examples WHERE scenario_id = ?`, scenarioID,
	).Scan(&e.ID, &e.ScenarioID, &e.ScenarioJSON, &e.ReasoningJSON, &e.ValidationStatus, &e.ValidationError, &createdAt, &updatedAt)
	if err == sql.ErrNoRows {
		return StoredExample{}, ErrNotFound
	}
	if err != nil {
		return StoredExample{}, err
	}
	if e.CreatedAt, err = time.Parse(time.RFC3339, createdAt); err != nil {
		return StoredExample{}, fmt.Errorf("parsing created_at: %w", err)
	}
	if e.UpdatedAt, err = time.Parse(time.RFC3339, updatedAt); err != nil {
		return StoredExample{}, fmt.Errorf("parsing updated_at: %w", err)
	}
	return e, nil
}
