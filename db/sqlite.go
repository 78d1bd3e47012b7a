package db

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"path/filepath"
	"strings"

	"hsi-cores/hsi"
	"hsi-cores/models"
	"hsi-cores/utils"

	_ "github.com/mattn/go-sqlite3" // SQLite driver registration
)

type SQLiteClient struct {
	db *sql.DB
}

func NewSQLiteClient(dataSourceName string) (*SQLiteClient, error) {
	// Extract the file path before query parameters
	dbPath := dataSourceName
	if idx := strings.Index(dataSourceName, "?"); idx != -1 {
		dbPath = dataSourceName[:idx]
	}

	dbDir := filepath.Dir(dbPath)
	if dbDir != "." && dbDir != "" && !strings.HasPrefix(dbPath, ":memory:") {
		if err := utils.CreateFolder(dbDir); err != nil {
			return nil, fmt.Errorf("error creating database directory: %w", err)
		}
	}

	// Add busy timeout param to DSN (milliseconds)
	if !strings.Contains(dataSourceName, "_busy_timeout") {
		if strings.Contains(dataSourceName, "?") {
			dataSourceName += "&_busy_timeout=5000"
		} else {
			dataSourceName += "?_busy_timeout=5000"
		}
	}

	db, err := sql.Open("sqlite3", dataSourceName)
	if err != nil {
		return nil, fmt.Errorf("error connecting to SQLite: %w", err)
	}

	if err := createTables(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("error creating tables: %w", err)
	}

	return &SQLiteClient{db: db}, nil
}

// createTables creates the required tables if they don't exist
func createTables(db *sql.DB) error {
	createLibraryTable := `
    CREATE TABLE IF NOT EXISTS library_entries (
        id TEXT PRIMARY KEY,
        label TEXT NOT NULL,
        category TEXT,
        source TEXT,
        wavelengths TEXT NOT NULL,
        spectrum TEXT NOT NULL,
        metadata TEXT
    );
    CREATE INDEX IF NOT EXISTS idx_library_label ON library_entries(label);
    `

	createRunsTable := `
    CREATE TABLE IF NOT EXISTS analysis_runs (
        id TEXT PRIMARY KEY,
        input TEXT NOT NULL,
        format TEXT,
        started_at INTEGER NOT NULL,
        payload TEXT NOT NULL
    );
    CREATE INDEX IF NOT EXISTS idx_runs_started ON analysis_runs(started_at);
    `

	if _, err := db.Exec(createLibraryTable); err != nil {
		return fmt.Errorf("error creating library table: %w", err)
	}
	if _, err := db.Exec(createRunsTable); err != nil {
		return fmt.Errorf("error creating runs table: %w", err)
	}
	return nil
}

func (db *SQLiteClient) Close() error {
	if db.db != nil {
		return db.db.Close()
	}
	return nil
}

// StoreLibraryEntries inserts entries in one transaction; an entry whose ID
// already exists is replaced.
func (db *SQLiteClient) StoreLibraryEntries(entries []hsi.LibraryEntry) error {
	tx, err := db.db.Begin()
	if err != nil {
		return fmt.Errorf("error starting transaction: %w", err)
	}

	stmt, err := tx.Prepare(`INSERT OR REPLACE INTO library_entries
		(id, label, category, source, wavelengths, spectrum, metadata) VALUES (?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		tx.Rollback()
		return fmt.Errorf("error preparing statement: %w", err)
	}
	defer stmt.Close()

	for i, entry := range entries {
		e, err := prepareEntry(entry)
		if err != nil {
			tx.Rollback()
			return fmt.Errorf("entry %d: %w", i, err)
		}
		wavelengths, err := json.Marshal(e.Wavelengths)
		if err != nil {
			tx.Rollback()
			return fmt.Errorf("error marshaling wavelengths: %w", err)
		}
		values, err := json.Marshal(e.Values)
		if err != nil {
			tx.Rollback()
			return fmt.Errorf("error marshaling spectrum: %w", err)
		}
		var metadataJSON *string
		if len(e.Metadata) > 0 {
			b, err := json.Marshal(e.Metadata)
			if err != nil {
				tx.Rollback()
				return fmt.Errorf("error marshaling metadata: %w", err)
			}
			s := string(b)
			metadataJSON = &s
		}
		if _, err := stmt.Exec(e.ID, e.Label, e.Category, e.Source, string(wavelengths), string(values), metadataJSON); err != nil {
			tx.Rollback()
			return fmt.Errorf("error storing entry %q: %w", e.Label, err)
		}
	}

	return tx.Commit()
}

// GetLibrary returns every stored entry ordered by label.
func (db *SQLiteClient) GetLibrary() ([]hsi.LibraryEntry, error) {
	rows, err := db.db.Query(`
		SELECT id, label, category, source, wavelengths, spectrum, metadata
		FROM library_entries
		ORDER BY label, id
	`)
	if err != nil {
		return nil, fmt.Errorf("error querying library: %w", err)
	}
	defer rows.Close()

	var entries []hsi.LibraryEntry
	for rows.Next() {
		var (
			e                         hsi.LibraryEntry
			category, source          sql.NullString
			wavelengthsJSON, specJSON string
			metadataJSON              *string
		)
		if err := rows.Scan(&e.ID, &e.Label, &category, &source, &wavelengthsJSON, &specJSON, &metadataJSON); err != nil {
			return nil, fmt.Errorf("error scanning entry: %w", err)
		}
		e.Category = category.String
		e.Source = source.String
		if err := json.Unmarshal([]byte(wavelengthsJSON), &e.Wavelengths); err != nil {
			return nil, fmt.Errorf("error unmarshaling wavelengths of %q: %w", e.Label, err)
		}
		if err := json.Unmarshal([]byte(specJSON), &e.Values); err != nil {
			return nil, fmt.Errorf("error unmarshaling spectrum of %q: %w", e.Label, err)
		}
		if metadataJSON != nil {
			if err := json.Unmarshal([]byte(*metadataJSON), &e.Metadata); err != nil {
				return nil, fmt.Errorf("error unmarshaling metadata of %q: %w", e.Label, err)
			}
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

// DeleteLibraryLabel removes every entry with label and reports how many
// rows went.
func (db *SQLiteClient) DeleteLibraryLabel(label string) (int64, error) {
	res, err := db.db.Exec("DELETE FROM library_entries WHERE label = ?", strings.TrimSpace(label))
	if err != nil {
		return 0, fmt.Errorf("failed to delete label: %w", err)
	}
	return res.RowsAffected()
}

// StoreRun stores run as a JSON payload keyed by its ID.
func (db *SQLiteClient) StoreRun(run *models.AnalysisRun) error {
	if run.ID == "" {
		run.ID = utils.NewRunID()
	}
	payload, err := json.Marshal(run)
	if err != nil {
		return fmt.Errorf("error marshaling run: %w", err)
	}

	_, err = db.db.Exec(`
		INSERT OR REPLACE INTO analysis_runs (id, input, format, started_at, payload)
		VALUES (?, ?, ?, ?, ?)`,
		run.ID, run.Input, run.Format, run.StartedAt.UnixNano(), string(payload),
	)
	if err != nil {
		return fmt.Errorf("error storing run: %w", err)
	}
	return nil
}

// GetRuns returns up to limit runs, newest first. limit <= 0 returns all.
func (db *SQLiteClient) GetRuns(limit int) ([]models.AnalysisRun, error) {
	if limit <= 0 {
		limit = -1
	}
	rows, err := db.db.Query(`
		SELECT payload FROM analysis_runs
		ORDER BY started_at DESC
		LIMIT ?
	`, limit)
	if err != nil {
		return nil, fmt.Errorf("error querying runs: %w", err)
	}
	defer rows.Close()

	var runs []models.AnalysisRun
	for rows.Next() {
		var payload string
		if err := rows.Scan(&payload); err != nil {
			return nil, fmt.Errorf("error scanning run: %w", err)
		}
		var run models.AnalysisRun
		if err := json.Unmarshal([]byte(payload), &run); err != nil {
			return nil, fmt.Errorf("error unmarshaling run: %w", err)
		}
		runs = append(runs, run)
	}
	return runs, rows.Err()
}
