package database

import (
	"context"
	"database/sql"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/lib/pq"
	"go.uber.org/zap"
)

// DB wraps the database connection
type DB struct {
	*sql.DB
	logger *zap.Logger
}

// Connect establishes a connection to the database
func Connect(connectionString string, logger *zap.Logger) (*DB, error) {
	db, err := sql.Open("postgres", connectionString)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// Test the connection
	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	// The pipeline is single threaded; a small pool is plenty.
	db.SetMaxOpenConns(5)
	db.SetMaxIdleConns(2)

	return New(db, logger), nil
}

// New wraps an existing handle (used with sqlmock in tests).
func New(db *sql.DB, logger *zap.Logger) *DB {
	return &DB{DB: db, logger: logger}
}

// RunMigrations executes all SQL migration files in order
func (db *DB) RunMigrations(migrationsDir string) error {
	files, err := os.ReadDir(migrationsDir)
	if err != nil {
		return fmt.Errorf("failed to read migrations directory: %w", err)
	}

	var sqlFiles []string
	for _, file := range files {
		if !file.IsDir() && strings.HasSuffix(file.Name(), ".sql") {
			sqlFiles = append(sqlFiles, file.Name())
		}
	}
	sort.Strings(sqlFiles)

	for _, filename := range sqlFiles {
		db.logger.Info("Running migration", zap.String("file", filename))

		content, err := os.ReadFile(filepath.Join(migrationsDir, filename))
		if err != nil {
			return fmt.Errorf("failed to read migration %s: %w", filename, err)
		}

		if _, err := db.Exec(string(content)); err != nil {
			return fmt.Errorf("failed to execute migration %s: %w", filename, err)
		}
	}

	db.logger.Info("All migrations completed", zap.Int("count", len(sqlFiles)))
	return nil
}

func (db *DB) withTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	if err := fn(tx); err != nil {
		_ = tx.Rollback()
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

// ReplaceTable swaps the contents of table for rows. The rows are bulk
// loaded into a staging table which is then renamed over the live one, all
// in one transaction: readers see either the old or the new contents.
//
// The live table must exist (see migrations) and must not own sequences.
func (db *DB) ReplaceTable(ctx context.Context, table string, columns []string, rows [][]any) error {
	live := pq.QuoteIdentifier(table)
	stagingName := table + "_next"
	staging := pq.QuoteIdentifier(stagingName)

	return db.withTx(ctx, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, "DROP TABLE IF EXISTS "+staging); err != nil {
			return fmt.Errorf("failed to drop stale staging table: %w", err)
		}
		if _, err := tx.ExecContext(ctx, "CREATE TABLE "+staging+" (LIKE "+live+" INCLUDING DEFAULTS)"); err != nil {
			return fmt.Errorf("failed to create staging table: %w", err)
		}

		stmt, err := tx.PrepareContext(ctx, pq.CopyIn(stagingName, columns...))
		if err != nil {
			return fmt.Errorf("failed to prepare copy: %w", err)
		}
		for _, row := range rows {
			if _, err := stmt.ExecContext(ctx, row...); err != nil {
				_ = stmt.Close()
				return fmt.Errorf("failed to copy row: %w", err)
			}
		}
		if _, err := stmt.ExecContext(ctx); err != nil {
			_ = stmt.Close()
			return fmt.Errorf("failed to flush copy: %w", err)
		}
		if err := stmt.Close(); err != nil {
			return fmt.Errorf("failed to close copy: %w", err)
		}

		if _, err := tx.ExecContext(ctx, "DROP TABLE "+live); err != nil {
			return fmt.Errorf("failed to drop live table: %w", err)
		}
		if _, err := tx.ExecContext(ctx, "ALTER TABLE "+staging+" RENAME TO "+live); err != nil {
			return fmt.Errorf("failed to swap tables: %w", err)
		}
		return nil
	})
}

// NullFloat maps NaN to SQL NULL.
func NullFloat(v float64) any {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return nil
	}
	return v
}
