package memory

import (
	"context"
	"database/sql"
	"embed"
	"encoding/json"
	"fmt"
	"log/slog"
	"path"
	"sort"
	"strings"
	"time"

	_ "modernc.org/sqlite" // SQLite driver
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// SQLiteStore implements Store on SQLite. Similarity is computed in Go over
// the caller's rows; at the expected scale (hundreds to low thousands of items
// per user) this avoids a vector extension, which modernc.org/sqlite cannot
// load anyway.
type SQLiteStore struct {
	db     *sql.DB
	logger *slog.Logger
}

// ParseSQLiteDSN turns a "sqlite:///abs/path" style DSN into a driver path.
// Plain paths and ":memory:" are returned unchanged.
func ParseSQLiteDSN(dsn string) string {
	switch {
	case strings.HasPrefix(dsn, "sqlite:///"):
		return "/" + strings.TrimPrefix(dsn, "sqlite:///")
	case strings.HasPrefix(dsn, "sqlite://"):
		return strings.TrimPrefix(dsn, "sqlite://")
	default:
		return dsn
	}
}

// OpenSQLiteStore opens the database behind dsn and prepares its schema.
// ddlMode "create" (the default) applies pending migrations; "validate" only
// checks that every migration has already been applied.
func OpenSQLiteStore(dsn, ddlMode string, logger *slog.Logger) (*SQLiteStore, error) {
	if logger == nil {
		logger = slog.Default()
	}
	db, err := sql.Open("sqlite", ParseSQLiteDSN(dsn))
	if err != nil {
		return nil, fmt.Errorf("memory sqlite: open database: %w", err)
	}

	// SQLite is single-writer; one shared connection serializes callers in
	// database/sql instead of across competing file locks.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	pragmas := []string{
		"PRAGMA journal_mode = WAL",
		"PRAGMA synchronous = NORMAL",
		"PRAGMA busy_timeout = 5000",
	}
	for _, pragma := range pragmas {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, fmt.Errorf("memory sqlite: set pragma: %w", err)
		}
	}

	s := &SQLiteStore{db: db, logger: logger}

	switch ddlMode {
	case "", DDLCreate:
		err = s.runMigrations()
	case DDLValidate:
		err = s.validateSchema()
	default:
		err = fmt.Errorf("unknown ddl_mode %q", ddlMode)
	}
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("memory sqlite: %w", err)
	}

	return s, nil
}

// Close closes the database connection.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// DB exposes the connection for tests and maintenance queries.
func (s *SQLiteStore) DB() *sql.DB {
	return s.db
}

type migration struct {
	version     int
	description string
	file        string
}

// migrations lists the embedded migration files in version order.
func migrations() ([]migration, error) {
	entries, err := migrationsFS.ReadDir("migrations")
	if err != nil {
		return nil, fmt.Errorf("read migrations directory: %w", err)
	}

	var out []migration
	seen := make(map[int]string, len(entries))
	for _, entry := range entries {
		name := entry.Name()
		if entry.IsDir() || !strings.HasSuffix(name, ".sql") {
			continue
		}
		parts := strings.SplitN(name, "_", 2)
		if len(parts) < 2 {
			continue
		}
		var version int
		if _, err := fmt.Sscanf(parts[0], "%d", &version); err != nil {
			continue
		}
		if prev, dup := seen[version]; dup {
			return nil, fmt.Errorf("duplicate migration version %04d: %q and %q", version, prev, name)
		}
		seen[version] = name
		out = append(out, migration{
			version:     version,
			description: strings.TrimSuffix(parts[1], ".sql"),
			file:        name,
		})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].version < out[j].version })
	return out, nil
}

func (s *SQLiteStore) ensureMigrationsTable() error {
	_, err := s.db.Exec(`
		CREATE TABLE IF NOT EXISTS schema_migrations (
			version INTEGER PRIMARY KEY,
			applied_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
			description TEXT NOT NULL
		)
	`)
	if err != nil {
		return fmt.Errorf("create migrations table: %w", err)
	}
	return nil
}

func (s *SQLiteStore) currentVersion() (int, error) {
	var v int
	if err := s.db.QueryRow("SELECT COALESCE(MAX(version), 0) FROM schema_migrations").Scan(&v); err != nil {
		return 0, fmt.Errorf("get current schema version: %w", err)
	}
	return v, nil
}

// runMigrations applies every pending migration, each in its own transaction.
func (s *SQLiteStore) runMigrations() error {
	if err := s.ensureMigrationsTable(); err != nil {
		return err
	}
	current, err := s.currentVersion()
	if err != nil {
		return err
	}
	all, err := migrations()
	if err != nil {
		return err
	}

	for _, m := range all {
		if m.version <= current {
			continue
		}
		content, err := migrationsFS.ReadFile(path.Join("migrations", m.file))
		if err != nil {
			return fmt.Errorf("read migration %s: %w", m.file, err)
		}

		tx, err := s.db.Begin()
		if err != nil {
			return fmt.Errorf("begin migration %d: %w", m.version, err)
		}
		if _, err := tx.Exec(string(content)); err != nil {
			tx.Rollback()
			return fmt.Errorf("execute migration %d: %w", m.version, err)
		}
		if _, err := tx.Exec(
			"INSERT INTO schema_migrations (version, applied_at, description) VALUES (?, ?, ?)",
			m.version, time.Now(), m.description,
		); err != nil {
			tx.Rollback()
			return fmt.Errorf("record migration %d: %w", m.version, err)
		}
		if err := tx.Commit(); err != nil {
			return fmt.Errorf("commit migration %d: %w", m.version, err)
		}

		s.logger.Info("applied migration", "version", fmt.Sprintf("%04d", m.version), "description", m.description)
	}
	return nil
}

// validateSchema fails unless the newest embedded migration is applied.
func (s *SQLiteStore) validateSchema() error {
	if err := s.ensureMigrationsTable(); err != nil {
		return err
	}
	current, err := s.currentVersion()
	if err != nil {
		return err
	}
	all, err := migrations()
	if err != nil {
		return err
	}
	if len(all) > 0 && current < all[len(all)-1].version {
		return fmt.Errorf("schema at version %d, want %d (run with ddl_mode=%s)", current, all[len(all)-1].version, DDLCreate)
	}
	return nil
}

// Put inserts or replaces records in a single transaction.
func (s *SQLiteStore) Put(ctx context.Context, records []Record) error {
	if len(records) == 0 {
		return nil
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("memory sqlite: begin: %w", err)
	}
	defer tx.Rollback()

	for _, rec := range records {
		scopeJSON, err := json.Marshal(rec.UserScope)
		if err != nil {
			return fmt.Errorf("memory sqlite: marshal scope: %w", err)
		}
		var metadataJSON, embeddingJSON []byte
		if len(rec.Metadata) > 0 {
			if metadataJSON, err = json.Marshal(rec.Metadata); err != nil {
				return fmt.Errorf("memory sqlite: marshal metadata: %w", err)
			}
		}
		if rec.Embedding != nil {
			if embeddingJSON, err = json.Marshal(rec.Embedding); err != nil {
				return fmt.Errorf("memory sqlite: marshal embedding: %w", err)
			}
		}

		_, err = tx.ExecContext(ctx, `
			INSERT OR REPLACE INTO memory_items
				(id, resource_id, user_id, user_scope, summary, category, metadata, embedding, created_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			rec.ID,
			rec.ResourceID,
			rec.UserScope["user_id"],
			string(scopeJSON),
			rec.Summary,
			rec.Category,
			nullableText(metadataJSON),
			nullableText(embeddingJSON),
			rec.CreatedAt.UTC().Format(time.RFC3339Nano),
		)
		if err != nil {
			return fmt.Errorf("memory sqlite: insert item: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("memory sqlite: commit: %w", err)
	}

	s.logger.Debug("memory sqlite: stored items", "count", len(records), "resource_id", records[0].ResourceID)
	return nil
}

// Search loads the candidate rows and ranks them by cosine similarity.
// A user_id key in where is pushed down to SQL; other keys are matched
// against the stored scope.
func (s *SQLiteStore) Search(ctx context.Context, embedding []float32, where map[string]string, topK int) ([]Item, error) {
	if topK <= 0 || len(embedding) == 0 {
		return nil, nil
	}

	query := `
		SELECT id, resource_id, user_scope, summary, category, metadata, embedding, created_at
		FROM memory_items
		WHERE embedding IS NOT NULL`
	var args []any
	if uid, ok := where["user_id"]; ok {
		query += " AND user_id = ?"
		args = append(args, uid)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("memory sqlite: query items: %w", err)
	}
	defer rows.Close()

	var items []Item
	for rows.Next() {
		item, scope, vec, err := scanItem(rows)
		if err != nil {
			s.logger.Warn("memory sqlite: skip malformed row", "err", err)
			continue
		}
		if !matchesScope(scope, where) || len(vec) == 0 {
			continue
		}
		item.Score = cosineSimilarity(embedding, vec)
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("memory sqlite: iterate rows: %w", err)
	}

	return rankItems(items, topK), nil
}

func scanItem(rows *sql.Rows) (Item, map[string]string, []float32, error) {
	var (
		item          Item
		scopeJSON     string
		metadataJSON  sql.NullString
		embeddingJSON sql.NullString
		createdAt     string
	)
	if err := rows.Scan(&item.ID, &item.ResourceID, &scopeJSON, &item.Summary, &item.Category,
		&metadataJSON, &embeddingJSON, &createdAt); err != nil {
		return Item{}, nil, nil, fmt.Errorf("scan row: %w", err)
	}

	scope := map[string]string{}
	if err := json.Unmarshal([]byte(scopeJSON), &scope); err != nil {
		return Item{}, nil, nil, fmt.Errorf("unmarshal scope: %w", err)
	}

	var vec []float32
	if embeddingJSON.Valid && embeddingJSON.String != "" {
		if err := json.Unmarshal([]byte(embeddingJSON.String), &vec); err != nil {
			return Item{}, nil, nil, fmt.Errorf("unmarshal embedding: %w", err)
		}
	}

	if metadataJSON.Valid && metadataJSON.String != "" {
		item.Metadata = map[string]any{}
		if err := json.Unmarshal([]byte(metadataJSON.String), &item.Metadata); err != nil {
			return Item{}, nil, nil, fmt.Errorf("unmarshal metadata: %w", err)
		}
	}

	t, err := time.Parse(time.RFC3339Nano, createdAt)
	if err != nil {
		return Item{}, nil, nil, fmt.Errorf("parse created_at: %w", err)
	}
	item.CreatedAt = t

	return item, scope, vec, nil
}

func nullableText(b []byte) any {
	if b == nil {
		return nil
	}
	return string(b)
}

// Compile-time interface satisfaction check.
var _ Store = (*SQLiteStore)(nil)
