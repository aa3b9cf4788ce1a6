package configstore

import (
	"context"
	"database/sql"
	"embed"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/postgres"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	_ "github.com/jackc/pgx/v5/stdlib" // Register pgx driver for database/sql

	"github.com/streamhub/core/pkg/model"
)

//go:embed migrations
var migrationsFS embed.FS

// PostgresStore is the production Store, backed by two JSONB document
// tables. The JSON column IS the wire shape of §6's export/import
// format, so persistence and export are the same representation.
type PostgresStore struct {
	db *sql.DB
}

// NewPostgresStore opens a connection pool, pings it, and applies any
// pending embedded migrations.
func NewPostgresStore(ctx context.Context, cfg Config) (*PostgresStore, error) {
	dsn := fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		cfg.Host, cfg.Port, cfg.User, cfg.Password, cfg.Database, cfg.SSLMode,
	)

	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	db.SetMaxOpenConns(cfg.MaxOpenConns)
	db.SetMaxIdleConns(cfg.MaxIdleConns)
	db.SetConnMaxLifetime(cfg.ConnMaxLifetime)
	db.SetConnMaxIdleTime(cfg.ConnMaxIdleTime)

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	if err := runMigrations(db, cfg); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}

	return &PostgresStore{db: db}, nil
}

// NewPostgresStoreFromDB wraps an existing connection (useful for tests)
// and applies migrations.
func NewPostgresStoreFromDB(db *sql.DB, databaseName string) (*PostgresStore, error) {
	if err := runMigrations(db, Config{Database: databaseName}); err != nil {
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}
	return &PostgresStore{db: db}, nil
}

// DB returns the underlying pool for health checks.
func (s *PostgresStore) DB() *sql.DB { return s.db }

// Close closes the connection pool.
func (s *PostgresStore) Close() error { return s.db.Close() }

// LoadMappings returns every stored mapping, ordered by id.
func (s *PostgresStore) LoadMappings(ctx context.Context) ([]model.MappingConfig, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT config FROM mappings ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("query mappings: %w", err)
	}
	defer rows.Close()

	var out []model.MappingConfig
	for rows.Next() {
		var raw []byte
		if err := rows.Scan(&raw); err != nil {
			return nil, fmt.Errorf("scan mapping: %w", err)
		}
		var m model.MappingConfig
		if err := json.Unmarshal(raw, &m); err != nil {
			return nil, fmt.Errorf("decode mapping: %w", err)
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

// LoadPatterns returns every stored pattern, ordered by id.
func (s *PostgresStore) LoadPatterns(ctx context.Context) ([]model.Pattern, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT config FROM patterns ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("query patterns: %w", err)
	}
	defer rows.Close()

	var out []model.Pattern
	for rows.Next() {
		var raw []byte
		if err := rows.Scan(&raw); err != nil {
			return nil, fmt.Errorf("scan pattern: %w", err)
		}
		var p model.Pattern
		if err := json.Unmarshal(raw, &p); err != nil {
			return nil, fmt.Errorf("decode pattern: %w", err)
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

// SaveMapping inserts or replaces one mapping document.
func (s *PostgresStore) SaveMapping(ctx context.Context, m model.MappingConfig) error {
	raw, err := json.Marshal(m)
	if err != nil {
		return fmt.Errorf("encode mapping %s: %w", m.ID, err)
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO mappings (id, config, updated_at) VALUES ($1, $2, now())
		ON CONFLICT (id) DO UPDATE SET config = EXCLUDED.config, updated_at = now()`,
		m.ID, raw)
	if err != nil {
		return fmt.Errorf("save mapping %s: %w", m.ID, err)
	}
	return nil
}

// SavePattern inserts or replaces one pattern document.
func (s *PostgresStore) SavePattern(ctx context.Context, p model.Pattern) error {
	raw, err := json.Marshal(p)
	if err != nil {
		return fmt.Errorf("encode pattern %s: %w", p.ID, err)
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO patterns (id, config, updated_at) VALUES ($1, $2, now())
		ON CONFLICT (id) DO UPDATE SET config = EXCLUDED.config, updated_at = now()`,
		p.ID, raw)
	if err != nil {
		return fmt.Errorf("save pattern %s: %w", p.ID, err)
	}
	return nil
}

// DeleteMapping removes a mapping; deleting an unknown id is a no-op.
func (s *PostgresStore) DeleteMapping(ctx context.Context, id string) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM mappings WHERE id = $1`, id); err != nil {
		return fmt.Errorf("delete mapping %s: %w", id, err)
	}
	return nil
}

// DeletePattern removes a pattern; deleting an unknown id is a no-op.
func (s *PostgresStore) DeletePattern(ctx context.Context, id string) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM patterns WHERE id = $1`, id); err != nil {
		return fmt.Errorf("delete pattern %s: %w", id, err)
	}
	return nil
}

var _ Store = (*PostgresStore)(nil)

// runMigrations applies pending embedded migrations using golang-migrate.
// Migration files are embedded into the binary with go:embed so
// production deployments need no external files.
func runMigrations(db *sql.DB, cfg Config) error {
	hasMigrations, err := hasEmbeddedMigrations()
	if err != nil {
		return fmt.Errorf("failed to check embedded migrations: %w", err)
	}
	if !hasMigrations {
		return fmt.Errorf("no embedded migration files found — binary may be built incorrectly")
	}

	driver, err := postgres.WithInstance(db, &postgres.Config{})
	if err != nil {
		return fmt.Errorf("failed to create postgres driver: %w", err)
	}

	sourceDriver, err := iofs.New(migrationsFS, "migrations")
	if err != nil {
		return fmt.Errorf("failed to create migration source: %w", err)
	}

	m, err := migrate.NewWithInstance("iofs", sourceDriver, cfg.Database, driver)
	if err != nil {
		return fmt.Errorf("failed to create migrate instance: %w", err)
	}

	err = m.Up()
	if err != nil && err != migrate.ErrNoChange {
		return fmt.Errorf("failed to apply migrations: %w", err)
	}

	// Close only the migration source driver. We must NOT call m.Close()
	// because that also closes the database driver, which calls db.Close()
	// on the shared *sql.DB passed via postgres.WithInstance().
	if err := sourceDriver.Close(); err != nil {
		return fmt.Errorf("failed to close migration source: %w", err)
	}
	return nil
}

// hasEmbeddedMigrations checks if the embedded FS contains any .sql
// migration files.
func hasEmbeddedMigrations() (bool, error) {
	entries, err := fs.ReadDir(migrationsFS, "migrations")
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return false, nil
		}
		return false, fmt.Errorf("failed to read embedded migrations: %w", err)
	}
	for _, entry := range entries {
		if !entry.IsDir() && len(entry.Name()) > 4 && entry.Name()[len(entry.Name())-4:] == ".sql" {
			return true, nil
		}
	}
	return false, nil
}
