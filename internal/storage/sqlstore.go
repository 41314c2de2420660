/*
 * Copyright (c) 2025 by Alexander Drost, Oldenburg, Germany.
 * This file is licensed to you under the Apache License, Version 2.0 (the "License"); you may not use this file except in compliance with the License.  You may obtain a copy of the License at
 *   http://www.apache.org/licenses/LICENSE-2.0
 * Unless required by applicable law or agreed to in writing, software distributed under the License is distributed on an
 * "AS IS" BASIS, WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.  See the License for the specific language governing permissions and limitations under the License.
 */

package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	// PostgreSQL driver registered as "pgx"
	_ "github.com/jackc/pgx/v5/stdlib"
	// Pure-Go SQLite driver (CGO-free)
	_ "modernc.org/sqlite"

	"flyerpro/internal/domain"
	applog "flyerpro/internal/log"
	"flyerpro/internal/version"
)

const (
	// IndexDirName holds per-workspace database files under the workspace root.
	IndexDirName    = ".flyer"
	LibraryFileName = "library.sqlite"

	// schemaVersion tracks the library schema. Fresh databases start at 1
	// and are migrated forward.
	schemaVersion = 2

	// MaxRevisions is how many previous versions are kept per template.
	MaxRevisions = 20
)

// Dialect selects SQL flavor differences.
type Dialect string

const (
	DialectSQLite   Dialect = "sqlite"
	DialectPostgres Dialect = "postgres"
)

// SQLLibrary implements Library over database/sql.
type SQLLibrary struct {
	db      *sql.DB
	dialect Dialect
	log     *slog.Logger
}

var _ Library = (*SQLLibrary)(nil)

// LibraryPath returns the full path to the workspace's embedded library database.
func LibraryPath(root string) string {
	return filepath.Join(root, IndexDirName, LibraryFileName)
}

// OpenLibrary opens the library for the configured driver: "sqlite" (the
// default, stored under root) or "postgres" (dsn required).
func OpenLibrary(ctx context.Context, driver, dsn, root string) (*SQLLibrary, error) {
	switch strings.ToLower(strings.TrimSpace(driver)) {
	case "", "sqlite":
		if dsn != "" {
			return openSQLiteDSN(ctx, dsn)
		}
		return OpenSQLite(ctx, root)
	case "postgres", "pgx":
		return OpenPostgres(ctx, dsn)
	default:
		return nil, fmt.Errorf("unknown library driver %q", driver)
	}
}

// OpenSQLite ensures <root>/.flyer/library.sqlite exists, enables WAL mode and
// brings the schema up to date.
func OpenSQLite(ctx context.Context, root string) (*SQLLibrary, error) {
	if strings.TrimSpace(root) == "" {
		return nil, errors.New("workspace root is required")
	}
	if err := os.MkdirAll(filepath.Join(root, IndexDirName), 0o755); err != nil {
		return nil, fmt.Errorf("create %s dir: %w", IndexDirName, err)
	}
	// URI form with a busy timeout; SQLite wants forward slashes.
	dsn := fmt.Sprintf("file:%s?_pragma=busy_timeout(5000)", filepath.ToSlash(LibraryPath(root)))
	return openSQLiteDSN(ctx, dsn)
}

func openSQLiteDSN(ctx context.Context, dsn string) (*SQLLibrary, error) {
	l := applog.WithOperation(applog.WithComponent("storage"), "library_open").With(slog.String("driver", "sqlite"))
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		l.Error("sqlite open failed", slog.Any("err", err))
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	// single writer for embedded usage
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	ictx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if _, err := db.ExecContext(ictx, "PRAGMA journal_mode=WAL;"); err != nil {
		_ = db.Close()
		l.Error("enable WAL failed", slog.Any("err", err))
		return nil, fmt.Errorf("enable WAL: %w", err)
	}
	if _, err := db.ExecContext(ictx, "PRAGMA foreign_keys=ON;"); err != nil {
		l.Warn("enable foreign_keys failed", slog.Any("err", err))
	}
	return NewSQLLibrary(ictx, db, DialectSQLite)
}

// OpenPostgres connects through the pgx stdlib driver.
func OpenPostgres(ctx context.Context, dsn string) (*SQLLibrary, error) {
	if dsn == "" {
		return nil, errors.New("postgres dsn is required")
	}
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}
	pctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	if err := db.PingContext(pctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}
	return NewSQLLibrary(pctx, db, DialectPostgres)
}

// NewSQLLibrary wraps an open database and migrates it. The library owns db.
func NewSQLLibrary(ctx context.Context, db *sql.DB, dialect Dialect) (*SQLLibrary, error) {
	lib := &SQLLibrary{
		db:      db,
		dialect: dialect,
		log:     applog.WithComponent("library").With(slog.String("dialect", string(dialect))),
	}
	if err := lib.ensureMetaAndVersion(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	if err := lib.ensureBaseSchema(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	if err := lib.runMigrations(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	lib.log.Info("library ready")
	return lib, nil
}

// Close releases the database.
func (l *SQLLibrary) Close() error { return l.db.Close() }

// DB exposes the underlying handle for diagnostics and tests.
func (l *SQLLibrary) DB() *sql.DB { return l.db }

// rebind rewrites ? placeholders for PostgreSQL.
func (l *SQLLibrary) rebind(q string) string {
	if l.dialect != DialectPostgres {
		return q
	}
	var b strings.Builder
	n := 0
	for _, r := range q {
		if r == '?' {
			n++
			b.WriteByte('$')
			b.WriteString(strconv.Itoa(n))
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

func (l *SQLLibrary) serialPK() string {
	if l.dialect == DialectPostgres {
		return "BIGSERIAL PRIMARY KEY"
	}
	return "INTEGER PRIMARY KEY AUTOINCREMENT"
}

func (l *SQLLibrary) ensureMetaAndVersion(ctx context.Context) error {
	ddl := []string{
		`CREATE TABLE IF NOT EXISTS meta (
			key   TEXT PRIMARY KEY,
			value TEXT NOT NULL
		);`,
		`CREATE TABLE IF NOT EXISTS version (
			id          INTEGER PRIMARY KEY CHECK(id=1),
			schema      INTEGER NOT NULL,
			app         TEXT,
			created_at  TEXT NOT NULL,
			updated_at  TEXT NOT NULL
		);`,
	}
	for _, q := range ddl {
		if _, err := l.db.ExecContext(ctx, q); err != nil {
			return fmt.Errorf("create table: %w", err)
		}
	}
	now := timestamp(time.Now())
	appv := version.String()
	var cur int
	err := l.db.QueryRowContext(ctx, `SELECT schema FROM version WHERE id=1`).Scan(&cur)
	switch {
	case errors.Is(err, sql.ErrNoRows):
		if _, err := l.db.ExecContext(ctx, l.rebind(`INSERT INTO version (id, schema, app, created_at, updated_at) VALUES(1, 1, ?, ?, ?)`), appv, now, now); err != nil {
			return fmt.Errorf("insert version: %w", err)
		}
	case err != nil:
		return fmt.Errorf("read version: %w", err)
	default:
		// keep the schema number for migrations
		if _, err := l.db.ExecContext(ctx, l.rebind(`UPDATE version SET app=?, updated_at=? WHERE id=1`), appv, now); err != nil {
			return fmt.Errorf("update version: %w", err)
		}
	}
	return nil
}

// ensureBaseSchema creates the schema version 1 tables.
func (l *SQLLibrary) ensureBaseSchema(ctx context.Context) error {
	ddl := []string{
		`CREATE TABLE IF NOT EXISTS templates (
			name       TEXT PRIMARY KEY,
			html       TEXT NOT NULL,
			created_at TEXT NOT NULL,
			updated_at TEXT NOT NULL
		);`,
		`CREATE TABLE IF NOT EXISTS exports (
			id         ` + l.serialPK() + `,
			name       TEXT   NOT NULL,
			format     TEXT   NOT NULL,
			path       TEXT   NOT NULL,
			bytes      BIGINT NOT NULL DEFAULT 0,
			created_at TEXT   NOT NULL
		);`,
	}
	for _, q := range ddl {
		if _, err := l.db.ExecContext(ctx, q); err != nil {
			return fmt.Errorf("ensure library schema: %w", err)
		}
	}
	return nil
}

// SchemaVersion reports the applied schema version.
func (l *SQLLibrary) SchemaVersion(ctx context.Context) (int, error) {
	var cur int
	err := l.db.QueryRowContext(ctx, `SELECT schema FROM version WHERE id=1`).Scan(&cur)
	return cur, err
}

// runMigrations applies incremental schema migrations up to schemaVersion.
func (l *SQLLibrary) runMigrations(ctx context.Context) error {
	cur, err := l.SchemaVersion(ctx)
	if err != nil {
		return fmt.Errorf("read schema version: %w", err)
	}
	if cur > schemaVersion {
		l.log.Warn("library schema is newer than this build", slog.Int("schema", cur))
		return nil
	}
	for cur < schemaVersion {
		next := cur + 1
		var stmts []string
		switch next {
		case 2:
			stmts = []string{
				`CREATE TABLE IF NOT EXISTS template_revisions (
					id       ` + l.serialPK() + `,
					name     TEXT NOT NULL,
					html     TEXT NOT NULL,
					saved_at TEXT NOT NULL
				);`,
				`CREATE INDEX IF NOT EXISTS idx_revisions_name_ts ON template_revisions(name, saved_at);`,
				`CREATE INDEX IF NOT EXISTS idx_exports_created ON exports(created_at);`,
			}
		}
		tx, err := l.db.BeginTx(ctx, nil)
		if err != nil {
			return fmt.Errorf("begin migration %d: %w", next, err)
		}
		for _, q := range stmts {
			if _, err := tx.ExecContext(ctx, q); err != nil {
				_ = tx.Rollback()
				return fmt.Errorf("migration %d stmt failed: %w", next, err)
			}
		}
		if _, err := tx.ExecContext(ctx, l.rebind(`UPDATE version SET schema=?, updated_at=? WHERE id=1`), next, timestamp(time.Now())); err != nil {
			_ = tx.Rollback()
			return fmt.Errorf("migration %d update version: %w", next, err)
		}
		if err := tx.Commit(); err != nil {
			return fmt.Errorf("migration %d commit: %w", next, err)
		}
		l.log.Info("library migrated", slog.Int("schema", next))
		cur = next
	}
	return nil
}

func timestamp(t time.Time) string { return t.UTC().Format(time.RFC3339Nano) }

func parseTimestamp(s string) time.Time {
	t, _ := time.Parse(time.RFC3339Nano, s)
	return t
}

// Save inserts or replaces a template. When the stored markup changes, the
// previous version is kept as a revision.
func (l *SQLLibrary) Save(ctx context.Context, tpl domain.Template) error {
	name := strings.TrimSpace(tpl.Name)
	if name == "" {
		return errors.New("template name is required")
	}
	now := timestamp(time.Now())
	tx, err := l.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin save: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	var prev string
	err = tx.QueryRowContext(ctx, l.rebind(`SELECT html FROM templates WHERE name = ?`), name).Scan(&prev)
	switch {
	case errors.Is(err, sql.ErrNoRows):
	case err != nil:
		return fmt.Errorf("read template: %w", err)
	case prev != tpl.HTML:
		if _, err := tx.ExecContext(ctx, l.rebind(`INSERT INTO template_revisions(name, html, saved_at) VALUES (?, ?, ?)`), name, prev, now); err != nil {
			return fmt.Errorf("store revision: %w", err)
		}
		if _, err := tx.ExecContext(ctx, l.rebind(`DELETE FROM template_revisions WHERE name = ? AND id NOT IN (
			SELECT id FROM template_revisions WHERE name = ? ORDER BY id DESC LIMIT ?
		)`), name, name, MaxRevisions); err != nil {
			return fmt.Errorf("prune revisions: %w", err)
		}
	}
	if _, err := tx.ExecContext(ctx, l.rebind(`INSERT INTO templates(name, html, created_at, updated_at) VALUES (?, ?, ?, ?)
		ON CONFLICT(name) DO UPDATE SET html = excluded.html, updated_at = excluded.updated_at`), name, tpl.HTML, now, now); err != nil {
		return fmt.Errorf("save template: %w", err)
	}
	return tx.Commit()
}

// Get returns one template.
func (l *SQLLibrary) Get(ctx context.Context, name string) (Entry, error) {
	var e Entry
	var created, updated string
	err := l.db.QueryRowContext(ctx, l.rebind(`SELECT name, html, created_at, updated_at FROM templates WHERE name = ?`), name).
		Scan(&e.Name, &e.HTML, &created, &updated)
	if errors.Is(err, sql.ErrNoRows) {
		return e, fmt.Errorf("template %q: %w", name, ErrNotFound)
	}
	if err != nil {
		return e, err
	}
	e.CreatedAt, e.UpdatedAt = parseTimestamp(created), parseTimestamp(updated)
	return e, nil
}

// List returns all templates by name.
func (l *SQLLibrary) List(ctx context.Context) ([]Entry, error) {
	return l.queryEntries(ctx, `SELECT name, html, created_at, updated_at FROM templates ORDER BY name`)
}

// Search matches text against template names and markup, case-insensitively,
// most recently updated first.
func (l *SQLLibrary) Search(ctx context.Context, text string, limit int) ([]Entry, error) {
	if limit <= 0 {
		limit = 50
	}
	pat := "%" + escapeLike(strings.ToLower(strings.TrimSpace(text))) + "%"
	return l.queryEntries(ctx, l.rebind(`SELECT name, html, created_at, updated_at FROM templates
		WHERE lower(name) LIKE ? ESCAPE '\' OR lower(html) LIKE ? ESCAPE '\'
		ORDER BY updated_at DESC, name LIMIT ?`), pat, pat, limit)
}

func escapeLike(s string) string {
	return strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`).Replace(s)
}

func (l *SQLLibrary) queryEntries(ctx context.Context, q string, args ...any) ([]Entry, error) {
	rows, err := l.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()
	out := []Entry{}
	for rows.Next() {
		var e Entry
		var created, updated string
		if err := rows.Scan(&e.Name, &e.HTML, &created, &updated); err != nil {
			return nil, err
		}
		e.CreatedAt, e.UpdatedAt = parseTimestamp(created), parseTimestamp(updated)
		out = append(out, e)
	}
	return out, rows.Err()
}

// Delete removes a template and its revisions.
func (l *SQLLibrary) Delete(ctx context.Context, name string) error {
	res, err := l.db.ExecContext(ctx, l.rebind(`DELETE FROM templates WHERE name = ?`), name)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("template %q: %w", name, ErrNotFound)
	}
	if _, err := l.db.ExecContext(ctx, l.rebind(`DELETE FROM template_revisions WHERE name = ?`), name); err != nil {
		l.log.Warn("delete revisions failed", slog.String("name", name), slog.Any("err", err))
	}
	return nil
}

// Revisions returns up to limit previous versions of a template, newest first.
func (l *SQLLibrary) Revisions(ctx context.Context, name string, limit int) ([]Revision, error) {
	if limit <= 0 {
		limit = MaxRevisions
	}
	rows, err := l.db.QueryContext(ctx, l.rebind(`SELECT name, html, saved_at FROM template_revisions WHERE name = ? ORDER BY id DESC LIMIT ?`), name, limit)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()
	out := []Revision{}
	for rows.Next() {
		var r Revision
		var ts string
		if err := rows.Scan(&r.Name, &r.HTML, &ts); err != nil {
			return nil, err
		}
		r.SavedAt = parseTimestamp(ts)
		out = append(out, r)
	}
	return out, rows.Err()
}

// RecordExport appends to the export history and returns the record id.
func (l *SQLLibrary) RecordExport(ctx context.Context, rec ExportRecord) (int64, error) {
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = time.Now()
	}
	var id int64
	err := l.db.QueryRowContext(ctx, l.rebind(`INSERT INTO exports(name, format, path, bytes, created_at) VALUES (?, ?, ?, ?, ?) RETURNING id`),
		rec.Name, rec.Format, rec.Path, rec.Bytes, timestamp(rec.CreatedAt)).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("record export: %w", err)
	}
	return id, nil
}

// Exports returns up to limit export records, newest first.
func (l *SQLLibrary) Exports(ctx context.Context, limit int) ([]ExportRecord, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := l.db.QueryContext(ctx, l.rebind(`SELECT id, name, format, path, bytes, created_at FROM exports ORDER BY id DESC LIMIT ?`), limit)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()
	out := []ExportRecord{}
	for rows.Next() {
		var r ExportRecord
		var ts string
		if err := rows.Scan(&r.ID, &r.Name, &r.Format, &r.Path, &r.Bytes, &ts); err != nil {
			return nil, err
		}
		r.CreatedAt = parseTimestamp(ts)
		out = append(out, r)
	}
	return out, rows.Err()
}
