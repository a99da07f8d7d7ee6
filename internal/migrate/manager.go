// Package migrate applies the embedded schema and seed files to PostgreSQL.
package migrate

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io/fs"
	"path"
	"sort"
	"strings"
	"time"

	"go.uber.org/zap"

	"trustcenter.dev/internal/obs"
)

const (
	defaultMigrationsTable = "schema_migrations"
	defaultSeedsTable      = "schema_seeds"

	// lockKey identifies the advisory lock held while files are applied.
	lockKey int64 = 0x7472757374
)

// ErrNothingApplied is returned by Down when no migration is recorded.
var ErrNothingApplied = errors.New("no migrations applied")

// Applied is one bookkeeping row.
type Applied struct {
	Name      string
	AppliedAt time.Time
}

// Manager runs migration and seed files read from fsys. Every mutating call
// holds a session advisory lock so concurrent deploys apply files once.
type Manager struct {
	db              *sql.DB
	fsys            fs.FS
	migrationsDir   string
	seedsDir        string
	migrationsTable string
	seedsTable      string
	log             *zap.Logger
}

type Option func(*Manager)

func WithMigrationsTable(name string) Option {
	return func(m *Manager) {
		if name != "" {
			m.migrationsTable = name
		}
	}
}

func WithSeedsTable(name string) Option {
	return func(m *Manager) {
		if name != "" {
			m.seedsTable = name
		}
	}
}

// NewManager constructs a Manager. Directories are relative to fsys; use
// os.DirFS for files on disk or the embedded set shipped with the binary.
func NewManager(db *sql.DB, fsys fs.FS, migrationsDir, seedsDir string, opts ...Option) *Manager {
	m := &Manager{
		db:              db,
		fsys:            fsys,
		migrationsDir:   migrationsDir,
		seedsDir:        seedsDir,
		migrationsTable: defaultMigrationsTable,
		seedsTable:      defaultSeedsTable,
		log:             obs.Logger().Named("migrate"),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Up applies pending migrations in file name order and reports how many ran.
func (m *Manager) Up(ctx context.Context) (int, error) {
	var n int
	err := m.locked(ctx, func(conn *sql.Conn) error {
		var err error
		n, err = m.applyPending(ctx, conn, m.migrationsDir, ".up.sql", m.migrationsTable)
		return err
	})
	return n, err
}

// Seed applies seed files that have not run yet.
func (m *Manager) Seed(ctx context.Context) (int, error) {
	var n int
	err := m.locked(ctx, func(conn *sql.Conn) error {
		var err error
		n, err = m.applyPending(ctx, conn, m.seedsDir, ".sql", m.seedsTable)
		return err
	})
	return n, err
}

// Down rolls back the latest steps migrations, newest first.
func (m *Manager) Down(ctx context.Context, steps int) error {
	if steps <= 0 {
		steps = 1
	}
	return m.locked(ctx, func(conn *sql.Conn) error {
		applied, err := m.history(ctx, conn, m.migrationsTable)
		if err != nil {
			return err
		}
		if len(applied) == 0 {
			return ErrNothingApplied
		}
		for i := 0; i < steps && len(applied) > 0; i++ {
			last := applied[len(applied)-1].Name
			applied = applied[:len(applied)-1]

			downPath := strings.TrimSuffix(path.Join(m.migrationsDir, last), ".up.sql") + ".down.sql"
			if _, err := fs.Stat(m.fsys, downPath); err != nil {
				return fmt.Errorf("missing down migration for %s", last)
			}
			forget := fmt.Sprintf(`delete from %s where name = $1`, m.migrationsTable)
			if err := m.run(ctx, conn, downPath, forget, last); err != nil {
				return fmt.Errorf("rollback %s: %w", last, err)
			}
			m.log.Info("migration_rolled_back", zap.String("name", last))
		}
		return nil
	})
}

// Status lists applied migrations, oldest first.
func (m *Manager) Status(ctx context.Context) ([]Applied, error) {
	conn, err := m.db.Conn(ctx)
	if err != nil {
		return nil, err
	}
	defer conn.Close()
	if err := m.ensureTables(ctx, conn); err != nil {
		return nil, err
	}
	return m.history(ctx, conn, m.migrationsTable)
}

// Pending lists migration files not yet applied.
func (m *Manager) Pending(ctx context.Context) ([]string, error) {
	applied, err := m.Status(ctx)
	if err != nil {
		return nil, err
	}
	done := make(map[string]bool, len(applied))
	for _, a := range applied {
		done[a.Name] = true
	}
	files, err := collectSQL(m.fsys, m.migrationsDir, ".up.sql")
	if err != nil {
		return nil, err
	}
	var out []string
	for _, f := range files {
		if !done[f.Base] {
			out = append(out, f.Base)
		}
	}
	return out, nil
}

func (m *Manager) locked(ctx context.Context, fn func(*sql.Conn) error) error {
	conn, err := m.db.Conn(ctx)
	if err != nil {
		return err
	}
	defer conn.Close()

	if _, err := conn.ExecContext(ctx, `select pg_advisory_lock($1)`, lockKey); err != nil {
		return fmt.Errorf("acquire migration lock: %w", err)
	}
	defer func() {
		if _, err := conn.ExecContext(context.WithoutCancel(ctx), `select pg_advisory_unlock($1)`, lockKey); err != nil {
			m.log.Warn("release migration lock", zap.Error(err))
		}
	}()

	if err := m.ensureTables(ctx, conn); err != nil {
		return err
	}
	return fn(conn)
}

func (m *Manager) applyPending(ctx context.Context, conn *sql.Conn, dir, suffix, table string) (int, error) {
	applied, err := m.history(ctx, conn, table)
	if err != nil {
		return 0, err
	}
	done := make(map[string]bool, len(applied))
	for _, a := range applied {
		done[a.Name] = true
	}
	files, err := collectSQL(m.fsys, dir, suffix)
	if err != nil {
		return 0, err
	}
	record := fmt.Sprintf(`insert into %s(name, applied_at) values ($1, now())`, table)
	n := 0
	for _, f := range files {
		if done[f.Base] {
			continue
		}
		start := time.Now()
		if err := m.run(ctx, conn, f.Path, record, f.Base); err != nil {
			return n, fmt.Errorf("apply %s: %w", f.Base, err)
		}
		m.log.Info("sql_file_applied",
			zap.String("table", table),
			zap.String("name", f.Base),
			zap.Int64("duration_ms", time.Since(start).Milliseconds()),
		)
		n++
	}
	return n, nil
}

// run executes a file and its bookkeeping statement in one transaction.
func (m *Manager) run(ctx context.Context, conn *sql.Conn, file, bookkeeping, name string) error {
	body, err := fs.ReadFile(m.fsys, file)
	if err != nil {
		return err
	}
	tx, err := conn.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()
	for _, stmt := range splitStatements(string(body)) {
		if _, err := tx.ExecContext(ctx, stmt); err != nil {
			return err
		}
	}
	if _, err := tx.ExecContext(ctx, bookkeeping, name); err != nil {
		return err
	}
	return tx.Commit()
}

func (m *Manager) ensureTables(ctx context.Context, conn *sql.Conn) error {
	for _, table := range []string{m.migrationsTable, m.seedsTable} {
		ddl := fmt.Sprintf(`create table if not exists %s (name text primary key, applied_at timestamptz not null default now())`, table)
		if _, err := conn.ExecContext(ctx, ddl); err != nil {
			return fmt.Errorf("ensure %s: %w", table, err)
		}
	}
	return nil
}

func (m *Manager) history(ctx context.Context, conn *sql.Conn, table string) ([]Applied, error) {
	rows, err := conn.QueryContext(ctx, fmt.Sprintf(`select name, applied_at from %s order by applied_at, name`, table))
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []Applied
	for rows.Next() {
		var a Applied
		if err := rows.Scan(&a.Name, &a.AppliedAt); err != nil {
			return nil, err
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

type sqlFile struct {
	Base string
	Path string
}

// collectSQL lists files in dir ending with suffix, sorted by name. A
// missing directory yields no files.
func collectSQL(fsys fs.FS, dir, suffix string) ([]sqlFile, error) {
	if dir == "" || fsys == nil {
		return nil, nil
	}
	entries, err := fs.ReadDir(fsys, dir)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	var files []sqlFile
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), suffix) {
			continue
		}
		files = append(files, sqlFile{Base: e.Name(), Path: path.Join(dir, e.Name())})
	}
	sort.Slice(files, func(i, j int) bool { return files[i].Base < files[j].Base })
	return files, nil
}

// splitStatements splits on semicolons outside single-quoted literals and
// drops "--" line comments and empty statements.
func splitStatements(src string) []string {
	var (
		out      []string
		cur      strings.Builder
		inString bool
	)
	flush := func() {
		if s := strings.TrimSpace(cur.String()); s != "" {
			out = append(out, s)
		}
		cur.Reset()
	}
	for i := 0; i < len(src); i++ {
		c := src[i]
		switch {
		case c == '\'':
			inString = !inString
			cur.WriteByte(c)
		case !inString && c == '-' && i+1 < len(src) && src[i+1] == '-':
			for i < len(src) && src[i] != '\n' {
				i++
			}
			cur.WriteByte('\n')
		case !inString && c == ';':
			flush()
		default:
			cur.WriteByte(c)
		}
	}
	flush()
	return out
}
