package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/guregu/null/v6"

	logx "freshen/pkg/logx"

	_ "modernc.org/sqlite"
)

const sqliteSchema = `
CREATE TABLE IF NOT EXISTS tasks (
	id           TEXT PRIMARY KEY,
	min_age_ms   INTEGER NOT NULL,
	max_age_ms   INTEGER NOT NULL,
	status       TEXT NOT NULL,
	last_ms      INTEGER,
	last_status  TEXT NOT NULL,
	last_error   TEXT,
	last_end_ms  INTEGER,
	last_elapsed TEXT,
	last_result  TEXT,
	next_ms      INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS tasks_due_idx ON tasks(next_ms, status);
`

const taskColumns = "id, min_age_ms, max_age_ms, status, last_ms, last_status, last_error, last_end_ms, last_elapsed, last_result, next_ms"

type sqliteStore struct {
	db  *sql.DB
	log logx.Logger
}

func openSQLite(ctx context.Context, cfg Config, log logx.Logger) (Store, error) {
	path := strings.TrimSpace(cfg.Path)
	if path == "" {
		return nil, errors.New("storage.path is required for sqlite driver")
	}
	// "file:" DSNs (including in-memory databases) manage their own location.
	if !strings.HasPrefix(path, "file:") {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, err
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	// SQLite prefers a small number of concurrent writers.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	// Basic pragmas.
	if cfg.BusyTimeout > 0 {
		ms := cfg.BusyTimeout.Milliseconds()
		_, _ = db.ExecContext(ctx, fmt.Sprintf("PRAGMA busy_timeout = %d", ms))
	}
	_, _ = db.ExecContext(ctx, "PRAGMA journal_mode = WAL")
	_, _ = db.ExecContext(ctx, "PRAGMA synchronous = NORMAL")

	if _, err := db.ExecContext(ctx, sqliteSchema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("create sqlite schema: %w", err)
	}
	return &sqliteStore{db: db, log: log}, nil
}

func (s *sqliteStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

func (s *sqliteStore) Insert(ctx context.Context, rec Record) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO tasks(`+taskColumns+`) VALUES(?,?,?,?,?,?,?,?,?,?,?)`,
		insertArgs(rec)...)
	if err != nil && strings.Contains(err.Error(), "UNIQUE constraint") {
		return ErrExists
	}
	return err
}

func (s *sqliteStore) Find(ctx context.Context, f Filter) ([]Record, error) {
	where, args := sqliteWhere(f)
	rows, err := s.db.QueryContext(ctx,
		"SELECT "+taskColumns+" FROM tasks"+where+" ORDER BY id", args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Record
	for rows.Next() {
		rec, err := scanTaskRow(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

func (s *sqliteStore) FindOne(ctx context.Context, f Filter) (Record, error) {
	where, args := sqliteWhere(f)
	row := s.db.QueryRowContext(ctx,
		"SELECT "+taskColumns+" FROM tasks"+where+" ORDER BY id LIMIT 1", args...)
	rec, err := scanTaskRow(row)
	if errors.Is(err, sql.ErrNoRows) {
		return Record{}, ErrNotFound
	}
	return rec, err
}

func (s *sqliteStore) Update(ctx context.Context, f Filter, p Patch, opts UpdateOptions) (int, error) {
	cols, setArgs := sqlitePatchColumns(p)
	if len(cols) == 0 {
		return 0, errors.New("empty patch")
	}

	if opts.Upsert {
		if f.ID == "" {
			return 0, errors.New("upsert requires an id filter")
		}
		rec := Record{ID: f.ID}
		p.Apply(&rec)
		sets := make([]string, 0, len(cols))
		for _, c := range cols {
			sets = append(sets, c+" = excluded."+c)
		}
		_, err := s.db.ExecContext(ctx,
			`INSERT INTO tasks(`+taskColumns+`) VALUES(?,?,?,?,?,?,?,?,?,?,?)
			 ON CONFLICT(id) DO UPDATE SET `+strings.Join(sets, ", "),
			insertArgs(rec)...)
		if err != nil {
			return 0, err
		}
		return 1, nil
	}

	sets := make([]string, 0, len(cols))
	for _, c := range cols {
		sets = append(sets, c+" = ?")
	}
	where, whereArgs := sqliteWhere(f)
	res, err := s.db.ExecContext(ctx,
		"UPDATE tasks SET "+strings.Join(sets, ", ")+where,
		append(setArgs, whereArgs...)...)
	if err != nil {
		return 0, err
	}
	n, err := res.RowsAffected()
	return int(n), err
}

func sqliteWhere(f Filter) (string, []any) {
	conds := make([]string, 0, 3)
	args := make([]any, 0, 3)
	if f.ID != "" {
		conds = append(conds, "id = ?")
		args = append(args, f.ID)
	}
	if !f.NextBefore.IsZero() {
		conds = append(conds, "next_ms < ?")
		args = append(args, f.NextBefore.UnixMilli())
	}
	if f.StatusNot != "" {
		conds = append(conds, "status <> ?")
		args = append(args, string(f.StatusNot))
	}
	if len(conds) == 0 {
		return "", nil
	}
	return " WHERE " + strings.Join(conds, " AND "), args
}

// sqlitePatchColumns flattens the set fields of a patch into
// column/value pairs in stable column order.
func sqlitePatchColumns(p Patch) ([]string, []any) {
	cols := make([]string, 0, 10)
	args := make([]any, 0, 10)
	add := func(col string, v any) {
		cols = append(cols, col)
		args = append(args, v)
	}
	if p.MinAge != nil {
		add("min_age_ms", p.MinAge.Milliseconds())
	}
	if p.MaxAge != nil {
		add("max_age_ms", p.MaxAge.Milliseconds())
	}
	if p.Status != nil {
		add("status", string(*p.Status))
	}
	if p.Last != nil {
		add("last_ms", msOrNil(*p.Last))
	}
	if p.LastStatus != nil {
		add("last_status", string(*p.LastStatus))
	}
	if p.LastError != nil {
		add("last_error", strOrNil(*p.LastError))
	}
	if p.LastEnd != nil {
		add("last_end_ms", msOrNil(*p.LastEnd))
	}
	if p.LastElapsed != nil {
		add("last_elapsed", strOrNil(*p.LastElapsed))
	}
	if p.LastResult != nil {
		add("last_result", strOrNil(*p.LastResult))
	}
	if p.Next != nil {
		add("next_ms", p.Next.UnixMilli())
	}
	return cols, args
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanTaskRow(row rowScanner) (Record, error) {
	var (
		rec           Record
		minMS, maxMS  int64
		nextMS        int64
		status        string
		lastStatus    string
		lastMS, endMS sql.NullInt64
	)
	err := row.Scan(&rec.ID, &minMS, &maxMS, &status, &lastMS, &lastStatus,
		&rec.LastError, &endMS, &rec.LastElapsed, &rec.LastResult, &nextMS)
	if err != nil {
		return Record{}, err
	}
	rec.MinAge = time.Duration(minMS) * time.Millisecond
	rec.MaxAge = time.Duration(maxMS) * time.Millisecond
	rec.Status = Status(status)
	rec.LastStatus = Outcome(lastStatus)
	if lastMS.Valid {
		rec.Last = null.TimeFrom(time.UnixMilli(lastMS.Int64))
	}
	if endMS.Valid {
		rec.LastEnd = null.TimeFrom(time.UnixMilli(endMS.Int64))
	}
	rec.Next = time.UnixMilli(nextMS)
	return rec, nil
}

func insertArgs(rec Record) []any {
	return []any{
		rec.ID,
		rec.MinAge.Milliseconds(),
		rec.MaxAge.Milliseconds(),
		string(rec.Status),
		msOrNil(rec.Last),
		string(rec.LastStatus),
		strOrNil(rec.LastError),
		msOrNil(rec.LastEnd),
		strOrNil(rec.LastElapsed),
		strOrNil(rec.LastResult),
		rec.Next.UnixMilli(),
	}
}

func msOrNil(t null.Time) any {
	if !t.Valid {
		return nil
	}
	return t.Time.UnixMilli()
}

func strOrNil(v null.String) any {
	if !v.Valid {
		return nil
	}
	return v.String
}
