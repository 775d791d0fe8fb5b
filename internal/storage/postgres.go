package storage

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	logx "freshen/pkg/logx"
)

const postgresSchema = `
CREATE TABLE IF NOT EXISTS tasks (
	id           TEXT PRIMARY KEY,
	min_age_ms   BIGINT NOT NULL,
	max_age_ms   BIGINT NOT NULL,
	status       TEXT NOT NULL,
	last_run     TIMESTAMPTZ,
	last_status  TEXT NOT NULL,
	last_error   TEXT,
	last_end     TIMESTAMPTZ,
	last_elapsed TEXT,
	last_result  TEXT,
	next_due     TIMESTAMPTZ NOT NULL
);
CREATE INDEX IF NOT EXISTS tasks_due_idx ON tasks(next_due, status);
`

const pgTaskColumns = "id, min_age_ms, max_age_ms, status, last_run, last_status, last_error, last_end, last_elapsed, last_result, next_due"

type postgresStore struct {
	pool *pgxpool.Pool
	log  logx.Logger
}

func openPostgres(ctx context.Context, cfg Config, log logx.Logger) (Store, error) {
	dsn := strings.TrimSpace(cfg.DSN)
	if dsn == "" {
		return nil, errors.New("storage.dsn is required for postgres driver")
	}

	pcfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("parse postgres dsn: %w", err)
	}
	pool, err := pgxpool.NewWithConfig(ctx, pcfg)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}
	if _, err := pool.Exec(ctx, postgresSchema); err != nil {
		pool.Close()
		return nil, fmt.Errorf("create postgres schema: %w", err)
	}
	return &postgresStore{pool: pool, log: log}, nil
}

func (s *postgresStore) Close() error {
	s.pool.Close()
	return nil
}

func (s *postgresStore) Insert(ctx context.Context, rec Record) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO tasks(`+pgTaskColumns+`)
		 VALUES($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11)`,
		pgInsertArgs(rec)...)
	if err != nil && strings.Contains(err.Error(), "duplicate key") {
		return ErrExists
	}
	if err != nil {
		return fmt.Errorf("insert task: %w", err)
	}
	return nil
}

func (s *postgresStore) Find(ctx context.Context, f Filter) ([]Record, error) {
	where, args := postgresWhere(f, 0)
	rows, err := s.pool.Query(ctx,
		"SELECT "+pgTaskColumns+" FROM tasks"+where+" ORDER BY id", args...)
	if err != nil {
		return nil, fmt.Errorf("query tasks: %w", err)
	}
	defer rows.Close()

	var out []Record
	for rows.Next() {
		rec, err := scanPGTask(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

func (s *postgresStore) FindOne(ctx context.Context, f Filter) (Record, error) {
	where, args := postgresWhere(f, 0)
	row := s.pool.QueryRow(ctx,
		"SELECT "+pgTaskColumns+" FROM tasks"+where+" ORDER BY id LIMIT 1", args...)
	rec, err := scanPGTask(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return Record{}, ErrNotFound
	}
	if err != nil {
		return Record{}, fmt.Errorf("query task: %w", err)
	}
	return rec, nil
}

func (s *postgresStore) Update(ctx context.Context, f Filter, p Patch, opts UpdateOptions) (int, error) {
	cols, setArgs := postgresPatchColumns(p)
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
			sets = append(sets, c+" = EXCLUDED."+c)
		}
		_, err := s.pool.Exec(ctx,
			`INSERT INTO tasks(`+pgTaskColumns+`)
			 VALUES($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11)
			 ON CONFLICT (id) DO UPDATE SET `+strings.Join(sets, ", "),
			pgInsertArgs(rec)...)
		if err != nil {
			return 0, fmt.Errorf("upsert task: %w", err)
		}
		return 1, nil
	}

	sets := make([]string, 0, len(cols))
	for i, c := range cols {
		sets = append(sets, fmt.Sprintf("%s = $%d", c, i+1))
	}
	where, whereArgs := postgresWhere(f, len(cols))
	tag, err := s.pool.Exec(ctx,
		"UPDATE tasks SET "+strings.Join(sets, ", ")+where,
		append(setArgs, whereArgs...)...)
	if err != nil {
		return 0, fmt.Errorf("update tasks: %w", err)
	}
	return int(tag.RowsAffected()), nil
}

func postgresWhere(f Filter, argOffset int) (string, []any) {
	conds := make([]string, 0, 3)
	args := make([]any, 0, 3)
	n := argOffset
	if f.ID != "" {
		n++
		conds = append(conds, fmt.Sprintf("id = $%d", n))
		args = append(args, f.ID)
	}
	if !f.NextBefore.IsZero() {
		n++
		conds = append(conds, fmt.Sprintf("next_due < $%d", n))
		args = append(args, f.NextBefore)
	}
	if f.StatusNot != "" {
		n++
		conds = append(conds, fmt.Sprintf("status <> $%d", n))
		args = append(args, string(f.StatusNot))
	}
	if len(conds) == 0 {
		return "", nil
	}
	return " WHERE " + strings.Join(conds, " AND "), args
}

func postgresPatchColumns(p Patch) ([]string, []any) {
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
		add("last_run", *p.Last)
	}
	if p.LastStatus != nil {
		add("last_status", string(*p.LastStatus))
	}
	if p.LastError != nil {
		add("last_error", *p.LastError)
	}
	if p.LastEnd != nil {
		add("last_end", *p.LastEnd)
	}
	if p.LastElapsed != nil {
		add("last_elapsed", *p.LastElapsed)
	}
	if p.LastResult != nil {
		add("last_result", *p.LastResult)
	}
	if p.Next != nil {
		add("next_due", *p.Next)
	}
	return cols, args
}

func scanPGTask(row rowScanner) (Record, error) {
	var (
		rec          Record
		minMS, maxMS int64
		status       string
		lastStatus   string
		next         time.Time
	)
	err := row.Scan(&rec.ID, &minMS, &maxMS, &status, &rec.Last, &lastStatus,
		&rec.LastError, &rec.LastEnd, &rec.LastElapsed, &rec.LastResult, &next)
	if err != nil {
		return Record{}, err
	}
	rec.MinAge = time.Duration(minMS) * time.Millisecond
	rec.MaxAge = time.Duration(maxMS) * time.Millisecond
	rec.Status = Status(status)
	rec.LastStatus = Outcome(lastStatus)
	rec.Next = next
	return rec, nil
}

func pgInsertArgs(rec Record) []any {
	return []any{
		rec.ID,
		rec.MinAge.Milliseconds(),
		rec.MaxAge.Milliseconds(),
		string(rec.Status),
		rec.Last,
		string(rec.LastStatus),
		rec.LastError,
		rec.LastEnd,
		rec.LastElapsed,
		rec.LastResult,
		rec.Next,
	}
}
