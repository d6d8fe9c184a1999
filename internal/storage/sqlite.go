package storage

import (
	"context"
	"database/sql"
	"embed"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"beatd/internal/eventbus"
	"beatd/internal/schedule"
	logx "beatd/pkg/logx"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"
)

//go:embed migrations.sql
var migrationsFS embed.FS

type sqliteStore struct {
	db  *sql.DB
	log logx.Logger
	bus eventbus.Bus
}

func openSQLite(cfg Config, log logx.Logger, bus eventbus.Bus) (Store, error) {
	if strings.TrimSpace(cfg.Path) == "" {
		return nil, errors.New("storage.path is required for the sqlite driver")
	}
	path := cfg.Path
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	// SQLite prefers a small number of concurrent writers.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	st := &sqliteStore{db: db, log: log, bus: bus}

	// Basic pragmas.
	if cfg.BusyTimeout > 0 {
		ms := cfg.BusyTimeout.Milliseconds()
		_, _ = db.Exec(fmt.Sprintf("PRAGMA busy_timeout = %d", ms))
	}
	_, _ = db.Exec("PRAGMA journal_mode = WAL")
	_, _ = db.Exec("PRAGMA synchronous = NORMAL")
	_, _ = db.Exec("PRAGMA foreign_keys = ON")

	if err := st.migrate(context.Background()); err != nil {
		_ = db.Close()
		return nil, err
	}
	return st, nil
}

func (s *sqliteStore) migrate(ctx context.Context) error {
	b, err := migrationsFS.ReadFile("migrations.sql")
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, string(b))
	return err
}

func (s *sqliteStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

const entrySelect = `
SELECT e.id, e.name, e.task, e.args, e.kwargs,
       e.queue, e.exchange, e.routing_key, e.headers, e.priority,
       e.expires, e.expire_seconds, e.one_off, e.start_time,
       e.enabled, e.last_run_at, e.total_run_count, e.last_updated, e.description,
       i.every, i.period,
       c.minute, c.hour, c.day_of_month, c.month_of_year, c.day_of_week, c.timezone,
       so.event, so.latitude, so.longitude,
       cl.clocked_at
  FROM entries e
  LEFT JOIN interval_schedules i  ON i.id  = e.interval_id
  LEFT JOIN crontab_schedules  c  ON c.id  = e.crontab_id
  LEFT JOIN solar_schedules    so ON so.id = e.solar_id
  LEFT JOIN clocked_schedules  cl ON cl.id = e.clocked_id`

func (s *sqliteStore) LoadAll(ctx context.Context) ([]schedule.Entry, error) {
	return s.queryEntries(ctx, entrySelect+` WHERE e.enabled = 1 ORDER BY e.id`)
}

func (s *sqliteStore) ChangedSince(ctx context.Context, since time.Time) ([]schedule.Entry, error) {
	return s.queryEntries(ctx, entrySelect+` WHERE e.last_updated > ? ORDER BY e.id`, toNanos(since))
}

func (s *sqliteStore) queryEntries(ctx context.Context, q string, argv ...any) ([]schedule.Entry, error) {
	rows, err := s.db.QueryContext(ctx, q, argv...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []schedule.Entry
	for rows.Next() {
		e, err := scanEntry(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

func (s *sqliteStore) ListIDs(ctx context.Context) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT id FROM entries ORDER BY id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		out = append(out, id)
	}
	return out, rows.Err()
}

func (s *sqliteStore) LastChange(ctx context.Context) (time.Time, error) {
	var ns int64
	err := s.db.QueryRowContext(ctx, `SELECT last_update FROM entry_changes WHERE ident = 1`).Scan(&ns)
	if errors.Is(err, sql.ErrNoRows) {
		return time.Time{}, nil
	}
	if err != nil {
		return time.Time{}, err
	}
	return fromNanos(ns), nil
}

func (s *sqliteStore) SaveRunStates(ctx context.Context, states []RunState) error {
	if len(states) == 0 {
		return nil
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	for _, st := range states {
		_, err := tx.ExecContext(ctx,
			`UPDATE entries
			    SET last_run_at = CASE WHEN ? THEN NULL ELSE ? END,
			        total_run_count = ?,
			        enabled = CASE WHEN ? THEN 0 ELSE enabled END,
			        last_updated = ?
			  WHERE id = ?`,
			st.Disable, fmtTime(st.LastRunAt), st.TotalRunCount, st.Disable, toNanos(st.LastRunAt), st.ID,
		)
		if err != nil {
			return err
		}
	}
	return tx.Commit()
}

func (s *sqliteStore) GetEntry(ctx context.Context, id string) (schedule.Entry, error) {
	row := s.db.QueryRowContext(ctx, entrySelect+` WHERE e.id = ?`, id)
	e, err := scanEntry(row)
	if errors.Is(err, sql.ErrNoRows) {
		return schedule.Entry{}, ErrNotFound
	}
	return e, err
}

func (s *sqliteStore) CreateEntry(ctx context.Context, e schedule.Entry) (schedule.Entry, error) {
	if err := e.Validate(); err != nil {
		return schedule.Entry{}, err
	}
	if strings.TrimSpace(e.ID) == "" {
		e.ID = "ent_" + uuid.NewString()
	}
	if !e.Enabled {
		e.LastRunAt = time.Time{}
	}
	now := time.Now().UTC()
	e.LastUpdated = now

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return schedule.Entry{}, err
	}
	defer func() { _ = tx.Rollback() }()

	ids, err := insertVariant(ctx, tx, &e)
	if err != nil {
		return schedule.Entry{}, err
	}
	_, err = tx.ExecContext(ctx,
		`INSERT INTO entries (id, name, task, args, kwargs,
		                      interval_id, crontab_id, solar_id, clocked_id,
		                      queue, exchange, routing_key, headers, priority,
		                      expires, expire_seconds, one_off, start_time,
		                      enabled, last_run_at, total_run_count, last_updated, description)
		 VALUES (?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?)`,
		e.ID, e.Name, e.Task, rawOrDefault(e.Args, "[]"), rawOrDefault(e.Kwargs, "{}"),
		ids.interval, ids.crontab, ids.solar, ids.clocked,
		nullStr(e.Queue), nullStr(e.Exchange), nullStr(e.RoutingKey), rawOrNull(e.Headers), nullInt(e.Priority),
		fmtTimePtr(e.Expires), nullInt(e.ExpireSeconds), e.OneOff, fmtTimePtr(e.StartTime),
		e.Enabled, fmtTime(e.LastRunAt), e.TotalRunCount, toNanos(now), e.Description,
	)
	if err != nil {
		return schedule.Entry{}, err
	}
	if err := bumpMarker(ctx, tx, now); err != nil {
		return schedule.Entry{}, err
	}
	if err := tx.Commit(); err != nil {
		return schedule.Entry{}, err
	}
	publishChange(s.bus, "entry.created", e.ID, e.Name, now)
	return e, nil
}

func (s *sqliteStore) UpdateEntry(ctx context.Context, e schedule.Entry) (schedule.Entry, error) {
	if strings.TrimSpace(e.ID) == "" {
		return schedule.Entry{}, errors.New("storage: entry id is required")
	}
	if err := e.Validate(); err != nil {
		return schedule.Entry{}, err
	}
	if !e.Enabled {
		e.LastRunAt = time.Time{}
	}
	now := time.Now().UTC()
	e.LastUpdated = now

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return schedule.Entry{}, err
	}
	defer func() { _ = tx.Rollback() }()

	_, old, err := loadVariantRefs(ctx, tx, e.ID)
	if err != nil {
		return schedule.Entry{}, err
	}
	ids, err := insertVariant(ctx, tx, &e)
	if err != nil {
		return schedule.Entry{}, err
	}
	_, err = tx.ExecContext(ctx,
		`UPDATE entries
		    SET name = ?, task = ?, args = ?, kwargs = ?,
		        interval_id = ?, crontab_id = ?, solar_id = ?, clocked_id = ?,
		        queue = ?, exchange = ?, routing_key = ?, headers = ?, priority = ?,
		        expires = ?, expire_seconds = ?, one_off = ?, start_time = ?,
		        enabled = ?, last_run_at = ?, total_run_count = ?, last_updated = ?, description = ?
		  WHERE id = ?`,
		e.Name, e.Task, rawOrDefault(e.Args, "[]"), rawOrDefault(e.Kwargs, "{}"),
		ids.interval, ids.crontab, ids.solar, ids.clocked,
		nullStr(e.Queue), nullStr(e.Exchange), nullStr(e.RoutingKey), rawOrNull(e.Headers), nullInt(e.Priority),
		fmtTimePtr(e.Expires), nullInt(e.ExpireSeconds), e.OneOff, fmtTimePtr(e.StartTime),
		e.Enabled, fmtTime(e.LastRunAt), e.TotalRunCount, toNanos(now), e.Description,
		e.ID,
	)
	if err != nil {
		return schedule.Entry{}, err
	}
	if err := deleteVariants(ctx, tx, old); err != nil {
		return schedule.Entry{}, err
	}
	if err := bumpMarker(ctx, tx, now); err != nil {
		return schedule.Entry{}, err
	}
	if err := tx.Commit(); err != nil {
		return schedule.Entry{}, err
	}
	publishChange(s.bus, "entry.updated", e.ID, e.Name, now)
	return e, nil
}

func (s *sqliteStore) DeleteEntry(ctx context.Context, id string) error {
	now := time.Now().UTC()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	name, refs, err := loadVariantRefs(ctx, tx, id)
	if err != nil {
		return err
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM entries WHERE id = ?`, id); err != nil {
		return err
	}
	if err := deleteVariants(ctx, tx, refs); err != nil {
		return err
	}
	if err := bumpMarker(ctx, tx, now); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return err
	}
	publishChange(s.bus, "entry.deleted", id, name, now)
	return nil
}

type variantIDs struct {
	interval any
	crontab  any
	solar    any
	clocked  any
}

func insertVariant(ctx context.Context, tx *sql.Tx, e *schedule.Entry) (variantIDs, error) {
	var (
		ids variantIDs
		res sql.Result
		err error
	)
	switch {
	case e.Interval != nil:
		res, err = tx.ExecContext(ctx,
			`INSERT INTO interval_schedules (every, period) VALUES (?,?)`,
			e.Interval.Every, string(e.Interval.Period))
		if err == nil {
			ids.interval, err = res.LastInsertId()
		}
	case e.Crontab != nil:
		c := e.Crontab
		res, err = tx.ExecContext(ctx,
			`INSERT INTO crontab_schedules (minute, hour, day_of_month, month_of_year, day_of_week, timezone)
			 VALUES (?,?,?,?,?,?)`,
			orStar(c.Minute), orStar(c.Hour), orStar(c.DayOfMonth), orStar(c.MonthOfYear), orStar(c.DayOfWeek), orUTC(c.Timezone))
		if err == nil {
			ids.crontab, err = res.LastInsertId()
		}
	case e.Solar != nil:
		res, err = tx.ExecContext(ctx,
			`INSERT INTO solar_schedules (event, latitude, longitude) VALUES (?,?,?)`,
			string(e.Solar.Event), e.Solar.Latitude, e.Solar.Longitude)
		if err == nil {
			ids.solar, err = res.LastInsertId()
		}
	case e.Clocked != nil:
		res, err = tx.ExecContext(ctx,
			`INSERT INTO clocked_schedules (clocked_at) VALUES (?)`,
			e.Clocked.At.UTC().Format(time.RFC3339Nano))
		if err == nil {
			ids.clocked, err = res.LastInsertId()
		}
	}
	return ids, err
}

type variantRefs struct {
	interval sql.NullInt64
	crontab  sql.NullInt64
	solar    sql.NullInt64
	clocked  sql.NullInt64
}

func loadVariantRefs(ctx context.Context, tx *sql.Tx, id string) (string, variantRefs, error) {
	var (
		name string
		r    variantRefs
	)
	err := tx.QueryRowContext(ctx,
		`SELECT name, interval_id, crontab_id, solar_id, clocked_id FROM entries WHERE id = ?`, id).
		Scan(&name, &r.interval, &r.crontab, &r.solar, &r.clocked)
	if errors.Is(err, sql.ErrNoRows) {
		return "", r, ErrNotFound
	}
	return name, r, err
}

func deleteVariants(ctx context.Context, tx *sql.Tx, r variantRefs) error {
	steps := []struct {
		q  string
		id sql.NullInt64
	}{
		{`DELETE FROM interval_schedules WHERE id = ?`, r.interval},
		{`DELETE FROM crontab_schedules WHERE id = ?`, r.crontab},
		{`DELETE FROM solar_schedules WHERE id = ?`, r.solar},
		{`DELETE FROM clocked_schedules WHERE id = ?`, r.clocked},
	}
	for _, st := range steps {
		if !st.id.Valid {
			continue
		}
		if _, err := tx.ExecContext(ctx, st.q, st.id.Int64); err != nil {
			return err
		}
	}
	return nil
}

func bumpMarker(ctx context.Context, tx *sql.Tx, at time.Time) error {
	_, err := tx.ExecContext(ctx,
		`INSERT INTO entry_changes (ident, last_update) VALUES (1, ?)
		 ON CONFLICT(ident) DO UPDATE SET last_update = excluded.last_update`,
		toNanos(at),
	)
	return err
}

func scanEntry(sc interface{ Scan(dest ...any) error }) (schedule.Entry, error) {
	var (
		e schedule.Entry

		args, kwargs                         sql.NullString
		queue, exchange, routingKey, headers sql.NullString
		priority, expireSecs                 sql.NullInt64
		expires, startTime, lastRunAt        sql.NullString
		lastUpdated                          int64

		ivEvery  sql.NullInt64
		ivPeriod sql.NullString

		crMinute, crHour, crDOM, crMonth, crDOW, crTZ sql.NullString

		soEvent      sql.NullString
		soLat, soLon sql.NullFloat64

		clAt sql.NullString
	)
	err := sc.Scan(
		&e.ID, &e.Name, &e.Task, &args, &kwargs,
		&queue, &exchange, &routingKey, &headers, &priority,
		&expires, &expireSecs, &e.OneOff, &startTime,
		&e.Enabled, &lastRunAt, &e.TotalRunCount, &lastUpdated, &e.Description,
		&ivEvery, &ivPeriod,
		&crMinute, &crHour, &crDOM, &crMonth, &crDOW, &crTZ,
		&soEvent, &soLat, &soLon,
		&clAt,
	)
	if err != nil {
		return schedule.Entry{}, err
	}

	e.Args = rawOrNilJSON(args, "[]")
	e.Kwargs = rawOrNilJSON(kwargs, "{}")
	e.Headers = rawOrNilJSON(headers, "{}")
	e.Queue = queue.String
	e.Exchange = exchange.String
	e.RoutingKey = routingKey.String
	if priority.Valid {
		v := int(priority.Int64)
		e.Priority = &v
	}
	if expireSecs.Valid {
		v := int(expireSecs.Int64)
		e.ExpireSeconds = &v
	}
	if e.Expires, err = parseTimePtr(expires); err != nil {
		return schedule.Entry{}, fmt.Errorf("entry %s: bad expires: %w", e.ID, err)
	}
	if e.StartTime, err = parseTimePtr(startTime); err != nil {
		return schedule.Entry{}, fmt.Errorf("entry %s: bad start_time: %w", e.ID, err)
	}
	if e.LastRunAt, err = parseTime(lastRunAt); err != nil {
		return schedule.Entry{}, fmt.Errorf("entry %s: bad last_run_at: %w", e.ID, err)
	}
	e.LastUpdated = fromNanos(lastUpdated)

	switch {
	case ivPeriod.Valid:
		e.Interval = &schedule.Interval{Every: int(ivEvery.Int64), Period: schedule.Period(ivPeriod.String)}
	case crMinute.Valid:
		e.Crontab = &schedule.Crontab{
			Minute:      crMinute.String,
			Hour:        crHour.String,
			DayOfMonth:  crDOM.String,
			MonthOfYear: crMonth.String,
			DayOfWeek:   crDOW.String,
			Timezone:    crTZ.String,
		}
	case soEvent.Valid:
		e.Solar = &schedule.Solar{
			Event:     schedule.SolarEvent(soEvent.String),
			Latitude:  soLat.Float64,
			Longitude: soLon.Float64,
		}
	case clAt.Valid:
		at, err := time.Parse(time.RFC3339Nano, clAt.String)
		if err != nil {
			return schedule.Entry{}, fmt.Errorf("entry %s: bad clocked time: %w", e.ID, err)
		}
		e.Clocked = &schedule.Clocked{At: at}
	}
	return e, nil
}

func fmtTime(t time.Time) any {
	if t.IsZero() {
		return nil
	}
	return t.UTC().Format(time.RFC3339Nano)
}

func fmtTimePtr(t *time.Time) any {
	if t == nil {
		return nil
	}
	return t.UTC().Format(time.RFC3339Nano)
}

func parseTime(s sql.NullString) (time.Time, error) {
	if !s.Valid || s.String == "" {
		return time.Time{}, nil
	}
	t, err := time.Parse(time.RFC3339Nano, s.String)
	if err != nil {
		return time.Time{}, err
	}
	return t.UTC(), nil
}

func parseTimePtr(s sql.NullString) (*time.Time, error) {
	if !s.Valid || s.String == "" {
		return nil, nil
	}
	t, err := parseTime(s)
	if err != nil {
		return nil, err
	}
	return &t, nil
}

// toNanos keeps comparable timestamps integer in SQL; zero maps to 0 so a
// "changed since the beginning" query matches every row.
func toNanos(t time.Time) int64 {
	if t.IsZero() {
		return 0
	}
	return t.UnixNano()
}

func fromNanos(ns int64) time.Time {
	if ns == 0 {
		return time.Time{}
	}
	return time.Unix(0, ns).UTC()
}

func rawOrDefault(raw json.RawMessage, def string) string {
	if len(raw) == 0 {
		return def
	}
	return string(raw)
}

func rawOrNull(raw json.RawMessage) any {
	if len(raw) == 0 {
		return nil
	}
	return string(raw)
}

func rawOrNilJSON(s sql.NullString, empty string) json.RawMessage {
	if !s.Valid {
		return nil
	}
	t := strings.TrimSpace(s.String)
	if t == "" || t == empty {
		return nil
	}
	return json.RawMessage(t)
}

func nullStr(v string) any {
	if strings.TrimSpace(v) == "" {
		return nil
	}
	return v
}

func nullInt(v *int) any {
	if v == nil {
		return nil
	}
	return *v
}

func orStar(v string) string {
	if strings.TrimSpace(v) == "" {
		return "*"
	}
	return v
}

func orUTC(v string) string {
	if strings.TrimSpace(v) == "" {
		return "UTC"
	}
	return v
}
