package sqlite

import (
	"cmp"
	"context"
	"database/sql"
	"errors"
	"fmt"
	"slices"
	"time"

	"github.com/flemzord/ingestd/internal/telemetry"
)

// TelemetryStore implements telemetry.Store over the episode_logs,
// episode_tracking, processing_* tables.
type TelemetryStore struct {
	db *sql.DB
}

// NewTelemetryStore wraps an opened database.
func NewTelemetryStore(db *sql.DB) *TelemetryStore { return &TelemetryStore{db: db} }

const logColumns = `identity, display_name, group_id, status, attempt_count,
	start_time, last_attempt, end_time, duration_ms`

// UpsertStart implements telemetry.Store.
func (s *TelemetryStore) UpsertStart(ctx context.Context, st telemetry.Start) (int, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("sqlite: begin: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	at := formatTime(st.At)
	var attempt int
	err = tx.QueryRowContext(ctx, `
		INSERT INTO episode_logs (identity, display_name, group_id, status, attempt_count, start_time, last_attempt)
		VALUES (?, ?, ?, ?, 1, ?, ?)
		ON CONFLICT(identity) DO UPDATE SET
			attempt_count = attempt_count + 1,
			last_attempt  = excluded.last_attempt
		RETURNING attempt_count`,
		st.Identity, st.DisplayName, st.Group, string(telemetry.StatusStarted), at, at,
	).Scan(&attempt)
	if err != nil {
		return 0, fmt.Errorf("sqlite: upsert log: %w", err)
	}

	if _, err := tx.ExecContext(ctx, `
		INSERT INTO episode_tracking (id, identity, attempt, status, created_at)
		VALUES (?, ?, ?, ?, ?)`,
		telemetry.NewID(), st.Identity, attempt, telemetry.TrackingInProgress, at,
	); err != nil {
		return 0, fmt.Errorf("sqlite: insert tracking: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("sqlite: commit: %w", err)
	}
	return attempt, nil
}

// UpsertStep implements telemetry.Store.
func (s *TelemetryStore) UpsertStep(ctx context.Context, u telemetry.StepUpdate) (string, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return "", fmt.Errorf("sqlite: begin: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	id, err := upsertStep(ctx, tx, u)
	if err != nil {
		return "", err
	}
	if err := tx.Commit(); err != nil {
		return "", fmt.Errorf("sqlite: commit: %w", err)
	}
	return id, nil
}

func upsertStep(ctx context.Context, tx *sql.Tx, u telemetry.StepUpdate) (string, error) {
	data, err := encodeMap(u.Data)
	if err != nil {
		return "", err
	}

	if u.Status != telemetry.StepStarted {
		var id, start string
		err := tx.QueryRowContext(ctx, `
			SELECT id, start_time FROM processing_steps
			WHERE identity = ? AND name = ? AND status = ?
			ORDER BY id DESC LIMIT 1`,
			u.Identity, u.Name, string(telemetry.StepStarted),
		).Scan(&id, &start)
		switch {
		case err == nil:
			started, err := parseTime(start)
			if err != nil {
				return "", err
			}
			if _, err := tx.ExecContext(ctx, `
				UPDATE processing_steps
				SET status = ?, end_time = ?, duration_ms = ?, data = COALESCE(?, data)
				WHERE id = ?`,
				string(u.Status), formatTime(u.At), u.At.Sub(started).Milliseconds(), data, id,
			); err != nil {
				return "", fmt.Errorf("sqlite: close step: %w", err)
			}
			return id, nil
		case !errors.Is(err, sql.ErrNoRows):
			return "", fmt.Errorf("sqlite: find open step: %w", err)
		}
	}

	id := telemetry.NewID()
	var end sql.NullString
	var dur sql.NullInt64
	if u.Status != telemetry.StepStarted {
		end = sql.NullString{String: formatTime(u.At), Valid: true}
		dur = sql.NullInt64{Valid: true}
	}
	if _, err := tx.ExecContext(ctx, `
		INSERT INTO processing_steps (id, identity, name, status, start_time, end_time, duration_ms, data)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		id, u.Identity, u.Name, string(u.Status), formatTime(u.At), end, dur, data,
	); err != nil {
		return "", fmt.Errorf("sqlite: insert step: %w", err)
	}
	return id, nil
}

// InsertError implements telemetry.Store.
func (s *TelemetryStore) InsertError(ctx context.Context, e telemetry.ErrorEntry) (string, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return "", fmt.Errorf("sqlite: begin: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	var stepID string
	err = tx.QueryRowContext(ctx, `
		SELECT id FROM processing_steps
		WHERE identity = ? AND name = ?
		ORDER BY id DESC LIMIT 1`,
		e.Identity, e.StepName,
	).Scan(&stepID)
	switch {
	case errors.Is(err, sql.ErrNoRows):
		stepID, err = upsertStep(ctx, tx, telemetry.StepUpdate{
			Identity: e.Identity,
			Name:     e.StepName,
			Status:   telemetry.StepError,
			Data:     map[string]any{"auto_created": true},
			At:       e.CreatedAt,
		})
		if err != nil {
			return "", err
		}
	case err != nil:
		return "", fmt.Errorf("sqlite: find step: %w", err)
	}

	if e.Resolution == "" {
		e.Resolution = telemetry.ResolutionUnresolved
	}
	errCtx, err := encodeMap(e.Context)
	if err != nil {
		return "", err
	}
	id := telemetry.NewID()
	if _, err := tx.ExecContext(ctx, `
		INSERT INTO processing_errors
			(id, identity, step_id, step_name, error_type, error_message, stack_trace, resolution, context, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		id, e.Identity, stepID, e.StepName, e.Type, e.Message, e.Stack, e.Resolution, errCtx, formatTime(e.CreatedAt),
	); err != nil {
		return "", fmt.Errorf("sqlite: insert error: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return "", fmt.Errorf("sqlite: commit: %w", err)
	}
	return id, nil
}

// MarkErrorsRetried implements telemetry.Store.
func (s *TelemetryStore) MarkErrorsRetried(ctx context.Context, identity, step string) (int, error) {
	res, err := s.db.ExecContext(ctx, `
		UPDATE processing_errors SET resolution = ?
		WHERE identity = ? AND step_name = ? AND resolution = ?`,
		telemetry.ResolutionRetryAttempted, identity, step, telemetry.ResolutionUnresolved,
	)
	if err != nil {
		return 0, fmt.Errorf("sqlite: mark errors retried: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("sqlite: rows affected: %w", err)
	}
	return int(n), nil
}

// CloseCompletion implements telemetry.Store.
func (s *TelemetryStore) CloseCompletion(ctx context.Context, identity string, status telemetry.Status, at time.Time) (telemetry.Log, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return telemetry.Log{}, fmt.Errorf("sqlite: begin: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	l, err := scanLog(tx.QueryRowContext(ctx, "SELECT "+logColumns+" FROM episode_logs WHERE identity = ?", identity))
	if errors.Is(err, sql.ErrNoRows) {
		return telemetry.Log{}, fmt.Errorf("%w: %s", telemetry.ErrNotFound, identity)
	}
	if err != nil {
		return telemetry.Log{}, err
	}

	end := at
	d := end.Sub(l.StartTime).Milliseconds()
	l.Status = status
	l.EndTime = &end
	l.DurationMS = &d
	if _, err := tx.ExecContext(ctx, `
		UPDATE episode_logs SET status = ?, end_time = ?, duration_ms = ? WHERE identity = ?`,
		string(status), formatTime(end), d, identity,
	); err != nil {
		return telemetry.Log{}, fmt.Errorf("sqlite: close log: %w", err)
	}

	rows, err := tx.QueryContext(ctx, `
		SELECT id, created_at FROM episode_tracking WHERE identity = ? AND status = ?`,
		identity, telemetry.TrackingInProgress,
	)
	if err != nil {
		return telemetry.Log{}, fmt.Errorf("sqlite: open attempts: %w", err)
	}
	type open struct {
		id      string
		created time.Time
	}
	var attempts []open
	for rows.Next() {
		var id, created string
		if err := rows.Scan(&id, &created); err != nil {
			_ = rows.Close()
			return telemetry.Log{}, fmt.Errorf("sqlite: scan attempt: %w", err)
		}
		t, err := parseTime(created)
		if err != nil {
			_ = rows.Close()
			return telemetry.Log{}, err
		}
		attempts = append(attempts, open{id, t})
	}
	if err := rows.Close(); err != nil {
		return telemetry.Log{}, fmt.Errorf("sqlite: close rows: %w", err)
	}

	for _, a := range attempts {
		if _, err := tx.ExecContext(ctx, `
			UPDATE episode_tracking SET status = ?, end_time = ?, duration_ms = ? WHERE id = ?`,
			string(status), formatTime(end), end.Sub(a.created).Milliseconds(), a.id,
		); err != nil {
			return telemetry.Log{}, fmt.Errorf("sqlite: close attempt: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return telemetry.Log{}, fmt.Errorf("sqlite: commit: %w", err)
	}
	return l, nil
}

// InsertTiming implements telemetry.Store.
func (s *TelemetryStore) InsertTiming(ctx context.Context, t telemetry.Timing) error {
	if _, err := s.db.ExecContext(ctx, `
		INSERT INTO processing_timings (identity, status, duration_ms, recorded_at) VALUES (?, ?, ?, ?)`,
		t.Identity, string(t.Status), t.DurationMS, formatTime(t.RecordedAt),
	); err != nil {
		return fmt.Errorf("sqlite: insert timing: %w", err)
	}
	return nil
}

// LinkStepSequence implements telemetry.Store.
func (s *TelemetryStore) LinkStepSequence(ctx context.Context, identity string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("sqlite: begin: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	rows, err := tx.QueryContext(ctx, `
		SELECT id FROM processing_steps WHERE identity = ? ORDER BY start_time, id`, identity)
	if err != nil {
		return fmt.Errorf("sqlite: list steps: %w", err)
	}
	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			_ = rows.Close()
			return fmt.Errorf("sqlite: scan step: %w", err)
		}
		ids = append(ids, id)
	}
	if err := rows.Close(); err != nil {
		return fmt.Errorf("sqlite: close rows: %w", err)
	}

	for i := 0; i+1 < len(ids); i++ {
		if _, err := tx.ExecContext(ctx, "UPDATE processing_steps SET next_step_id = ? WHERE id = ?", ids[i+1], ids[i]); err != nil {
			return fmt.Errorf("sqlite: link step: %w", err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("sqlite: commit: %w", err)
	}
	return nil
}

var telemetryChildTables = []string{"episode_tracking", "processing_steps", "processing_errors", "processing_timings"}

// Purge implements telemetry.Store.
func (s *TelemetryStore) Purge(ctx context.Context) (int, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("sqlite: begin: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	for _, table := range telemetryChildTables {
		if _, err := tx.ExecContext(ctx, "DELETE FROM "+table); err != nil {
			return 0, fmt.Errorf("sqlite: purge %s: %w", table, err)
		}
	}
	res, err := tx.ExecContext(ctx, "DELETE FROM episode_logs")
	if err != nil {
		return 0, fmt.Errorf("sqlite: purge episode_logs: %w", err)
	}
	n, _ := res.RowsAffected()
	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("sqlite: commit: %w", err)
	}
	return int(n), nil
}

// PurgeBefore implements telemetry.Store.
func (s *TelemetryStore) PurgeBefore(ctx context.Context, t time.Time) (int, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("sqlite: begin: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	cutoff := formatTime(t)
	for _, table := range telemetryChildTables {
		if _, err := tx.ExecContext(ctx, `DELETE FROM `+table+` WHERE identity IN (
			SELECT identity FROM episode_logs WHERE end_time IS NOT NULL AND end_time < ?)`, cutoff); err != nil {
			return 0, fmt.Errorf("sqlite: purge %s: %w", table, err)
		}
	}
	res, err := tx.ExecContext(ctx, "DELETE FROM episode_logs WHERE end_time IS NOT NULL AND end_time < ?", cutoff)
	if err != nil {
		return 0, fmt.Errorf("sqlite: purge episode_logs: %w", err)
	}
	n, _ := res.RowsAffected()
	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("sqlite: commit: %w", err)
	}
	return int(n), nil
}

// Trace implements telemetry.Querier.
func (s *TelemetryStore) Trace(ctx context.Context, identity string) (telemetry.Trace, error) {
	l, err := scanLog(s.db.QueryRowContext(ctx, "SELECT "+logColumns+" FROM episode_logs WHERE identity = ?", identity))
	if errors.Is(err, sql.ErrNoRows) {
		return telemetry.Trace{}, fmt.Errorf("%w: %s", telemetry.ErrNotFound, identity)
	}
	if err != nil {
		return telemetry.Trace{}, err
	}
	tr := telemetry.Trace{Log: l}

	if tr.Attempts, err = queryAll(ctx, s.db, scanTracking, `
		SELECT id, identity, attempt, status, created_at, end_time, duration_ms
		FROM episode_tracking WHERE identity = ? ORDER BY attempt, id`, identity); err != nil {
		return telemetry.Trace{}, err
	}
	if tr.Steps, err = queryAll(ctx, s.db, scanStep, `
		SELECT id, identity, name, status, start_time, end_time, duration_ms, data, next_step_id
		FROM processing_steps WHERE identity = ? ORDER BY start_time, id`, identity); err != nil {
		return telemetry.Trace{}, err
	}
	if tr.Errors, err = queryAll(ctx, s.db, scanError, `
		SELECT `+errorColumns+` FROM processing_errors WHERE identity = ? ORDER BY id`, identity); err != nil {
		return telemetry.Trace{}, err
	}
	if tr.Timings, err = queryAll(ctx, s.db, scanTiming, `
		SELECT identity, status, duration_ms, recorded_at
		FROM processing_timings WHERE identity = ? ORDER BY recorded_at`, identity); err != nil {
		return telemetry.Trace{}, err
	}
	return tr, nil
}

// ErrorPatterns implements telemetry.Querier.
func (s *TelemetryStore) ErrorPatterns(ctx context.Context) ([]telemetry.ErrorPattern, error) {
	patterns, err := queryAll(ctx, s.db, func(sc scanner) (telemetry.ErrorPattern, error) {
		var p telemetry.ErrorPattern
		err := sc.Scan(&p.Type, &p.Occurrences, &p.AffectedEpisodes)
		return p, err
	}, `
		SELECT error_type, COUNT(*), COUNT(DISTINCT identity)
		FROM processing_errors
		GROUP BY error_type
		ORDER BY COUNT(DISTINCT identity) DESC, error_type`)
	if err != nil {
		return nil, err
	}

	for i := range patterns {
		samples, err := queryAll(ctx, s.db, scanString, `
			SELECT identity FROM processing_errors
			WHERE error_type = ?
			GROUP BY identity
			ORDER BY MIN(id)
			LIMIT ?`, patterns[i].Type, telemetry.MaxPatternSamples)
		if err != nil {
			return nil, err
		}
		patterns[i].Samples = samples
	}
	return patterns, nil
}

// IdentitiesByErrorType implements telemetry.Querier.
func (s *TelemetryStore) IdentitiesByErrorType(ctx context.Context, errType string, limit int) ([]string, error) {
	return queryAll(ctx, s.db, scanString, `
		SELECT identity FROM processing_errors
		WHERE error_type = ?
		GROUP BY identity
		ORDER BY MAX(id) DESC
		LIMIT ?`, errType, clampLimit(limit, telemetry.DefaultListLimit))
}

// Stats implements telemetry.Querier.
func (s *TelemetryStore) Stats(ctx context.Context) (telemetry.Stats, error) {
	var st telemetry.Stats
	err := s.db.QueryRowContext(ctx, `
		SELECT
			COUNT(*),
			COALESCE(SUM(status = ?), 0),
			COALESCE(SUM(status = ?), 0),
			COALESCE(SUM(status = ? AND end_time IS NULL), 0),
			COALESCE(AVG(duration_ms), 0)
		FROM episode_logs`,
		string(telemetry.StatusCompleted), string(telemetry.StatusFailed), string(telemetry.StatusStarted),
	).Scan(&st.Total, &st.Completed, &st.Failed, &st.InProgress, &st.AvgDurationMS)
	if err != nil {
		return telemetry.Stats{}, fmt.Errorf("sqlite: stats: %w", err)
	}
	if err := s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM processing_errors").Scan(&st.TotalErrors); err != nil {
		return telemetry.Stats{}, fmt.Errorf("sqlite: count errors: %w", err)
	}
	st.SuccessRate = telemetry.SuccessRate(st.Completed, st.Total)
	return st, nil
}

// RecentErrors implements telemetry.Querier.
func (s *TelemetryStore) RecentErrors(ctx context.Context, limit int) ([]telemetry.ErrorEntry, error) {
	return queryAll(ctx, s.db, scanError, `
		SELECT `+errorColumns+` FROM processing_errors
		ORDER BY created_at DESC, id DESC
		LIMIT ?`, clampLimit(limit, telemetry.DefaultRecentErrors))
}

// Search implements telemetry.Querier.
func (s *TelemetryStore) Search(ctx context.Context, term string, limit int) ([]telemetry.Log, error) {
	pattern := containsPattern(term)
	return queryAll(ctx, s.db, scanLog, `
		SELECT `+logColumns+` FROM episode_logs
		WHERE lower(identity) LIKE ? ESCAPE '\' OR lower(display_name) LIKE ? ESCAPE '\'
		ORDER BY last_attempt DESC, identity
		LIMIT ?`, pattern, pattern, clampLimit(limit, telemetry.DefaultSearchLimit))
}

// GroupStats implements telemetry.Querier.
func (s *TelemetryStore) GroupStats(ctx context.Context, group string) (telemetry.GroupStats, error) {
	gs := telemetry.GroupStats{Group: group}
	err := s.db.QueryRowContext(ctx, `
		SELECT
			COUNT(*),
			COALESCE(SUM(status = ?), 0),
			COALESCE(SUM(status = ?), 0),
			COALESCE(SUM(status = ?), 0)
		FROM episode_logs WHERE group_id = ?`,
		string(telemetry.StatusStarted), string(telemetry.StatusCompleted), string(telemetry.StatusFailed), group,
	).Scan(&gs.Total, &gs.InProgress, &gs.Completed, &gs.Failed)
	if err != nil {
		return telemetry.GroupStats{}, fmt.Errorf("sqlite: group stats: %w", err)
	}
	return gs, nil
}

// StepTimings implements telemetry.Querier.
func (s *TelemetryStore) StepTimings(ctx context.Context) ([]telemetry.StepTiming, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT name, duration_ms FROM processing_steps
		WHERE status != ? AND duration_ms IS NOT NULL`, string(telemetry.StepStarted))
	if err != nil {
		return nil, fmt.Errorf("sqlite: step durations: %w", err)
	}
	defer func() { _ = rows.Close() }()

	durations := make(map[string][]int64)
	for rows.Next() {
		var name string
		var d int64
		if err := rows.Scan(&name, &d); err != nil {
			return nil, fmt.Errorf("sqlite: scan step duration: %w", err)
		}
		durations[name] = append(durations[name], d)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("sqlite: iterate step durations: %w", err)
	}

	out := make([]telemetry.StepTiming, 0, len(durations))
	for name, ds := range durations {
		out = append(out, telemetry.SummarizeDurations(name, ds))
	}
	slices.SortFunc(out, func(a, b telemetry.StepTiming) int {
		if c := cmp.Compare(b.AvgMS, a.AvgMS); c != 0 {
			return c
		}
		return cmp.Compare(a.Step, b.Step)
	})
	return out, nil
}

// FailedEpisodes implements telemetry.Querier.
func (s *TelemetryStore) FailedEpisodes(ctx context.Context, limit int) ([]telemetry.Log, error) {
	return queryAll(ctx, s.db, scanLog, `
		SELECT `+logColumns+` FROM episode_logs
		WHERE status = ?
		ORDER BY last_attempt DESC, identity
		LIMIT ?`, string(telemetry.StatusFailed), clampLimit(limit, telemetry.DefaultListLimit))
}

type querier interface {
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
}

// queryAll runs query and scans every row with scan.
func queryAll[T any](ctx context.Context, q querier, scan func(scanner) (T, error), query string, args ...any) ([]T, error) {
	rows, err := q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("sqlite: query: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var out []T
	for rows.Next() {
		v, err := scan(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, v)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("sqlite: iterate: %w", err)
	}
	return out, nil
}

func scanString(sc scanner) (string, error) {
	var s string
	if err := sc.Scan(&s); err != nil {
		return "", fmt.Errorf("sqlite: scan: %w", err)
	}
	return s, nil
}

func scanLog(sc scanner) (telemetry.Log, error) {
	var (
		l                   telemetry.Log
		status, start, last string
		end                 sql.NullString
		dur                 sql.NullInt64
	)
	if err := sc.Scan(&l.Identity, &l.DisplayName, &l.Group, &status, &l.AttemptCount, &start, &last, &end, &dur); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return l, err
		}
		return l, fmt.Errorf("sqlite: scan log: %w", err)
	}
	l.Status = telemetry.Status(status)
	l.DurationMS = nullInt(dur)
	var err error
	if l.StartTime, err = parseTime(start); err != nil {
		return l, err
	}
	if l.LastAttempt, err = parseTime(last); err != nil {
		return l, err
	}
	if l.EndTime, err = parseNullTime(end); err != nil {
		return l, err
	}
	return l, nil
}

func scanTracking(sc scanner) (telemetry.Tracking, error) {
	var (
		t       telemetry.Tracking
		created string
		end     sql.NullString
		dur     sql.NullInt64
	)
	if err := sc.Scan(&t.ID, &t.Identity, &t.Attempt, &t.Status, &created, &end, &dur); err != nil {
		return t, fmt.Errorf("sqlite: scan tracking: %w", err)
	}
	var err error
	if t.CreatedAt, err = parseTime(created); err != nil {
		return t, err
	}
	if t.EndTime, err = parseNullTime(end); err != nil {
		return t, err
	}
	t.DurationMS = nullInt(dur)
	return t, nil
}

func scanStep(sc scanner) (telemetry.Step, error) {
	var (
		st              telemetry.Step
		status, start   string
		end, data, next sql.NullString
		dur             sql.NullInt64
	)
	if err := sc.Scan(&st.ID, &st.Identity, &st.Name, &status, &start, &end, &dur, &data, &next); err != nil {
		return st, fmt.Errorf("sqlite: scan step: %w", err)
	}
	st.Status = telemetry.StepStatus(status)
	st.NextID = next.String
	st.DurationMS = nullInt(dur)
	var err error
	if st.StartTime, err = parseTime(start); err != nil {
		return st, err
	}
	if st.EndTime, err = parseNullTime(end); err != nil {
		return st, err
	}
	if st.Data, err = decodeMap(data); err != nil {
		return st, err
	}
	return st, nil
}

const errorColumns = `id, identity, step_id, step_name, error_type, error_message,
	stack_trace, resolution, context, created_at`

func scanError(sc scanner) (telemetry.ErrorEntry, error) {
	var (
		e       telemetry.ErrorEntry
		errCtx  sql.NullString
		created string
	)
	if err := sc.Scan(&e.ID, &e.Identity, &e.StepID, &e.StepName, &e.Type, &e.Message,
		&e.Stack, &e.Resolution, &errCtx, &created); err != nil {
		return e, fmt.Errorf("sqlite: scan error: %w", err)
	}
	var err error
	if e.CreatedAt, err = parseTime(created); err != nil {
		return e, err
	}
	if e.Context, err = decodeMap(errCtx); err != nil {
		return e, err
	}
	return e, nil
}

func scanTiming(sc scanner) (telemetry.Timing, error) {
	var (
		t                telemetry.Timing
		status, recorded string
	)
	if err := sc.Scan(&t.Identity, &status, &t.DurationMS, &recorded); err != nil {
		return t, fmt.Errorf("sqlite: scan timing: %w", err)
	}
	t.Status = telemetry.Status(status)
	var err error
	t.RecordedAt, err = parseTime(recorded)
	return t, err
}
