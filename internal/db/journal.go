package db

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/banshee-data/areascan/internal/camera"
)

// ErrNoSession is returned when a session id is not in the journal.
var ErrNoSession = errors.New("no such session")

// Session is one journalled recording session. StoppedAt is zero while the
// session is still running.
type Session struct {
	ID                string        `json:"id"`
	Backend           string        `json:"backend"`
	Async             bool          `json:"async"`
	StartedAt         time.Time     `json:"started_at"`
	StoppedAt         time.Time     `json:"stopped_at,omitempty"`
	FrameSize         int           `json:"frame_size"`
	FrameRate         float64       `json:"frame_rate"`
	Delivered         uint64        `json:"delivered"`
	Overwritten       uint64        `json:"overwritten"`
	Errors            uint64        `json:"errors"`
	IntegrityWarnings uint64        `json:"integrity_warnings"`
	MeanInterval      time.Duration `json:"mean_interval"`
	StdDevInterval    time.Duration `json:"stddev_interval"`
}

// Gap is a run of frames a consumer never saw.
type Gap struct {
	SessionID  string    `json:"session_id"`
	AfterSeq   uint64    `json:"after_seq"`
	Missing    uint64    `json:"missing"`
	ObservedAt time.Time `json:"observed_at"`
}

// SerialLine is one line of Camera Link control traffic.
type SerialLine struct {
	Kind     string    `json:"kind"`
	Line     string    `json:"line"`
	LoggedAt time.Time `json:"logged_at"`
}

// PropertyValue is a journalled property with its value in JSON.
type PropertyValue struct {
	Name  string          `json:"name"`
	Kind  string          `json:"kind"`
	Value json.RawMessage `json:"value"`
}

func fromNanos(n int64) time.Time { return time.Unix(0, n) }

// RecordSessionStart inserts a new session row.
func (db *DB) RecordSessionStart(backend string, s camera.SessionInfo) error {
	_, err := db.Exec(`
		INSERT INTO sessions (session_id, backend, async, started_unix_nanos, frame_size, frame_rate)
		VALUES (?, ?, ?, ?, ?, ?)`,
		s.ID, backend, s.Async, s.StartedAt.UnixNano(), s.FrameSize, s.FrameRate,
	)
	if err != nil {
		return fmt.Errorf("failed to record session %s start: %w", s.ID, err)
	}
	return nil
}

// RecordSessionStop stores the final counters of a session.
func (db *DB) RecordSessionStop(id string, stoppedAt time.Time, st camera.StatsSnapshot) error {
	res, err := db.Exec(`
		UPDATE sessions SET
			stopped_unix_nanos = ?,
			delivered = ?,
			overwritten = ?,
			errors = ?,
			integrity_warnings = ?,
			mean_interval_s = ?,
			stddev_interval_s = ?
		WHERE session_id = ?`,
		stoppedAt.UnixNano(), int64(st.Delivered), int64(st.Overwritten), int64(st.Errors),
		int64(st.IntegrityWarnings), st.MeanInterval.Seconds(), st.StdDevInterval.Seconds(), id,
	)
	if err != nil {
		return fmt.Errorf("failed to record session %s stop: %w", id, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("%w: %s", ErrNoSession, id)
	}
	return nil
}

// RecordGap stores missing frames observed after afterSeq.
func (db *DB) RecordGap(sessionID string, afterSeq, missing uint64, at time.Time) error {
	_, err := db.Exec(`
		INSERT INTO frame_gaps (session_id, after_seq, missing, observed_unix_nanos)
		VALUES (?, ?, ?, ?)`,
		sessionID, int64(afterSeq), int64(missing), at.UnixNano(),
	)
	if err != nil {
		return fmt.Errorf("failed to record gap in session %s: %w", sessionID, err)
	}
	return nil
}

// RecordPropertySnapshot stores the values of a session's properties,
// replacing any earlier snapshot of the same names.
func (db *DB) RecordPropertySnapshot(sessionID string, values map[string]camera.Value) error {
	tx, err := db.Begin()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	stmt, err := tx.Prepare(`
		INSERT OR REPLACE INTO property_snapshots (session_id, name, kind, value_json)
		VALUES (?, ?, ?, ?)`)
	if err != nil {
		return err
	}
	defer stmt.Close()

	for name, v := range values {
		raw, err := json.Marshal(v)
		if err != nil {
			return fmt.Errorf("failed to encode property %s: %w", name, err)
		}
		if _, err := stmt.Exec(sessionID, name, v.Kind().String(), string(raw)); err != nil {
			return fmt.Errorf("failed to record property %s: %w", name, err)
		}
	}
	return tx.Commit()
}

// RecordSerialLine stores one control link line. It satisfies
// serialmux.LineRecorder.
func (db *DB) RecordSerialLine(kind, line string) error {
	_, err := db.Exec(
		`INSERT INTO serial_log (kind, line, logged_unix_nanos) VALUES (?, ?, ?)`,
		kind, line, time.Now().UnixNano(),
	)
	return err
}

const sessionColumns = `session_id, backend, async, started_unix_nanos, stopped_unix_nanos,
	frame_size, frame_rate, delivered, overwritten, errors, integrity_warnings,
	mean_interval_s, stddev_interval_s`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanSession(row rowScanner) (Session, error) {
	var (
		s                   Session
		started             int64
		stopped             sql.NullInt64
		delivered, over     int64
		errs, integrity     int64
		meanSecs, stdevSecs float64
	)
	if err := row.Scan(&s.ID, &s.Backend, &s.Async, &started, &stopped,
		&s.FrameSize, &s.FrameRate, &delivered, &over, &errs, &integrity,
		&meanSecs, &stdevSecs); err != nil {
		return Session{}, err
	}
	s.StartedAt = fromNanos(started)
	if stopped.Valid {
		s.StoppedAt = fromNanos(stopped.Int64)
	}
	s.Delivered = uint64(delivered)
	s.Overwritten = uint64(over)
	s.Errors = uint64(errs)
	s.IntegrityWarnings = uint64(integrity)
	s.MeanInterval = time.Duration(meanSecs * float64(time.Second))
	s.StdDevInterval = time.Duration(stdevSecs * float64(time.Second))
	return s, nil
}

// Session returns one session by id.
func (db *DB) Session(id string) (Session, error) {
	row := db.QueryRow(`SELECT `+sessionColumns+` FROM sessions WHERE session_id = ?`, id)
	s, err := scanSession(row)
	if errors.Is(err, sql.ErrNoRows) {
		return Session{}, fmt.Errorf("%w: %s", ErrNoSession, id)
	}
	return s, err
}

// Sessions returns the most recently started sessions, newest first.
func (db *DB) Sessions(limit int) ([]Session, error) {
	rows, err := db.Query(`SELECT `+sessionColumns+` FROM sessions
		ORDER BY started_unix_nanos DESC LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var sessions []Session
	for rows.Next() {
		s, err := scanSession(rows)
		if err != nil {
			return nil, err
		}
		sessions = append(sessions, s)
	}
	return sessions, rows.Err()
}

// Gaps returns the gaps recorded for a session in observation order.
func (db *DB) Gaps(sessionID string) ([]Gap, error) {
	rows, err := db.Query(`
		SELECT after_seq, missing, observed_unix_nanos FROM frame_gaps
		WHERE session_id = ? ORDER BY gap_id`, sessionID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var gaps []Gap
	for rows.Next() {
		var after, missing, at int64
		if err := rows.Scan(&after, &missing, &at); err != nil {
			return nil, err
		}
		gaps = append(gaps, Gap{
			SessionID:  sessionID,
			AfterSeq:   uint64(after),
			Missing:    uint64(missing),
			ObservedAt: fromNanos(at),
		})
	}
	return gaps, rows.Err()
}

// PropertySnapshot returns the properties recorded for a session sorted by
// name.
func (db *DB) PropertySnapshot(sessionID string) ([]PropertyValue, error) {
	rows, err := db.Query(`
		SELECT name, kind, value_json FROM property_snapshots
		WHERE session_id = ?`, sessionID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var props []PropertyValue
	for rows.Next() {
		var p PropertyValue
		var raw string
		if err := rows.Scan(&p.Name, &p.Kind, &raw); err != nil {
			return nil, err
		}
		p.Value = json.RawMessage(raw)
		props = append(props, p)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	sort.Slice(props, func(i, j int) bool { return props[i].Name < props[j].Name })
	return props, nil
}

// SerialLines returns the most recent control link lines, oldest first.
func (db *DB) SerialLines(limit int) ([]SerialLine, error) {
	rows, err := db.Query(`
		SELECT kind, line, logged_unix_nanos FROM (
			SELECT line_id, kind, line, logged_unix_nanos FROM serial_log
			ORDER BY line_id DESC LIMIT ?
		) ORDER BY line_id`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var lines []SerialLine
	for rows.Next() {
		var l SerialLine
		var at int64
		if err := rows.Scan(&l.Kind, &l.Line, &at); err != nil {
			return nil, err
		}
		l.LoggedAt = fromNanos(at)
		lines = append(lines, l)
	}
	return lines, rows.Err()
}
