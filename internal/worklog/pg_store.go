package worklog

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/mattn/go-runewidth"

	_ "github.com/jackc/pgx/v5/stdlib" // registers the "pgx" database/sql driver
)

// maxDetailPreviewWidth bounds the display width of a preview made by
// truncatePreview; the full tool input/output JSON is always stored.
const maxDetailPreviewWidth = 2000

// Open connects to Postgres via the pgx stdlib driver and applies pending
// migrations before returning.
func Open(ctx context.Context, dsn string) (*sql.DB, error) {
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, fmt.Errorf("worklog: open: %w", err)
	}
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("worklog: ping: %w", err)
	}
	if err := Migrate(db); err != nil {
		db.Close()
		return nil, err
	}
	return db, nil
}

// Store persists WorkLogs to the two-table schema in spec.md §6, using
// parameterized queries throughout (the original's cleanup routine built
// its DELETE by string interpolation; this implementation never does).
type Store struct {
	db *sql.DB
}

// NewStore wraps an already-migrated *sql.DB.
func NewStore(db *sql.DB) *Store { return &Store{db: db} }

// Create inserts a new work log row for sessionID and returns its id.
// sessionID must be unique; a duplicate returns the underlying unique-
// constraint error wrapped with %w.
func (s *Store) Create(ctx context.Context, sessionID, query string) (*WorkLog, error) {
	id := uuid.NewString()
	now := time.Now()
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO work_logs (id, session_id, query, start_time, entry_count) VALUES ($1, $2, $3, $4, 0)`,
		id, sessionID, query, now,
	)
	if err != nil {
		return nil, fmt.Errorf("worklog: create: %w", err)
	}
	return &WorkLog{ID: id, SessionID: sessionID, Query: query, StartTime: now}, nil
}

// AppendEntry inserts one entry row for the log identified by sessionID
// and increments its entry_count. The caller is responsible for computing
// Entry.Step sequentially (see WorkLog.Append); this method persists
// whatever step value it is given.
func (s *Store) AppendEntry(ctx context.Context, sessionID string, e Entry) error {
	details, err := marshalMap(e.Details)
	if err != nil {
		return fmt.Errorf("worklog: marshal details: %w", err)
	}

	var durationMS sql.NullInt64
	if e.Duration != nil {
		durationMS = sql.NullInt64{Int64: e.Duration.Milliseconds(), Valid: true}
	}
	var confidence sql.NullFloat64
	if e.Confidence != nil {
		confidence = sql.NullFloat64{Float64: *e.Confidence, Valid: true}
	}

	toolInput := e.ToolInput
	toolOutput := e.ToolOutput

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO work_log_entries
			(work_log_id, step, timestamp, level, category, message, details_json,
			 confidence, duration_ms, tool_name, tool_input_json, tool_output_json, tool_status)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)`,
		sessionID, e.Step, e.Timestamp, string(e.Level), e.Category, e.Message, details,
		confidence, durationMS, e.ToolName, nullableJSON(toolInput), nullableJSON(toolOutput), string(e.ToolStatus),
	)
	if err != nil {
		return fmt.Errorf("worklog: append entry: %w", err)
	}

	_, err = s.db.ExecContext(ctx,
		`UPDATE work_logs SET entry_count = entry_count + 1 WHERE session_id = $1`, sessionID)
	if err != nil {
		return fmt.Errorf("worklog: bump entry count: %w", err)
	}
	return nil
}

// Finish records the final output and end time for a log.
func (s *Store) Finish(ctx context.Context, sessionID, finalOutput string) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE work_logs SET final_output = $1, end_time = $2 WHERE session_id = $3`,
		finalOutput, time.Now(), sessionID)
	if err != nil {
		return fmt.Errorf("worklog: finish: %w", err)
	}
	return nil
}

// Get loads a work log and all its entries, ordered by step.
func (s *Store) Get(ctx context.Context, sessionID string) (*WorkLog, error) {
	var w WorkLog
	var endTime sql.NullTime
	var finalOutput sql.NullString
	err := s.db.QueryRowContext(ctx,
		`SELECT id, session_id, query, start_time, end_time, final_output FROM work_logs WHERE session_id = $1`,
		sessionID,
	).Scan(&w.ID, &w.SessionID, &w.Query, &w.StartTime, &endTime, &finalOutput)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("worklog: get: %w", err)
	}
	if endTime.Valid {
		w.EndTime = endTime.Time
	}
	if finalOutput.Valid {
		w.FinalOutput = finalOutput.String
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT step, timestamp, level, category, message, details_json, confidence, duration_ms,
		       tool_name, tool_input_json, tool_output_json, tool_status
		FROM work_log_entries WHERE work_log_id = $1 ORDER BY step ASC`, sessionID)
	if err != nil {
		return nil, fmt.Errorf("worklog: list entries: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var e Entry
		var level, toolStatus string
		var details, toolInput, toolOutput sql.NullString
		var confidence sql.NullFloat64
		var durationMS sql.NullInt64
		var toolName sql.NullString
		if err := rows.Scan(&e.Step, &e.Timestamp, &level, &e.Category, &e.Message, &details,
			&confidence, &durationMS, &toolName, &toolInput, &toolOutput, &toolStatus); err != nil {
			return nil, fmt.Errorf("worklog: scan entry: %w", err)
		}
		e.Level = Level(level)
		e.ToolStatus = ToolStatus(toolStatus)
		if toolName.Valid {
			e.ToolName = toolName.String
		}
		if toolInput.Valid {
			e.ToolInput = toolInput.String
		}
		if toolOutput.Valid {
			e.ToolOutput = toolOutput.String
		}
		if confidence.Valid {
			c := confidence.Float64
			e.Confidence = &c
		}
		if durationMS.Valid {
			d := time.Duration(durationMS.Int64) * time.Millisecond
			e.Duration = &d
		}
		if details.Valid {
			m, err := unmarshalMap(details.String)
			if err == nil {
				e.Details = m
			}
		}
		w.Entries = append(w.Entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return &w, nil
}

// CleanupOldLogs deletes every work log whose start_time is before
// cutoff, along with its entries (cascading). Parameterized throughout —
// spec.md §9 flags the original's string-interpolated SQL as a bug this
// implementation must not repeat.
func (s *Store) CleanupOldLogs(ctx context.Context, cutoff time.Time) (int64, error) {
	res, err := s.db.ExecContext(ctx, `DELETE FROM work_logs WHERE start_time < $1`, cutoff)
	if err != nil {
		return 0, fmt.Errorf("worklog: cleanup: %w", err)
	}
	return res.RowsAffected()
}

func marshalMap(m map[string]string) (sql.NullString, error) {
	if len(m) == 0 {
		return sql.NullString{}, nil
	}
	data, err := json.Marshal(m)
	if err != nil {
		return sql.NullString{}, err
	}
	return sql.NullString{String: string(data), Valid: true}, nil
}

func unmarshalMap(data string) (map[string]string, error) {
	var m map[string]string
	if err := json.Unmarshal([]byte(data), &m); err != nil {
		return nil, err
	}
	return m, nil
}

func nullableJSON(s string) sql.NullString {
	if s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: s, Valid: true}
}

// truncatePreview rune-width-truncates free-form tool output text to
// maxDetailPreviewWidth for terminal-safe display, mirroring the teacher's
// byte-width truncate helpers but accounting for wide runes instead of
// assuming byte width.
func truncatePreview(s string) string {
	if runewidth.StringWidth(s) <= maxDetailPreviewWidth {
		return s
	}
	return runewidth.Truncate(s, maxDetailPreviewWidth, "...")
}
