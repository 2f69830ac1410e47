package calls

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"phone-agent/pkg/utils"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/oklog/ulid/v2"
)

// NOTE: This store assumes the schema in migrations/0001_calls.sql:
// - calls (UNIQUE call_sid)
// - call_logs (append-only)
// - call_summaries, call_intents (one row per call, keyed by call_id)
// - contacts, instructions (managed elsewhere, read-only here)

// PgxPool is satisfied by *pgxpool.Pool and pgxmock pools.
type PgxPool interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Begin(ctx context.Context) (pgx.Tx, error)
}

type PostgresStore struct {
	db    PgxPool
	clock func() time.Time
}

func NewPostgresStore(db PgxPool) *PostgresStore {
	return &PostgresStore{db: db, clock: time.Now}
}

func (s *PostgresStore) now() time.Time { return s.clock().UTC() }

const callColumns = `id, call_sid, direction, status, contact_id, goal, from_number, to_number, metadata, created_at, updated_at, started_at, ended_at, finalized_at`

const (
	pgUniqueViolation     = "23505"
	pgForeignKeyViolation = "23503"
)

func pgCode(err error) string {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code
	}
	return ""
}

func scanCall(row pgx.Row) (Call, error) {
	var (
		c         Call
		direction string
		status    string
		meta      []byte
	)
	if err := row.Scan(
		&c.ID,
		&c.CallSID,
		&direction,
		&status,
		&c.ContactID,
		&c.Goal,
		&c.FromNumber,
		&c.ToNumber,
		&meta,
		&c.CreatedAt,
		&c.UpdatedAt,
		&c.StartedAt,
		&c.EndedAt,
		&c.FinalizedAt,
	); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Call{}, ErrNotFound
		}
		return Call{}, err
	}
	c.Direction = Direction(direction)
	c.Status = Status(status)
	c.Metadata = map[string]string{}
	if len(meta) > 0 {
		if err := json.Unmarshal(meta, &c.Metadata); err != nil {
			return Call{}, fmt.Errorf("decode call metadata: %w", err)
		}
	}
	return c, nil
}

func (s *PostgresStore) CreateCall(ctx context.Context, in NewCall) (Call, error) {
	if err := in.validate(); err != nil {
		return Call{}, err
	}
	meta, err := json.Marshal(cloneMetadata(in.Metadata))
	if err != nil {
		return Call{}, err
	}

	now := s.now()
	status := in.status()
	var startedAt *time.Time
	if status == StatusInProgress {
		startedAt = &now
	}

	q := `
INSERT INTO calls (id, call_sid, direction, status, contact_id, goal, from_number, to_number, metadata, created_at, updated_at, started_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $10, $11)
RETURNING ` + callColumns
	c, err := scanCall(s.db.QueryRow(ctx, q,
		uuid.NewString(),
		in.CallSID,
		string(in.Direction),
		string(status),
		in.ContactID,
		in.Goal,
		in.FromNumber,
		in.ToNumber,
		meta,
		now,
		startedAt,
	))
	if err != nil {
		if pgCode(err) == pgUniqueViolation {
			return Call{}, ErrConflict
		}
		return Call{}, err
	}
	return c, nil
}

func (s *PostgresStore) AssignProviderID(ctx context.Context, callID, callSID string) (Call, error) {
	if callID == "" || callSID == "" {
		return Call{}, ErrInvalidArgument
	}
	q := `
UPDATE calls SET call_sid = $2, updated_at = $3
WHERE id = $1
RETURNING ` + callColumns
	c, err := scanCall(s.db.QueryRow(ctx, q, callID, callSID, s.now()))
	if err != nil {
		if pgCode(err) == pgUniqueViolation {
			return Call{}, ErrConflict
		}
		return Call{}, err
	}
	return c, nil
}

// UpdateStatus locks the row, decides with Advance, and writes only forward moves.
func (s *PostgresStore) UpdateStatus(ctx context.Context, u StatusUpdate) (StatusChange, error) {
	if err := u.validate(); err != nil {
		return StatusChange{}, err
	}
	at := u.At
	if at.IsZero() {
		at = s.now()
	}
	at = at.UTC()

	key, col := u.CallID, "id"
	if key == "" {
		key, col = u.CallSID, "call_sid"
	}

	var out StatusChange
	err := utils.WithTx(ctx, s.db, func(ctx context.Context, tx pgx.Tx) error {
		cur, err := scanCall(tx.QueryRow(ctx, `SELECT `+callColumns+` FROM calls WHERE `+col+` = $1 FOR UPDATE`, key))
		if err != nil {
			if errors.Is(err, ErrNotFound) {
				return nil
			}
			return err
		}
		out = StatusChange{Call: cur, Previous: cur.Status, Found: true}

		next, ok := Advance(cur.Status, u.Status)
		if !ok {
			return nil
		}
		const q = `
UPDATE calls SET
  status = $2,
  started_at = CASE WHEN $4::boolean THEN COALESCE(started_at, $3) ELSE started_at END,
  ended_at = CASE WHEN $5::boolean THEN COALESCE(ended_at, $3) ELSE ended_at END,
  updated_at = $3
WHERE id = $1
RETURNING ` + callColumns
		updated, err := scanCall(tx.QueryRow(ctx, q, cur.ID, string(next), at, next == StatusInProgress, next.Terminal()))
		if err != nil {
			return err
		}
		out.Call = updated
		out.Applied = true
		return nil
	})
	if err != nil {
		return StatusChange{}, err
	}
	return out, nil
}

func (s *PostgresStore) ClaimFinalization(ctx context.Context, callID string, at time.Time) (bool, error) {
	tag, err := s.db.Exec(ctx, `UPDATE calls SET finalized_at = $2 WHERE id = $1 AND finalized_at IS NULL`, callID, at.UTC())
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() == 1, nil
}

func (s *PostgresStore) AppendLogEntry(ctx context.Context, callID string, role Role, content string) (LogEntry, error) {
	if !role.Valid() {
		return LogEntry{}, ErrInvalidArgument
	}
	e := LogEntry{
		ID:        ulid.Make().String(),
		CallID:    callID,
		Role:      role,
		Content:   content,
		CreatedAt: s.now(),
	}
	_, err := s.db.Exec(ctx,
		`INSERT INTO call_logs (id, call_id, role, content, created_at) VALUES ($1, $2, $3, $4, $5)`,
		e.ID, e.CallID, string(e.Role), e.Content, e.CreatedAt,
	)
	if err != nil {
		if pgCode(err) == pgForeignKeyViolation {
			return LogEntry{}, ErrNotFound
		}
		return LogEntry{}, err
	}
	return e, nil
}

func (s *PostgresStore) LoadCallWithHistory(ctx context.Context, callID string) (Call, []LogEntry, error) {
	c, err := s.GetCall(ctx, callID)
	if err != nil {
		return Call{}, nil, err
	}
	rows, err := s.db.Query(ctx, `
SELECT id, call_id, role, content, created_at
FROM call_logs
WHERE call_id = $1
ORDER BY created_at ASC, id ASC`, callID)
	if err != nil {
		return Call{}, nil, err
	}
	defer rows.Close()

	var history []LogEntry
	for rows.Next() {
		var (
			e    LogEntry
			role string
		)
		if err := rows.Scan(&e.ID, &e.CallID, &role, &e.Content, &e.CreatedAt); err != nil {
			return Call{}, nil, err
		}
		e.Role = Role(role)
		history = append(history, e)
	}
	if err := rows.Err(); err != nil {
		return Call{}, nil, err
	}
	return c, history, nil
}

func (s *PostgresStore) UpsertSummary(ctx context.Context, u SummaryUpdate) error {
	if u.CallID == "" {
		return ErrInvalidArgument
	}
	// Follow-up upserts keep whatever text is already there.
	textOnConflict := "EXCLUDED.summary"
	if u.Mode == SummaryFollowUp {
		textOnConflict = "call_summaries.summary"
	}
	q := `
INSERT INTO call_summaries (call_id, summary, next_steps, follow_up_by, updated_at)
VALUES ($1, $2, $3, $4, $5)
ON CONFLICT (call_id) DO UPDATE SET
  summary = ` + textOnConflict + `,
  next_steps = COALESCE(EXCLUDED.next_steps, call_summaries.next_steps),
  follow_up_by = COALESCE(EXCLUDED.follow_up_by, call_summaries.follow_up_by),
  updated_at = EXCLUDED.updated_at`
	_, err := s.db.Exec(ctx, q, u.CallID, u.text(), u.NextSteps, u.FollowUpBy, s.now())
	if pgCode(err) == pgForeignKeyViolation {
		return ErrNotFound
	}
	return err
}

func (s *PostgresStore) UpsertIntent(ctx context.Context, callID, label string, confidence float64) error {
	if callID == "" || label == "" {
		return ErrInvalidArgument
	}
	const q = `
INSERT INTO call_intents (call_id, label, confidence, updated_at)
VALUES ($1, $2, $3, $4)
ON CONFLICT (call_id) DO UPDATE SET
  label = EXCLUDED.label,
  confidence = EXCLUDED.confidence,
  updated_at = EXCLUDED.updated_at`
	_, err := s.db.Exec(ctx, q, callID, label, clampConfidence(confidence), s.now())
	if pgCode(err) == pgForeignKeyViolation {
		return ErrNotFound
	}
	return err
}

func (s *PostgresStore) GetCall(ctx context.Context, callID string) (Call, error) {
	return scanCall(s.db.QueryRow(ctx, `SELECT `+callColumns+` FROM calls WHERE id = $1`, callID))
}

func (s *PostgresStore) FindCallByProviderID(ctx context.Context, callSID string) (Call, bool, error) {
	c, err := scanCall(s.db.QueryRow(ctx, `SELECT `+callColumns+` FROM calls WHERE call_sid = $1`, callSID))
	if errors.Is(err, ErrNotFound) {
		return Call{}, false, nil
	}
	if err != nil {
		return Call{}, false, err
	}
	return c, true, nil
}

func (s *PostgresStore) GetSummary(ctx context.Context, callID string) (Summary, bool, error) {
	var sum Summary
	err := s.db.QueryRow(ctx, `
SELECT call_id, summary, next_steps, follow_up_by, updated_at
FROM call_summaries WHERE call_id = $1`, callID).Scan(
		&sum.CallID, &sum.Text, &sum.NextSteps, &sum.FollowUpBy, &sum.UpdatedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return Summary{}, false, nil
	}
	if err != nil {
		return Summary{}, false, err
	}
	return sum, true, nil
}

func (s *PostgresStore) GetIntent(ctx context.Context, callID string) (Intent, bool, error) {
	var in Intent
	err := s.db.QueryRow(ctx, `
SELECT call_id, label, confidence, updated_at
FROM call_intents WHERE call_id = $1`, callID).Scan(&in.CallID, &in.Label, &in.Confidence, &in.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return Intent{}, false, nil
	}
	if err != nil {
		return Intent{}, false, err
	}
	return in, true, nil
}

// ListCalls returns calls newest first, joined with contact, summary and intent.
func (s *PostgresStore) ListCalls(ctx context.Context, f ListFilter) ([]CallView, error) {
	var (
		where []string
		args  []any
	)
	if f.Status != "" {
		args = append(args, string(f.Status))
		where = append(where, fmt.Sprintf("c.status = $%d", len(args)))
	}
	if !f.From.IsZero() {
		args = append(args, f.From.UTC())
		where = append(where, fmt.Sprintf("c.created_at >= $%d", len(args)))
	}
	if !f.To.IsZero() {
		args = append(args, f.To.UTC())
		where = append(where, fmt.Sprintf("c.created_at < $%d", len(args)))
	}
	args = append(args, f.limit())

	var b strings.Builder
	b.WriteString(`
SELECT c.id, c.call_sid, c.direction, c.status, c.contact_id, c.goal, c.from_number, c.to_number, c.metadata,
       c.created_at, c.updated_at, c.started_at, c.ended_at, c.finalized_at,
       ct.name, ct.phone_number, ct.notes, ct.instruction,
       s.summary, s.next_steps, s.follow_up_by, s.updated_at,
       i.label, i.confidence, i.updated_at
FROM calls c
LEFT JOIN contacts ct ON ct.id = c.contact_id
LEFT JOIN call_summaries s ON s.call_id = c.id
LEFT JOIN call_intents i ON i.call_id = c.id`)
	if len(where) > 0 {
		b.WriteString("\nWHERE ")
		b.WriteString(strings.Join(where, " AND "))
	}
	fmt.Fprintf(&b, "\nORDER BY c.created_at DESC, c.id DESC\nLIMIT $%d", len(args))

	rows, err := s.db.Query(ctx, b.String(), args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make([]CallView, 0)
	for rows.Next() {
		var (
			v                    CallView
			direction, status    string
			meta                 []byte
			ctName, ctPhone      *string
			ctNotes, ctInstr     *string
			sumText, sumNext     *string
			sumFollow, sumUpdate *time.Time
			inLabel              *string
			inConf               *float64
			inUpdate             *time.Time
		)
		if err := rows.Scan(
			&v.ID, &v.CallSID, &direction, &status, &v.ContactID, &v.Goal, &v.FromNumber, &v.ToNumber, &meta,
			&v.CreatedAt, &v.UpdatedAt, &v.StartedAt, &v.EndedAt, &v.FinalizedAt,
			&ctName, &ctPhone, &ctNotes, &ctInstr,
			&sumText, &sumNext, &sumFollow, &sumUpdate,
			&inLabel, &inConf, &inUpdate,
		); err != nil {
			return nil, err
		}
		v.Direction = Direction(direction)
		v.Status = Status(status)
		v.Metadata = map[string]string{}
		if len(meta) > 0 {
			if err := json.Unmarshal(meta, &v.Metadata); err != nil {
				return nil, fmt.Errorf("decode call metadata: %w", err)
			}
		}
		if v.ContactID != nil && ctName != nil {
			v.Contact = &Contact{ID: *v.ContactID, Name: *ctName, Notes: ctNotes, Instruction: ctInstr}
			if ctPhone != nil {
				v.Contact.PhoneNumber = *ctPhone
			}
		}
		if sumText != nil {
			v.Summary = &Summary{CallID: v.ID, Text: *sumText, NextSteps: sumNext, FollowUpBy: sumFollow}
			if sumUpdate != nil {
				v.Summary.UpdatedAt = *sumUpdate
			}
		}
		if inLabel != nil {
			v.Intent = &Intent{CallID: v.ID, Label: *inLabel}
			if inConf != nil {
				v.Intent.Confidence = *inConf
			}
			if inUpdate != nil {
				v.Intent.UpdatedAt = *inUpdate
			}
		}
		out = append(out, v)
	}
	return out, rows.Err()
}

func (s *PostgresStore) GetContact(ctx context.Context, contactID string) (Contact, error) {
	var c Contact
	err := s.db.QueryRow(ctx, `
SELECT id, name, phone_number, notes, instruction
FROM contacts WHERE id = $1`, contactID).Scan(&c.ID, &c.Name, &c.PhoneNumber, &c.Notes, &c.Instruction)
	if errors.Is(err, pgx.ErrNoRows) {
		return Contact{}, ErrNotFound
	}
	if err != nil {
		return Contact{}, err
	}
	return c, nil
}

func (s *PostgresStore) FindContactByPhoneNumber(ctx context.Context, number string) (Contact, bool, error) {
	if number == "" {
		return Contact{}, false, nil
	}
	var c Contact
	err := s.db.QueryRow(ctx, `
SELECT id, name, phone_number, notes, instruction
FROM contacts WHERE phone_number = $1
ORDER BY created_at ASC
LIMIT 1`, number).Scan(&c.ID, &c.Name, &c.PhoneNumber, &c.Notes, &c.Instruction)
	if errors.Is(err, pgx.ErrNoRows) {
		return Contact{}, false, nil
	}
	if err != nil {
		return Contact{}, false, err
	}
	return c, true, nil
}

func (s *PostgresStore) ListActiveInstructions(ctx context.Context) ([]Instruction, error) {
	rows, err := s.db.Query(ctx, `
SELECT id, title, content, active
FROM instructions
WHERE active
ORDER BY created_at ASC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Instruction
	for rows.Next() {
		var in Instruction
		if err := rows.Scan(&in.ID, &in.Title, &in.Content, &in.Active); err != nil {
			return nil, err
		}
		out = append(out, in)
	}
	return out, rows.Err()
}
