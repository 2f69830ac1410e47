package calls

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/glebarez/sqlite"
	"github.com/google/uuid"
	"github.com/oklog/ulid/v2"
	"gorm.io/datatypes"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	gormlogger "gorm.io/gorm/logger"
)

// GormStore backs the single-node deployment (STORE_DRIVER=sqlite) and the
// store tests. Status and finalization changes are conditional updates.
type GormStore struct {
	db    *gorm.DB
	clock func() time.Time
}

func NewGormStore(db *gorm.DB) *GormStore {
	return &GormStore{db: db, clock: time.Now}
}

// OpenSQLite opens a pure-Go SQLite database through GORM.
func OpenSQLite(dsn string) (*gorm.DB, error) {
	return gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger:         gormlogger.Default.LogMode(gormlogger.Silent),
		TranslateError: true,
	})
}

func (s *GormStore) AutoMigrate() error {
	return s.db.AutoMigrate(
		&contactRow{},
		&instructionRow{},
		&callRow{},
		&logRow{},
		&summaryRow{},
		&intentRow{},
	)
}

type callRow struct {
	ID          string  `gorm:"primaryKey;size:36"`
	CallSID     *string `gorm:"column:call_sid;uniqueIndex"`
	Direction   string  `gorm:"size:16;not null"`
	Status      string  `gorm:"size:16;not null;index"`
	ContactID   *string `gorm:"size:64;index"`
	Goal        *string
	FromNumber  string `gorm:"size:32"`
	ToNumber    string `gorm:"size:32"`
	Metadata    datatypes.JSONMap
	CreatedAt   time.Time `gorm:"index"`
	UpdatedAt   time.Time
	StartedAt   *time.Time
	EndedAt     *time.Time
	FinalizedAt *time.Time
}

func (callRow) TableName() string { return "calls" }

func (r callRow) toCall() Call {
	c := Call{
		ID:          r.ID,
		CallSID:     r.CallSID,
		Direction:   Direction(r.Direction),
		Status:      Status(r.Status),
		ContactID:   r.ContactID,
		Goal:        r.Goal,
		FromNumber:  r.FromNumber,
		ToNumber:    r.ToNumber,
		Metadata:    make(map[string]string, len(r.Metadata)),
		CreatedAt:   r.CreatedAt,
		UpdatedAt:   r.UpdatedAt,
		StartedAt:   r.StartedAt,
		EndedAt:     r.EndedAt,
		FinalizedAt: r.FinalizedAt,
	}
	for k, v := range r.Metadata {
		if s, ok := v.(string); ok {
			c.Metadata[k] = s
		} else {
			c.Metadata[k] = fmt.Sprint(v)
		}
	}
	return c
}

type logRow struct {
	ID        string    `gorm:"primaryKey;size:26"`
	CallID    string    `gorm:"size:36;not null;index:idx_call_logs_order,priority:1"`
	Role      string    `gorm:"size:16;not null"`
	Content   string    `gorm:"not null"`
	CreatedAt time.Time `gorm:"index:idx_call_logs_order,priority:2"`
}

func (logRow) TableName() string { return "call_logs" }

type summaryRow struct {
	CallID     string `gorm:"primaryKey;size:36"`
	Summary    string `gorm:"not null"`
	NextSteps  *string
	FollowUpBy *time.Time
	UpdatedAt  time.Time
}

func (summaryRow) TableName() string { return "call_summaries" }

func (r summaryRow) toSummary() Summary {
	return Summary{CallID: r.CallID, Text: r.Summary, NextSteps: r.NextSteps, FollowUpBy: r.FollowUpBy, UpdatedAt: r.UpdatedAt}
}

type intentRow struct {
	CallID     string `gorm:"primaryKey;size:36"`
	Label      string `gorm:"not null"`
	Confidence float64
	UpdatedAt  time.Time
}

func (intentRow) TableName() string { return "call_intents" }

func (r intentRow) toIntent() Intent {
	return Intent{CallID: r.CallID, Label: r.Label, Confidence: r.Confidence, UpdatedAt: r.UpdatedAt}
}

type contactRow struct {
	ID          string `gorm:"primaryKey;size:64"`
	Name        string
	PhoneNumber string `gorm:"size:32;index"`
	Notes       *string
	Instruction *string
	CreatedAt   time.Time
}

func (contactRow) TableName() string { return "contacts" }

func (r contactRow) toContact() Contact {
	return Contact{ID: r.ID, Name: r.Name, PhoneNumber: r.PhoneNumber, Notes: r.Notes, Instruction: r.Instruction}
}

type instructionRow struct {
	ID        string `gorm:"primaryKey;size:64"`
	Title     string
	Content   string
	Active    bool `gorm:"index"`
	CreatedAt time.Time
}

func (instructionRow) TableName() string { return "instructions" }

func (s *GormStore) now() time.Time { return s.clock().UTC() }

func (s *GormStore) callExists(ctx context.Context, callID string) (bool, error) {
	var n int64
	if err := s.db.WithContext(ctx).Model(&callRow{}).Where("id = ?", callID).Count(&n).Error; err != nil {
		return false, err
	}
	return n > 0, nil
}

func (s *GormStore) CreateCall(ctx context.Context, in NewCall) (Call, error) {
	if err := in.validate(); err != nil {
		return Call{}, err
	}
	now := s.now()
	row := callRow{
		ID:         uuid.NewString(),
		CallSID:    cloneString(in.CallSID),
		Direction:  string(in.Direction),
		Status:     string(in.status()),
		ContactID:  cloneString(in.ContactID),
		Goal:       cloneString(in.Goal),
		FromNumber: in.FromNumber,
		ToNumber:   in.ToNumber,
		Metadata:   datatypes.JSONMap{},
		CreatedAt:  now,
		UpdatedAt:  now,
	}
	for k, v := range in.Metadata {
		row.Metadata[k] = v
	}
	if in.status() == StatusInProgress {
		row.StartedAt = &now
	}

	if in.CallSID != nil {
		var n int64
		if err := s.db.WithContext(ctx).Model(&callRow{}).Where("call_sid = ?", *in.CallSID).Count(&n).Error; err != nil {
			return Call{}, err
		}
		if n > 0 {
			return Call{}, ErrConflict
		}
	}
	if err := s.db.WithContext(ctx).Create(&row).Error; err != nil {
		if errors.Is(err, gorm.ErrDuplicatedKey) {
			return Call{}, ErrConflict
		}
		return Call{}, err
	}
	return row.toCall(), nil
}

func (s *GormStore) AssignProviderID(ctx context.Context, callID, callSID string) (Call, error) {
	if callID == "" || callSID == "" {
		return Call{}, ErrInvalidArgument
	}
	var owner callRow
	err := s.db.WithContext(ctx).Where("call_sid = ?", callSID).Take(&owner).Error
	switch {
	case err == nil && owner.ID != callID:
		return Call{}, ErrConflict
	case err != nil && !errors.Is(err, gorm.ErrRecordNotFound):
		return Call{}, err
	}

	res := s.db.WithContext(ctx).Model(&callRow{}).Where("id = ?", callID).
		Updates(map[string]any{"call_sid": callSID, "updated_at": s.now()})
	if res.Error != nil {
		return Call{}, res.Error
	}
	if res.RowsAffected == 0 {
		return Call{}, ErrNotFound
	}
	return s.GetCall(ctx, callID)
}

func (s *GormStore) UpdateStatus(ctx context.Context, u StatusUpdate) (StatusChange, error) {
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

	db := s.db.WithContext(ctx)
	var cur callRow
	if err := db.Where(col+" = ?", key).Take(&cur).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return StatusChange{}, nil
		}
		return StatusChange{}, err
	}
	prev := Status(cur.Status)
	next, ok := Advance(prev, u.Status)
	if !ok {
		return StatusChange{Call: cur.toCall(), Previous: prev, Found: true}, nil
	}

	updates := map[string]any{"status": string(next), "updated_at": at}
	if next == StatusInProgress {
		updates["started_at"] = gorm.Expr("COALESCE(started_at, ?)", at)
	}
	if next.Terminal() {
		updates["ended_at"] = gorm.Expr("COALESCE(ended_at, ?)", at)
	}
	from := make([]string, 0, 2)
	for _, p := range predecessors(next) {
		from = append(from, string(p))
	}
	res := db.Model(&callRow{}).Where("id = ? AND status IN ?", cur.ID, from).Updates(updates)
	if res.Error != nil {
		return StatusChange{}, res.Error
	}

	var after callRow
	if err := db.Where("id = ?", cur.ID).Take(&after).Error; err != nil {
		return StatusChange{}, err
	}
	return StatusChange{Call: after.toCall(), Previous: prev, Found: true, Applied: res.RowsAffected == 1}, nil
}

func (s *GormStore) ClaimFinalization(ctx context.Context, callID string, at time.Time) (bool, error) {
	res := s.db.WithContext(ctx).Model(&callRow{}).
		Where("id = ? AND finalized_at IS NULL", callID).
		Update("finalized_at", at.UTC())
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected == 1, nil
}

func (s *GormStore) AppendLogEntry(ctx context.Context, callID string, role Role, content string) (LogEntry, error) {
	if !role.Valid() {
		return LogEntry{}, ErrInvalidArgument
	}
	ok, err := s.callExists(ctx, callID)
	if err != nil {
		return LogEntry{}, err
	}
	if !ok {
		return LogEntry{}, ErrNotFound
	}
	row := logRow{ID: ulid.Make().String(), CallID: callID, Role: string(role), Content: content, CreatedAt: s.now()}
	if err := s.db.WithContext(ctx).Create(&row).Error; err != nil {
		return LogEntry{}, err
	}
	return LogEntry{ID: row.ID, CallID: row.CallID, Role: role, Content: row.Content, CreatedAt: row.CreatedAt}, nil
}

func (s *GormStore) LoadCallWithHistory(ctx context.Context, callID string) (Call, []LogEntry, error) {
	c, err := s.GetCall(ctx, callID)
	if err != nil {
		return Call{}, nil, err
	}
	var rows []logRow
	if err := s.db.WithContext(ctx).Where("call_id = ?", callID).Order("created_at ASC, id ASC").Find(&rows).Error; err != nil {
		return Call{}, nil, err
	}
	history := make([]LogEntry, 0, len(rows))
	for _, r := range rows {
		history = append(history, LogEntry{ID: r.ID, CallID: r.CallID, Role: Role(r.Role), Content: r.Content, CreatedAt: r.CreatedAt})
	}
	return c, history, nil
}

func (s *GormStore) UpsertSummary(ctx context.Context, u SummaryUpdate) error {
	ok, err := s.callExists(ctx, u.CallID)
	if err != nil {
		return err
	}
	if !ok {
		return ErrNotFound
	}
	now := s.now()
	row := summaryRow{CallID: u.CallID, Summary: u.text(), NextSteps: u.NextSteps, FollowUpBy: u.FollowUpBy, UpdatedAt: now}

	set := map[string]any{"updated_at": now}
	if u.Mode == SummaryFinal {
		set["summary"] = u.Text
	}
	if u.NextSteps != nil {
		set["next_steps"] = *u.NextSteps
	}
	if u.FollowUpBy != nil {
		set["follow_up_by"] = u.FollowUpBy.UTC()
	}
	return s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "call_id"}},
		DoUpdates: clause.Assignments(set),
	}).Create(&row).Error
}

func (s *GormStore) UpsertIntent(ctx context.Context, callID, label string, confidence float64) error {
	if label == "" {
		return ErrInvalidArgument
	}
	ok, err := s.callExists(ctx, callID)
	if err != nil {
		return err
	}
	if !ok {
		return ErrNotFound
	}
	row := intentRow{CallID: callID, Label: label, Confidence: clampConfidence(confidence), UpdatedAt: s.now()}
	return s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "call_id"}},
		DoUpdates: clause.AssignmentColumns([]string{"label", "confidence", "updated_at"}),
	}).Create(&row).Error
}

func (s *GormStore) GetCall(ctx context.Context, callID string) (Call, error) {
	var row callRow
	if err := s.db.WithContext(ctx).Where("id = ?", callID).Take(&row).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return Call{}, ErrNotFound
		}
		return Call{}, err
	}
	return row.toCall(), nil
}

func (s *GormStore) FindCallByProviderID(ctx context.Context, callSID string) (Call, bool, error) {
	var row callRow
	if err := s.db.WithContext(ctx).Where("call_sid = ?", callSID).Take(&row).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return Call{}, false, nil
		}
		return Call{}, false, err
	}
	return row.toCall(), true, nil
}

func (s *GormStore) GetSummary(ctx context.Context, callID string) (Summary, bool, error) {
	var row summaryRow
	if err := s.db.WithContext(ctx).Where("call_id = ?", callID).Take(&row).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return Summary{}, false, nil
		}
		return Summary{}, false, err
	}
	return row.toSummary(), true, nil
}

func (s *GormStore) GetIntent(ctx context.Context, callID string) (Intent, bool, error) {
	var row intentRow
	if err := s.db.WithContext(ctx).Where("call_id = ?", callID).Take(&row).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return Intent{}, false, nil
		}
		return Intent{}, false, err
	}
	return row.toIntent(), true, nil
}

func (s *GormStore) ListCalls(ctx context.Context, f ListFilter) ([]CallView, error) {
	db := s.db.WithContext(ctx)
	q := db.Model(&callRow{})
	if f.Status != "" {
		q = q.Where("status = ?", string(f.Status))
	}
	if !f.From.IsZero() {
		q = q.Where("created_at >= ?", f.From.UTC())
	}
	if !f.To.IsZero() {
		q = q.Where("created_at < ?", f.To.UTC())
	}
	var rows []callRow
	if err := q.Order("created_at DESC, id DESC").Limit(f.limit()).Find(&rows).Error; err != nil {
		return nil, err
	}
	if len(rows) == 0 {
		return []CallView{}, nil
	}

	ids := make([]string, 0, len(rows))
	contactIDs := make([]string, 0, len(rows))
	for _, r := range rows {
		ids = append(ids, r.ID)
		if r.ContactID != nil {
			contactIDs = append(contactIDs, *r.ContactID)
		}
	}

	var sums []summaryRow
	if err := db.Where("call_id IN ?", ids).Find(&sums).Error; err != nil {
		return nil, err
	}
	var intents []intentRow
	if err := db.Where("call_id IN ?", ids).Find(&intents).Error; err != nil {
		return nil, err
	}
	var contacts []contactRow
	if len(contactIDs) > 0 {
		if err := db.Where("id IN ?", contactIDs).Find(&contacts).Error; err != nil {
			return nil, err
		}
	}

	sumBy := make(map[string]Summary, len(sums))
	for _, r := range sums {
		sumBy[r.CallID] = r.toSummary()
	}
	intentBy := make(map[string]Intent, len(intents))
	for _, r := range intents {
		intentBy[r.CallID] = r.toIntent()
	}
	contactBy := make(map[string]Contact, len(contacts))
	for _, r := range contacts {
		contactBy[r.ID] = r.toContact()
	}

	out := make([]CallView, 0, len(rows))
	for _, r := range rows {
		v := CallView{Call: r.toCall()}
		if r.ContactID != nil {
			if c, ok := contactBy[*r.ContactID]; ok {
				v.Contact = &c
			}
		}
		if sum, ok := sumBy[r.ID]; ok {
			v.Summary = &sum
		}
		if in, ok := intentBy[r.ID]; ok {
			v.Intent = &in
		}
		out = append(out, v)
	}
	return out, nil
}

func (s *GormStore) GetContact(ctx context.Context, contactID string) (Contact, error) {
	var row contactRow
	if err := s.db.WithContext(ctx).Where("id = ?", contactID).Take(&row).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return Contact{}, ErrNotFound
		}
		return Contact{}, err
	}
	return row.toContact(), nil
}

func (s *GormStore) FindContactByPhoneNumber(ctx context.Context, number string) (Contact, bool, error) {
	if number == "" {
		return Contact{}, false, nil
	}
	var row contactRow
	err := s.db.WithContext(ctx).Where("phone_number = ?", number).Order("created_at ASC").Take(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return Contact{}, false, nil
	}
	if err != nil {
		return Contact{}, false, err
	}
	return row.toContact(), true, nil
}

func (s *GormStore) ListActiveInstructions(ctx context.Context) ([]Instruction, error) {
	var rows []instructionRow
	if err := s.db.WithContext(ctx).Where("active = ?", true).Order("created_at ASC").Find(&rows).Error; err != nil {
		return nil, err
	}
	out := make([]Instruction, 0, len(rows))
	for _, r := range rows {
		out = append(out, Instruction{ID: r.ID, Title: r.Title, Content: r.Content, Active: r.Active})
	}
	return out, nil
}
