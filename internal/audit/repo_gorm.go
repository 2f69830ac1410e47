package audit

import (
	"context"
	"time"

	"gorm.io/datatypes"
	"gorm.io/gorm"
)

type eventRow struct {
	ID        string  `gorm:"primaryKey;size:36"`
	Type      string  `gorm:"size:32;not null"`
	Actor     string  `gorm:"size:128"`
	IPAddress string  `gorm:"size:64"`
	CallID    *string `gorm:"size:36;index"`
	Message   string
	Metadata  datatypes.JSON
	CreatedAt time.Time
}

func (eventRow) TableName() string { return "audit_events" }

// GormRepo stores audit events next to the SQLite call store.
type GormRepo struct {
	db *gorm.DB
}

func NewGormRepo(db *gorm.DB) *GormRepo { return &GormRepo{db: db} }

func (r *GormRepo) AutoMigrate() error { return r.db.AutoMigrate(&eventRow{}) }

func (r *GormRepo) Append(ctx context.Context, e Event) error {
	row := eventRow{
		ID:        e.ID,
		Type:      string(e.Type),
		Actor:     e.Actor,
		IPAddress: e.IPAddress,
		Message:   e.Message,
		Metadata:  datatypes.JSON("{}"),
		CreatedAt: e.CreatedAt,
	}
	if e.CallID != "" {
		row.CallID = &e.CallID
	}
	if e.Metadata != "" {
		row.Metadata = datatypes.JSON(e.Metadata)
	}
	return r.db.WithContext(ctx).Create(&row).Error
}

// ForCall lists events for one call in insertion order.
func (r *GormRepo) ForCall(ctx context.Context, callID string) ([]Event, error) {
	var rows []eventRow
	if err := r.db.WithContext(ctx).Where("call_id = ?", callID).Order("created_at, id").Find(&rows).Error; err != nil {
		return nil, err
	}
	out := make([]Event, 0, len(rows))
	for _, row := range rows {
		out = append(out, Event{
			ID:        row.ID,
			Type:      EventType(row.Type),
			Actor:     row.Actor,
			IPAddress: row.IPAddress,
			CallID:    callID,
			Message:   row.Message,
			Metadata:  string(row.Metadata),
			CreatedAt: row.CreatedAt,
		})
	}
	return out, nil
}
