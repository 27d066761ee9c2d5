package domain

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// Batch is a unit of user intent: N images uploaded together with shared
// settings. JobIDs is ordered and index-addressable so the client can map
// a batch-status response back to its upload-time image order without a
// separate reverse lookup.
type Batch struct {
	ID uuid.UUID `gorm:"type:uuid;default:uuid_generate_v4;primaryKey" json:"id"`
	OwnerUserID uuid.UUID `gorm:"type:uuid;not null;index" json:"ownerUserId"`
	Settings datatypes.JSON `gorm:"column:settings;type:jsonb;not null" json:"-"`
	JobIDs datatypes.JSON `gorm:"column:job_ids;type:jsonb;not null" json:"-"`
	CreditHold int64 `gorm:"column:credit_hold;not null" json:"creditHold"`

	CreatedAt time.Time `gorm:"not null;default:now;index" json:"createdAt"`
	UpdatedAt time.Time `gorm:"not null;default:now;index" json:"updatedAt"`
	DeletedAt gorm.DeletedAt `gorm:"index" json:"-"`
}

func (Batch) TableName() string { return "batches" }
