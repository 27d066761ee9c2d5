package domain

import (
	"time"

	"github.com/google/uuid"
)

// User is a stable identity owning a non-negative credit balance. Credits
// are only ever touched via the atomic hold/refund/charge helpers in
// internal/persistence — nothing in this package mutates Credits directly.
type User struct {
	ID        uuid.UUID `gorm:"type:uuid;default:uuid_generate_v4();primaryKey" json:"id"`
	Email     string    `gorm:"column:email;uniqueIndex;not null" json:"email"`
	Credits   int64     `gorm:"column:credits;not null;default:0" json:"credits"`
	Version   int64     `gorm:"column:version;not null;default:0" json:"-"`
	CreatedAt time.Time `gorm:"not null;default:now()" json:"created_at"`
	UpdatedAt time.Time `gorm:"not null;default:now()" json:"updated_at"`
}

func (User) TableName() string { return "users" }
