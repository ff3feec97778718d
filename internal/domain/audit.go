package domain

import (
	"time"

	"github.com/google/uuid"
)

// Audit holds the creation/update/deletion stamps every stored entity carries
type Audit struct {
	CreatedAt time.Time  `json:"created_at"`
	CreatedBy uuid.UUID  `json:"created_by"`
	UpdatedAt *time.Time `json:"updated_at,omitempty"`
	UpdatedBy *uuid.UUID `json:"updated_by,omitempty"`
	DeletedAt *time.Time `json:"-"`
	DeletedBy *uuid.UUID `json:"-"`
	IsDeleted bool       `json:"-"`
}

// Created stamps the creation fields
func (a *Audit) Created(by uuid.UUID, at time.Time) {
	a.CreatedAt = at
	a.CreatedBy = by
}

// Touch stamps the update fields
func (a *Audit) Touch(by uuid.UUID, at time.Time) {
	a.UpdatedAt = &at
	a.UpdatedBy = &by
}

// SoftDelete marks the entity deleted without removing it
func (a *Audit) SoftDelete(by uuid.UUID, at time.Time) {
	a.IsDeleted = true
	a.DeletedAt = &at
	a.DeletedBy = &by
	a.Touch(by, at)
}
