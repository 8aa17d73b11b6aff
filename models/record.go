package models

import (
	"time"

	"github.com/jmoiron/sqlx/types"
)

// Record is a durable per-scope document. Payloads are domain-specific JSON
// documents behind a uniform key/value contract.
type Record struct {
	ID        string         `json:"id"         db:"id"`
	ScopeKind ScopeKeyKind   `json:"scope_kind" db:"scope_kind"`
	ScopeID   string         `json:"scope_id"   db:"scope_id"`
	Key       string         `json:"key"        db:"key"`
	Payload   types.JSONText `json:"payload"    db:"payload"`
	Version   int64          `json:"version"    db:"version"`
	CreatedAt time.Time      `json:"created_at" db:"created_at"`
	UpdatedAt time.Time      `json:"updated_at" db:"updated_at"`
}

// ProcessedInteraction marks that an interaction has already applied its
// mutation to one record, so platform redeliveries are not applied twice.
type ProcessedInteraction struct {
	ID            string       `json:"id"             db:"id"`
	InteractionID string       `json:"interaction_id" db:"interaction_id"`
	ScopeKind     ScopeKeyKind `json:"scope_kind"     db:"scope_kind"`
	ScopeID       string       `json:"scope_id"       db:"scope_id"`
	Key           string       `json:"key"            db:"key"`
	CreatedAt     time.Time    `json:"created_at"     db:"created_at"`
}
