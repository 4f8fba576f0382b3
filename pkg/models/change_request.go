// Package models holds the flat, FK-joined entities shared across every
// component of the pipeline. Tarsy models these same kinds
// of entities as ent-generated structs (ent.AlertSession, ent.Stage, ...);
// since this repo drops ent (see pkg/dbx), the entities here are plain Go
// structs hand-written in tarsy's field-naming and json-tag style.
package models

import "time"

// ChangeRequest is the root entity submitted by a requester: a natural
// language description of a desired change to a repo/branch.
type ChangeRequest struct {
	ID          string    `json:"id"`
	Requester   string    `json:"requester"`
	Repo        string    `json:"repo"`
	Branch      string    `json:"branch"`
	Description string    `json:"description"`
	CreatedAt   time.Time `json:"created_at"`
}

// CreateChangeRequestInput is the inbound payload accepted at the API
// boundary (component E's entrypoint).
type CreateChangeRequestInput struct {
	Requester   string `json:"requester" binding:"required"`
	Repo        string `json:"repo" binding:"required"`
	Branch      string `json:"branch" binding:"required"`
	Description string `json:"description" binding:"required"`
}
