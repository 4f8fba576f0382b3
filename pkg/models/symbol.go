package models

import "time"

// SymbolStatus tracks a SymbolRecord through the registry's reserve/claim
// lifecycle (component B).
type SymbolStatus string

const (
	SymbolReserved   SymbolStatus = "reserved"
	SymbolActive     SymbolStatus = "active"
	SymbolDeprecated SymbolStatus = "deprecated"
)

// SymbolRecord is a single fully-qualified identifier tracked by the symbol
// registry, from first reservation through the commit that activates it.
type SymbolRecord struct {
	ID            string       `json:"id"`
	Repo          string       `json:"repo"`
	Branch        string       `json:"branch"`
	FQName        string       `json:"fq_name"`
	Kind          string       `json:"kind"`
	FilePath      string       `json:"file_path"`
	Status        SymbolStatus `json:"status"`
	PlanID        string       `json:"plan_id,omitempty"`
	ReservedUntil *time.Time   `json:"reserved_until,omitempty"`
	CommitSHA     string       `json:"commit_sha,omitempty"`
	CreatedAt     time.Time    `json:"created_at"`
}

// Expired reports whether a reservation's TTL lease has lapsed, used by the
// lazy-expiry check in pkg/registry instead of a background sweeper.
func (s SymbolRecord) Expired(now time.Time) bool {
	return s.Status == SymbolReserved && s.ReservedUntil != nil && now.After(*s.ReservedUntil)
}
