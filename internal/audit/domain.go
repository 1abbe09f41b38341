package audit

import "time"

// Entry is one immutable audit record. Entries are never updated or deleted
// once written; retention is handled by the storage backend's TTL.
type Entry struct {
	ID           string         `json:"id"`
	At           time.Time      `json:"at"`
	UserID       string         `json:"user_id"`
	TenantID     string         `json:"tenant_id"`
	SessionID    string         `json:"session_id,omitempty"`
	IPAddress    string         `json:"ip_address,omitempty"`
	Action       string         `json:"action"`
	ResourceType string         `json:"resource_type"`
	ResourceID   string         `json:"resource_id,omitempty"`
	Success      bool           `json:"success"`
	Error        string         `json:"error,omitempty"`
	Metadata     map[string]any `json:"metadata,omitempty"`
}

// Filter narrows an audit query. Zero-valued fields are ignored; set fields
// are AND-combined.
type Filter struct {
	UserID       string
	TenantID     string
	Action       string
	ResourceType string
	Success      *bool
	From         time.Time
	To           time.Time
	Limit        int
}

// Matches reports whether the entry satisfies every set filter field.
func (f Filter) Matches(e Entry) bool {
	if f.UserID != "" && e.UserID != f.UserID {
		return false
	}
	if f.TenantID != "" && e.TenantID != f.TenantID {
		return false
	}
	if f.Action != "" && e.Action != f.Action {
		return false
	}
	if f.ResourceType != "" && e.ResourceType != f.ResourceType {
		return false
	}
	if f.Success != nil && e.Success != *f.Success {
		return false
	}
	if !f.From.IsZero() && e.At.Before(f.From) {
		return false
	}
	if !f.To.IsZero() && e.At.After(f.To) {
		return false
	}
	return true
}
