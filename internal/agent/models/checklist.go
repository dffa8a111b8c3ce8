package models

// EntryKey addresses one checklist entry by human readable names.
type EntryKey struct {
	Location  string `json:"location"`
	Attribute string `json:"attribute"`
}

// ChecklistEntry is the in-memory state of one (location, attribute) pair.
// Attachments keep insertion order.
type ChecklistEntry struct {
	Key         EntryKey     `json:"key"`
	Status      string       `json:"status"`
	Notes       string       `json:"notes,omitempty"`
	Attachments []Attachment `json:"attachments"`
}

// NamedID is one record of a remote directory (locations, attributes, statuses).
type NamedID struct {
	ID   string
	Name string
}

// ChecklistRow is the remote relational record, unique per
// (JobID, LocationID, AttributeID).
type ChecklistRow struct {
	JobID       string
	LocationID  string
	AttributeID string
	StatusID    *string
	Images      []string
	Notes       *string
}
