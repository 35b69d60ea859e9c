package audit

import "time"

// Entry statuses.
const (
	StatusSuccess = "success"
	StatusFailed  = "failed"
)

// Entry is one immutable audit record. CreatedAt is the logical timestamp
// every window query reads.
type Entry struct {
	ID         string
	Operation  string
	EntityType string
	EntityID   string
	UserEmail  string
	Status     string
	Message    string
	Metadata   map[string]any
	CreatedAt  time.Time
}

// Admission reports the outcome of an atomic count-and-append.
type Admission struct {
	// Count is the number of matching entries in the window before the
	// candidate entry was considered.
	Count int
	// Admitted is true when the candidate entry was appended.
	Admitted bool
	// Oldest is the created_at of the oldest entry in the window after the
	// operation; zero when the window is empty.
	Oldest time.Time
}

// Filter selects a page of a user's entries, newest first.
type Filter struct {
	UserEmail string
	Operation string
	Page      int
	PageSize  int
}

// PagingInfo holds simple pagination metadata.
type PagingInfo struct {
	Page     int  `json:"page"`
	PageSize int  `json:"page_size"`
	HasNext  bool `json:"has_next"`
	PrevPage int  `json:"prev_page,omitempty"`
	NextPage int  `json:"next_page,omitempty"`
}

// Page wraps listed entries with paging information.
type Page struct {
	Entries []Entry
	Paging  PagingInfo
}
