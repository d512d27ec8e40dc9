package model

// Lead statuses recognized by the pipeline. Unknown statuses are treated as
// invalid enum values by validation and reset to StatusNew during repair.
const (
	StatusNew       = "new"
	StatusContacted = "contacted"
	StatusQualified = "qualified"
	StatusFollowUp  = "follow_up"
	StatusConverted = "converted"
	StatusLost      = "lost"
)

// LeadStatuses lists all valid lead statuses.
var LeadStatuses = []string{
	StatusNew, StatusContacted, StatusQualified,
	StatusFollowUp, StatusConverted, StatusLost,
}

// Column types recognized by the table configuration.
const (
	ColumnTypeText   = "text"
	ColumnTypeNumber = "number"
	ColumnTypeDate   = "date"
	ColumnTypeSelect = "select"
	ColumnTypePhone  = "phone"
)

// ColumnTypes lists all valid column types.
var ColumnTypes = []string{
	ColumnTypeText, ColumnTypeNumber, ColumnTypeDate,
	ColumnTypeSelect, ColumnTypePhone,
}

// Column width bounds in pixels. Out-of-range widths are clamped silently.
const (
	MinColumnWidth     = 60
	MaxColumnWidth     = 600
	DefaultColumnWidth = 150
)

// DateFormat is the canonical on-disk date format. Free-form dates from
// legacy records are normalized to this format during migration.
const DateFormat = "2006-01-02"

// MobileNumber is one phone entry attached to a lead. Exactly one entry per
// lead should have IsMain set.
type MobileNumber struct {
	ID     string `json:"id"`
	Number string `json:"number"`
	IsMain bool   `json:"isMain"`
	Label  string `json:"label,omitempty"`
}

// Activity is one entry in a lead's activity log.
type Activity struct {
	ID        string `json:"id"`
	Type      string `json:"type"`
	Note      string `json:"note,omitempty"`
	Timestamp string `json:"timestamp"`
}

// Lead is one lead/case record. This is the current (1.0) shape; legacy (0.9)
// records carry a singular mobileNumber string and no identifier.
type Lead struct {
	ID            string         `json:"id"`
	ClientName    string         `json:"clientName"`
	Email         string         `json:"email,omitempty"`
	Status        string         `json:"status"`
	MobileNumbers []MobileNumber `json:"mobileNumbers"`
	Activities    []Activity     `json:"activities"`
	Notes         string         `json:"notes,omitempty"`
	FollowUpDate  string         `json:"followUpDate,omitempty"`
	IsArchived    bool           `json:"isArchived"`
	IsPinned      bool           `json:"isPinned"`
	CreatedAt     string         `json:"createdAt,omitempty"`
	UpdatedAt     string         `json:"updatedAt,omitempty"`
}

// Column describes one column of the lead table.
type Column struct {
	ID      string `json:"id"`
	Field   string `json:"field"`
	Label   string `json:"label"`
	Type    string `json:"type"`
	Width   int    `json:"width"`
	Visible bool   `json:"visible"`
	Order   int    `json:"order"`
}

// HeaderField describes one field shown in the lead detail header.
type HeaderField struct {
	Field   string `json:"field"`
	Label   string `json:"label"`
	Visible bool   `json:"visible"`
	Pinned  bool   `json:"pinned"`
	Order   int    `json:"order"`
}

// SavedView is a persisted filter/sort/column preset.
type SavedView struct {
	ID        string   `json:"id"`
	Name      string   `json:"name"`
	Search    string   `json:"search,omitempty"`
	Statuses  []string `json:"statuses"`
	SortBy    string   `json:"sortBy,omitempty"`
	SortDesc  bool     `json:"sortDesc"`
	Columns   []string `json:"columns"`
	IsDefault bool     `json:"isDefault"`
	CreatedAt string   `json:"createdAt,omitempty"`
}

// ValidLeadStatus reports whether s is a recognized lead status.
func ValidLeadStatus(s string) bool {
	for _, v := range LeadStatuses {
		if v == s {
			return true
		}
	}
	return false
}

// ValidColumnType reports whether t is a recognized column type.
func ValidColumnType(t string) bool {
	for _, v := range ColumnTypes {
		if v == t {
			return true
		}
	}
	return false
}

// ClampWidth clamps a column width into the valid range, substituting the
// default for non-positive values.
func ClampWidth(w int) int {
	if w <= 0 {
		return DefaultColumnWidth
	}
	if w < MinColumnWidth {
		return MinColumnWidth
	}
	if w > MaxColumnWidth {
		return MaxColumnWidth
	}
	return w
}
