package migrate

import (
	"time"

	"github.com/platinummonkey/leadstore/pkg/model"
)

// dateLayouts are the free-form formats legacy records were written in,
// tried in order. Day-first layouts come before month-first because the
// original data entry UI used day-first fields.
var dateLayouts = []string{
	model.DateFormat,
	time.RFC3339,
	"2006-01-02T15:04:05",
	"2006/01/02",
	"02/01/2006",
	"02-01-2006",
	"01/02/2006",
	"2 Jan 2006",
	"Jan 2, 2006",
}

// NormalizeDate converts a free-form date string to the canonical format.
// The second return reports success; callers record a non-fatal error on
// failure but keep the record.
func NormalizeDate(s string) (string, bool) {
	if s == "" {
		return "", true
	}
	for _, layout := range dateLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t.Format(model.DateFormat), true
		}
	}
	return s, false
}
