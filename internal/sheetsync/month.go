package sheetsync

import (
	"fmt"
	"strings"
	"time"
)

// MonthLayout is how month labels are written in the summary sheet.
const MonthLayout = "January 2006"

// Labels typed by hand are sometimes abbreviated, and a label entered with
// USER_ENTERED may come back as a date cell in the sheet's date format.
var monthLayouts = []string{
	MonthLayout,
	"Jan 2006",
	"2006-01",
	"1/2/2006",
	"2006-01-02",
	"January 2, 2006",
	"Jan 2, 2006",
}

// MonthKey is a calendar month. Keys compare with ==.
type MonthKey struct {
	Year  int
	Month time.Month
}

// MonthOf returns the month containing t in t's location.
func MonthOf(t time.Time) MonthKey {
	return MonthKey{Year: t.Year(), Month: t.Month()}
}

// ParseMonthKey reads a label such as "September 2020".
func ParseMonthKey(label string) (MonthKey, error) {
	label = strings.TrimSpace(label)
	for _, layout := range monthLayouts {
		if t, err := time.Parse(layout, label); err == nil {
			return MonthOf(t), nil
		}
	}
	return MonthKey{}, fmt.Errorf("unrecognized month label %q", label)
}

// Label renders k in MonthLayout.
func (k MonthKey) Label() string {
	return time.Date(k.Year, k.Month, 1, 0, 0, 0, 0, time.UTC).Format(MonthLayout)
}

func (k MonthKey) String() string { return k.Label() }

// Date is the first day of the month, used as a partition date.
func (k MonthKey) Date() time.Time {
	return time.Date(k.Year, k.Month, 1, 0, 0, 0, 0, time.UTC)
}
