package models

import "time"

// DedupStatus records how a run row has been affected by consolidation.
type DedupStatus string

const (
	DedupStatusKept     DedupStatus = "kept"
	DedupStatusReplaced DedupStatus = "replaced"
)

// ConflictTimeMismatch marks a run whose declared total time disagreed with
// its start/stop interval by more than one second.
const ConflictTimeMismatch = "time_mismatch"

// Run is a logical, deduplicated test execution window. Overlapping raw
// lines with the same identity key fold into one run; the interval can only
// grow, never shrink.
type Run struct {
	ID        string    `json:"id"`
	Equipment string    `json:"equipment"`
	StTime    time.Time `json:"stTime"`
	SpTime    time.Time `json:"spTime"`
	DurationS int       `json:"durationS"`

	ProjectCustomer *string `json:"projectCustomer"`
	ProjectCode     *string `json:"projectCode"`

	User    *string `json:"user"`
	PrgVer  *string `json:"prgVer"`
	CodeVer *string `json:"codeVer"`

	LogNameFields

	SourceCount    int         `json:"sourceCount"`
	DedupStatus    DedupStatus `json:"dedupStatus"`
	ConflictReason *string     `json:"conflictReason"`
}

// IdentityKey groups raw lines that may describe the same logical run. Time
// is deliberately excluded; it is used only for the overlap test.
type IdentityKey struct {
	Equipment string
	Customer  *string
	Code      *string
	SampleNo  *string
	TestItem  *string
}

// Key returns the run's identity key.
func (r *Run) Key() IdentityKey {
	return IdentityKey{
		Equipment: r.Equipment,
		Customer:  r.ProjectCustomer,
		Code:      r.ProjectCode,
		SampleNo:  r.SampleNo,
		TestItem:  r.TestItem,
	}
}
