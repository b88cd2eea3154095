// Package stage defines the fixed 7-stage closing pipeline. The ordering is
// the single source of truth for transaction progression: stages advance one
// step at a time, never backward, never skipping.
package stage

import "math"

type Stage string

const (
	OfferAccepted     Stage = "offer_accepted"
	TitleSearch       Stage = "title_search_ordered"
	Underwriting      Stage = "lender_underwriting"
	ClearToClose      Stage = "clear_to_close"
	FinalDocuments    Stage = "final_documents_prepared"
	FundingSigning    Stage = "funding_and_signing"
	RecordingComplete Stage = "recording_complete"
)

// order is the canonical linear path. OfferAccepted is the only entry point
// and RecordingComplete the only terminal stage.
var order = []Stage{
	OfferAccepted,
	TitleSearch,
	Underwriting,
	ClearToClose,
	FinalDocuments,
	FundingSigning,
	RecordingComplete,
}

// durations holds the nominal days budgeted per stage. They sum to the
// 13-day platform timeline used for the initial closing estimate.
var durations = map[Stage]int{
	OfferAccepted:     1,
	TitleSearch:       2,
	Underwriting:      4,
	ClearToClose:      1,
	FinalDocuments:    2,
	FundingSigning:    2,
	RecordingComplete: 1,
}

// requiredDocuments lists document types that must be approved before a
// transaction may enter the given stage. Stages absent from the map have no
// document gate.
var requiredDocuments = map[Stage][]string{
	Underwriting:      {"proof_of_funds"},
	ClearToClose:      {"insurance_policy"},
	FinalDocuments:    {"closing_disclosure"},
	RecordingComplete: {"deed"},
}

// All returns the stages in canonical order.
func All() []Stage {
	out := make([]Stage, len(order))
	copy(out, order)
	return out
}

// Count returns the number of stages in the pipeline.
func Count() int { return len(order) }

// Valid reports whether s is a known stage.
func Valid(s Stage) bool {
	_, ok := durations[s]
	return ok
}

// Index returns the zero-based position of s in the pipeline, or -1 for an
// unknown stage.
func Index(s Stage) int {
	for i, st := range order {
		if st == s {
			return i
		}
	}
	return -1
}

// Next returns the successor of s. ok is false when s is terminal or unknown.
func Next(s Stage) (next Stage, ok bool) {
	i := Index(s)
	if i < 0 || i >= len(order)-1 {
		return "", false
	}
	return order[i+1], true
}

// Initial returns the stage every new transaction starts in.
func Initial() Stage { return OfferAccepted }

// Terminal reports whether s is the final stage.
func Terminal(s Stage) bool { return s == RecordingComplete }

// Duration returns the nominal days budgeted for s (0 for unknown stages).
func Duration(s Stage) int { return durations[s] }

// RequiredDocuments returns document types that must be approved before
// leaving s.
func RequiredDocuments(s Stage) []string {
	docs := requiredDocuments[s]
	out := make([]string, len(docs))
	copy(out, docs)
	return out
}

// Progress returns the percentage of the pipeline covered once s has been
// entered, rounded to the nearest integer.
func Progress(s Stage) int {
	i := Index(s)
	if i < 0 {
		return 0
	}
	return int(math.Round(float64(i+1) / float64(len(order)) * 100))
}

// RemainingDays sums the nominal durations from s (inclusive) to the end of
// the pipeline.
func RemainingDays(s Stage) int {
	i := Index(s)
	if i < 0 {
		return 0
	}
	days := 0
	for _, st := range order[i:] {
		days += durations[st]
	}
	return days
}

// TotalDays is the nominal full-pipeline timeline in days.
func TotalDays() int {
	return RemainingDays(order[0])
}
