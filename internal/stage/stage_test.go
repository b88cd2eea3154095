package stage_test

import (
	"testing"

	"deedflow/internal/stage"
)

func TestOrderIsLinear(t *testing.T) {
	all := stage.All()
	if len(all) != 7 {
		t.Fatalf("expected 7 stages, got %d", len(all))
	}
	if all[0] != stage.Initial() {
		t.Fatalf("initial stage should lead the order")
	}
	for i, s := range all {
		if stage.Index(s) != i {
			t.Fatalf("index of %s = %d, want %d", s, stage.Index(s), i)
		}
		next, ok := stage.Next(s)
		if i == len(all)-1 {
			if ok {
				t.Fatalf("terminal stage has successor %s", next)
			}
			if !stage.Terminal(s) {
				t.Fatalf("last stage not terminal")
			}
			continue
		}
		if !ok || next != all[i+1] {
			t.Fatalf("next of %s = %s, want %s", s, next, all[i+1])
		}
		if stage.Terminal(s) {
			t.Fatalf("%s should not be terminal", s)
		}
	}
}

func TestNextUnknownStage(t *testing.T) {
	if _, ok := stage.Next(stage.Stage("escrow_reopened")); ok {
		t.Fatalf("unknown stage should have no successor")
	}
	if stage.Valid(stage.Stage("escrow_reopened")) {
		t.Fatalf("unknown stage reported valid")
	}
}

func TestDurationsSumToTimeline(t *testing.T) {
	total := 0
	for _, s := range stage.All() {
		if stage.Duration(s) <= 0 {
			t.Fatalf("stage %s has no duration", s)
		}
		total += stage.Duration(s)
	}
	if total != 13 {
		t.Fatalf("durations sum to %d, want 13", total)
	}
	if stage.TotalDays() != 13 {
		t.Fatalf("TotalDays = %d, want 13", stage.TotalDays())
	}
}

func TestProgress(t *testing.T) {
	cases := map[stage.Stage]int{
		stage.OfferAccepted:     14,
		stage.TitleSearch:       29,
		stage.Underwriting:      43,
		stage.ClearToClose:      57,
		stage.FinalDocuments:    71,
		stage.FundingSigning:    86,
		stage.RecordingComplete: 100,
	}
	for s, want := range cases {
		if got := stage.Progress(s); got != want {
			t.Errorf("progress of %s = %d, want %d", s, got, want)
		}
	}
}

func TestRemainingDays(t *testing.T) {
	if got := stage.RemainingDays(stage.RecordingComplete); got != 1 {
		t.Fatalf("remaining at terminal = %d, want 1", got)
	}
	if got := stage.RemainingDays(stage.ClearToClose); got != 6 {
		t.Fatalf("remaining at clear_to_close = %d, want 6", got)
	}
}

func TestRequiredDocuments(t *testing.T) {
	if docs := stage.RequiredDocuments(stage.OfferAccepted); len(docs) != 0 {
		t.Fatalf("offer_accepted should require no documents, got %v", docs)
	}
	docs := stage.RequiredDocuments(stage.Underwriting)
	if len(docs) != 1 || docs[0] != "proof_of_funds" {
		t.Fatalf("underwriting requirements = %v", docs)
	}
	// returned slice must be a copy
	docs[0] = "mutated"
	if stage.RequiredDocuments(stage.Underwriting)[0] != "proof_of_funds" {
		t.Fatalf("RequiredDocuments leaked internal slice")
	}
}
