package release

import (
	"testing"
	"time"
)

func TestNewStateStartsPending(t *testing.T) {
	st := NewState("1.2.0")
	if st.ReleaseID != "1.2.0" {
		t.Fatalf("unexpected release id %q", st.ReleaseID)
	}
	for _, stage := range Order {
		rec := st.Record(stage)
		if rec.Status != StatusPending {
			t.Fatalf("stage %s status = %s, want pending", stage, rec.Status)
		}
	}
	if next, ok := st.NextPending(); !ok || next != StageMerge {
		t.Fatalf("NextPending = %s/%v, want merge/true", next, ok)
	}
}

func TestSetCompletedEnforcesOrder(t *testing.T) {
	st := NewState("1.2.0")
	if err := st.SetCompleted(StageSign); err == nil {
		t.Fatal("expected error completing sign before merge")
	}
	if err := st.SetCompleted(StageMerge); err != nil {
		t.Fatalf("complete merge: %v", err)
	}
	if err := st.SetCompleted(StageSign); err != nil {
		t.Fatalf("complete sign: %v", err)
	}
	if next, ok := st.NextPending(); !ok || next != StageNotarize {
		t.Fatalf("NextPending = %s/%v, want notarize/true", next, ok)
	}
}

func TestSetCompletedRejectsUnknownStage(t *testing.T) {
	st := NewState("1.2.0")
	if err := st.SetCompleted(Stage("encode")); err == nil {
		t.Fatal("expected error for unknown stage")
	}
}

func TestDoneRequiresFinalStage(t *testing.T) {
	st := NewState("1.2.0")
	for _, stage := range Order {
		if st.Done() {
			t.Fatalf("Done before %s completed", stage)
		}
		if err := st.SetCompleted(stage); err != nil {
			t.Fatalf("complete %s: %v", stage, err)
		}
	}
	if !st.Done() {
		t.Fatal("Done after archive completed")
	}
}

func TestSetFailedRecordsError(t *testing.T) {
	st := NewState("1.2.0")
	st.SetFailed(StageNotarize, "notarization_rejected", "invalid signature")
	rec := st.Record(StageNotarize)
	if rec.Status != StatusFailed {
		t.Fatalf("status = %s, want failed", rec.Status)
	}
	if rec.LastError == nil || rec.LastError.Kind != "notarization_rejected" {
		t.Fatalf("unexpected last error %+v", rec.LastError)
	}
}

func TestRecordPollAccounting(t *testing.T) {
	st := NewState("1.2.0")
	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	st.RecordPoll(base, VerdictUnknown)
	st.RecordPoll(base.Add(30*time.Second), VerdictUnknown)
	st.RecordPoll(base.Add(90*time.Second), VerdictAccepted)

	sub := st.Submission
	if sub == nil {
		t.Fatal("submission not created")
	}
	if sub.PollCount != 3 {
		t.Fatalf("poll count = %d, want 3", sub.PollCount)
	}
	if sub.FirstPolledAt == nil || !sub.FirstPolledAt.Equal(base) {
		t.Fatalf("first polled at = %v, want %v", sub.FirstPolledAt, base)
	}
	if sub.LastPolledAt == nil || !sub.LastPolledAt.Equal(base.Add(90*time.Second)) {
		t.Fatalf("last polled at = %v", sub.LastPolledAt)
	}
	if sub.Verdict != VerdictAccepted {
		t.Fatalf("verdict = %s, want accepted", sub.Verdict)
	}
}
