package release

import (
	"fmt"
	"time"
)

// Stage identifies one ordered step of the release pipeline.
type Stage string

const (
	StageMerge    Stage = "merge"
	StageSign     Stage = "sign"
	StageNotarize Stage = "notarize"
	StageStaple   Stage = "staple"
	StageArchive  Stage = "archive"
)

// Order is the fixed pipeline order. Every stage consumes the previous
// stage's artifact, so the sequence is not configurable.
var Order = []Stage{StageMerge, StageSign, StageNotarize, StageStaple, StageArchive}

var stageIndex = func() map[Stage]int {
	idx := make(map[Stage]int, len(Order))
	for i, stage := range Order {
		idx[stage] = i
	}
	return idx
}()

// Known reports whether stage is part of the pipeline.
func Known(stage Stage) bool {
	_, ok := stageIndex[stage]
	return ok
}

// Index returns the position of stage in pipeline order, or -1.
func Index(stage Stage) int {
	if i, ok := stageIndex[stage]; ok {
		return i
	}
	return -1
}

// StageStatus represents the lifecycle of a stage record.
type StageStatus string

const (
	StatusPending    StageStatus = "pending"
	StatusInProgress StageStatus = "in_progress"
	StatusCompleted  StageStatus = "completed"
	StatusFailed     StageStatus = "failed"
)

// StageError captures the most recent failure of a stage.
type StageError struct {
	Kind    string `json:"kind"`
	Message string `json:"message"`
}

// StageRecord is the persisted outcome of one stage.
type StageRecord struct {
	Status    StageStatus `json:"status"`
	Artifact  string      `json:"artifact,omitempty"`
	Attempts  int         `json:"attempts"`
	LastError *StageError `json:"last_error,omitempty"`
}

// Verdict is the terminal outcome of a notarization review.
type Verdict string

const (
	VerdictUnknown  Verdict = "unknown"
	VerdictAccepted Verdict = "accepted"
	VerdictRejected Verdict = "rejected"
	VerdictTimedOut Verdict = "timed_out"
)

// Submission tracks the asynchronous notarization job. The ID is recorded
// before the first poll so a resumed run never resubmits.
type Submission struct {
	ID            string     `json:"id"`
	Verdict       Verdict    `json:"verdict"`
	PollCount     int        `json:"poll_count"`
	FirstPolledAt *time.Time `json:"first_polled_at,omitempty"`
	LastPolledAt  *time.Time `json:"last_polled_at,omitempty"`
}

// State is the persistent record of one release attempt.
type State struct {
	ReleaseID  string                 `json:"release_id"`
	Stages     map[Stage]*StageRecord `json:"stages"`
	Submission *Submission            `json:"submission,omitempty"`
	CreatedAt  time.Time              `json:"created_at"`
	UpdatedAt  time.Time              `json:"updated_at"`
}

// NewState builds a fresh state with every stage pending.
func NewState(releaseID string) *State {
	now := time.Now().UTC()
	st := &State{
		ReleaseID: releaseID,
		Stages:    make(map[Stage]*StageRecord, len(Order)),
		CreatedAt: now,
		UpdatedAt: now,
	}
	for _, stage := range Order {
		st.Stages[stage] = &StageRecord{Status: StatusPending}
	}
	return st
}

// Record returns the record for stage, creating a pending one if absent.
func (s *State) Record(stage Stage) *StageRecord {
	if s.Stages == nil {
		s.Stages = make(map[Stage]*StageRecord, len(Order))
	}
	rec, ok := s.Stages[stage]
	if !ok {
		rec = &StageRecord{Status: StatusPending}
		s.Stages[stage] = rec
	}
	return rec
}

// Completed reports whether stage has finished successfully.
func (s *State) Completed(stage Stage) bool {
	rec, ok := s.Stages[stage]
	return ok && rec.Status == StatusCompleted
}

// Done reports whether the final stage has completed.
func (s *State) Done() bool {
	return s.Completed(Order[len(Order)-1])
}

// NextPending returns the first stage that has not completed.
func (s *State) NextPending() (Stage, bool) {
	for _, stage := range Order {
		if !s.Completed(stage) {
			return stage, true
		}
	}
	return "", false
}

// SetInProgress marks a stage as running and clears its previous error.
func (s *State) SetInProgress(stage Stage) {
	rec := s.Record(stage)
	rec.Status = StatusInProgress
	rec.LastError = nil
	s.touch()
}

// SetCompleted marks a stage as complete. It refuses to complete a stage
// whose predecessors have not completed, which keeps persisted state
// consistent with pipeline order no matter what the caller does.
func (s *State) SetCompleted(stage Stage) error {
	idx := Index(stage)
	if idx < 0 {
		return fmt.Errorf("unknown stage %q", stage)
	}
	for _, prior := range Order[:idx] {
		if !s.Completed(prior) {
			return fmt.Errorf("stage %s cannot complete before %s", stage, prior)
		}
	}
	rec := s.Record(stage)
	rec.Status = StatusCompleted
	rec.LastError = nil
	s.touch()
	return nil
}

// SetFailed marks a stage as failed with a structured error.
func (s *State) SetFailed(stage Stage, kind, message string) {
	rec := s.Record(stage)
	rec.Status = StatusFailed
	rec.LastError = &StageError{Kind: kind, Message: message}
	s.touch()
}

// EnsureSubmission returns the submission record, creating it when absent.
func (s *State) EnsureSubmission() *Submission {
	if s.Submission == nil {
		s.Submission = &Submission{Verdict: VerdictUnknown}
	}
	return s.Submission
}

// RecordPoll updates submission poll accounting for one status query.
func (s *State) RecordPoll(at time.Time, verdict Verdict) {
	sub := s.EnsureSubmission()
	sub.PollCount++
	stamp := at.UTC()
	if sub.FirstPolledAt == nil {
		first := stamp
		sub.FirstPolledAt = &first
	}
	last := stamp
	sub.LastPolledAt = &last
	if verdict != "" {
		sub.Verdict = verdict
	}
	s.touch()
}

func (s *State) touch() {
	s.UpdatedAt = time.Now().UTC()
}
