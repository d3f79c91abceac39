// Package sequence defines the lifecycle states of a sequence and the legal
// transitions between them.
//
// The store package enforces the same table in guarded SQL updates; this
// package is the single place the table is written down.
package sequence

import "strings"

// Status represents the lifecycle of a single sequence.
type Status string

const (
	StatusPending       Status = "pending"
	StatusProcessing    Status = "processing"
	StatusAudioComplete Status = "audio-complete"
	StatusImageComplete Status = "image-complete"
	StatusCompleted     Status = "completed"
	StatusFailed        Status = "failed"
)

// ArtifactKind names one of the two media artifacts every sequence needs.
type ArtifactKind string

const (
	ArtifactAudio ArtifactKind = "audio"
	ArtifactImage ArtifactKind = "image"
)

var allStatuses = []Status{
	StatusPending,
	StatusProcessing,
	StatusAudioComplete,
	StatusImageComplete,
	StatusCompleted,
	StatusFailed,
}

var inFlightStatuses = map[Status]struct{}{
	StatusProcessing:    {},
	StatusAudioComplete: {},
	StatusImageComplete: {},
}

var transitions = map[Status][]Status{
	StatusPending:       {StatusProcessing, StatusFailed},
	StatusProcessing:    {StatusAudioComplete, StatusImageComplete, StatusFailed},
	StatusAudioComplete: {StatusCompleted, StatusFailed},
	StatusImageComplete: {StatusCompleted, StatusFailed},
}

// AllStatuses returns the ordered list of known statuses.
func AllStatuses() []Status {
	cp := make([]Status, len(allStatuses))
	copy(cp, allStatuses)
	return cp
}

// InFlightStatuses returns the statuses the staleness sweep watches.
func InFlightStatuses() []Status {
	return []Status{StatusProcessing, StatusAudioComplete, StatusImageComplete}
}

// ParseStatus converts a string into a known Status.
func ParseStatus(value string) (Status, bool) {
	normalized := Status(strings.ToLower(strings.TrimSpace(value)))
	for _, status := range allStatuses {
		if status == normalized {
			return status, true
		}
	}
	return "", false
}

// IsTerminal reports whether no further transition can leave status.
func (s Status) IsTerminal() bool {
	return s == StatusCompleted || s == StatusFailed
}

// IsInFlight reports whether work for the sequence has started but not finished.
func (s Status) IsInFlight() bool {
	_, ok := inFlightStatuses[s]
	return ok
}

// CanTransition reports whether from -> to is a legal move.
func CanTransition(from, to Status) bool {
	for _, next := range transitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// Other returns the artifact a sequence still needs once kind is stored.
func (k ArtifactKind) Other() ArtifactKind {
	if k == ArtifactAudio {
		return ArtifactImage
	}
	return ArtifactAudio
}

// CompleteStatus is the intermediate status reached when only kind is stored.
func (k ArtifactKind) CompleteStatus() Status {
	if k == ArtifactAudio {
		return StatusAudioComplete
	}
	return StatusImageComplete
}

// Valid reports whether k is a known artifact kind.
func (k ArtifactKind) Valid() bool {
	return k == ArtifactAudio || k == ArtifactImage
}

// AfterArtifact returns the status a sequence in from moves to once kind is
// stored, given whether the other artifact already exists. ok is false when
// the sequence cannot accept the artifact (pending or terminal).
func AfterArtifact(from Status, kind ArtifactKind, otherPresent bool) (Status, bool) {
	switch from {
	case StatusProcessing, kind.CompleteStatus(), kind.Other().CompleteStatus():
	default:
		return from, false
	}
	if otherPresent {
		return StatusCompleted, true
	}
	return kind.CompleteStatus(), true
}
