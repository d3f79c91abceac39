package store

import (
	"strings"
	"time"

	"storyloom/internal/sequence"
)

// BookStatus is the aggregate lifecycle of a book.
type BookStatus string

const (
	BookPending    BookStatus = "pending"
	BookProcessing BookStatus = "processing"
	BookReady      BookStatus = "ready"
)

// ParseBookStatus normalizes value and reports whether it names a book status.
func ParseBookStatus(value string) (BookStatus, bool) {
	switch status := BookStatus(strings.ToLower(strings.TrimSpace(value))); status {
	case BookPending, BookProcessing, BookReady:
		return status, true
	}
	return "", false
}

// Book is an ingested source text.
type Book struct {
	ID                     int64
	SourceID               string
	Title                  string
	Author                 string
	Status                 BookStatus
	WordsPerSequence       int
	TotalSequences         int
	CompletedSequenceCount int
	CreatedAt              time.Time
	UpdatedAt              time.Time
}

// NewBook carries the descriptive fields of a book being ingested.
type NewBook struct {
	SourceID         string
	Title            string
	Author           string
	WordsPerSequence int
}

// NewSequence is one window of source text to persist at ingest.
type NewSequence struct {
	Number        int
	Content       string
	StartPosition int
	EndPosition   int
}

// Sequence is a chunk of source text plus its derived artifacts.
type Sequence struct {
	ID               int64
	BookID           int64
	Number           int
	Content          string
	StartPosition    int
	EndPosition      int
	Status           sequence.Status
	ErrorMessage     string
	EnqueuedAt       *time.Time
	CreatedAt        time.Time
	UpdatedAt        time.Time
	SceneDescription string
	AudioURL         string
	ImageURL         string
}

// HasArtifact reports whether the artifact of kind has been recorded.
func (s *Sequence) HasArtifact(kind sequence.ArtifactKind) bool {
	return s.ArtifactURL(kind) != ""
}

// ArtifactURL returns the recorded URL for kind, or "".
func (s *Sequence) ArtifactURL(kind sequence.ArtifactKind) string {
	switch kind {
	case sequence.ArtifactAudio:
		return s.AudioURL
	case sequence.ArtifactImage:
		return s.ImageURL
	default:
		return ""
	}
}

// ArtifactResult describes the outcome of recording one artifact.
type ArtifactResult struct {
	// Status is the sequence status after the call.
	Status sequence.Status
	// Applied is false when the sequence could not accept the artifact.
	Applied bool
	// Completed is true only for the call that promoted the sequence to completed.
	Completed bool
	// BookReady is true when this call also moved the book to ready.
	BookReady bool
}

// FailResult describes the outcome of MarkFailed.
type FailResult struct {
	// Changed is false when the sequence was already terminal.
	Changed bool
	// BookReady is true when this call also moved the book to ready.
	BookReady bool
}

// StaleResult describes one staleness pass.
type StaleResult struct {
	Failed int64
	// Books maps each affected book to the number of its sequences failed.
	Books map[int64]int
	// ReadyBooks lists the books this pass moved to ready, in id order.
	ReadyBooks []int64
}

// PurgeCandidate is a failed sequence old enough for retention cleanup.
type PurgeCandidate struct {
	SequenceID   int64
	BookID       int64
	ArtifactURLs []string
}

// HealthSummary describes aggregated sequence counts per lifecycle group.
type HealthSummary struct {
	Books      int
	Total      int
	Pending    int
	InFlight   int
	Completed  int
	Failed     int
	Unenqueued int
}

// DatabaseHealth captures diagnostic information about the records database.
type DatabaseHealth struct {
	DBPath           string
	DatabaseExists   bool
	DatabaseReadable bool
	SchemaVersion    int
	IntegrityCheck   bool
	Error            string
}
