package api

// dateTimeFormat is used for RFC3339 timestamps in API payloads.
const dateTimeFormat = "2006-01-02T15:04:05.000Z07:00"

// Book describes an ingested book.
type Book struct {
	ID                     int64  `json:"id"`
	SourceID               string `json:"source_id"`
	Title                  string `json:"title"`
	Author                 string `json:"author,omitempty"`
	Status                 string `json:"status"`
	WordsPerSequence       int    `json:"words_per_sequence"`
	TotalSequences         int    `json:"total_sequences"`
	CompletedSequenceCount int    `json:"completed_sequence_count"`
	CreatedAt              string `json:"created_at,omitempty"`
	UpdatedAt              string `json:"updated_at,omitempty"`
}

// Sequence describes one window of a book and its artifacts.
type Sequence struct {
	ID               int64  `json:"id"`
	BookID           int64  `json:"book_id"`
	SequenceNumber   int    `json:"sequence_number"`
	Content          string `json:"content"`
	StartPosition    int    `json:"start_position"`
	EndPosition      int    `json:"end_position"`
	Status           string `json:"status"`
	ErrorMessage     string `json:"error_message,omitempty"`
	SceneDescription string `json:"scene_description,omitempty"`
	AudioURL         string `json:"audio_url"`
	ImageURL         string `json:"image_url"`
	EnqueuedAt       string `json:"enqueued_at,omitempty"`
	UpdatedAt        string `json:"updated_at,omitempty"`
}

// PoolStatus mirrors a worker pool's runtime counters.
type PoolStatus struct {
	Kind      string `json:"kind"`
	Workers   int    `json:"workers"`
	Running   bool   `json:"running"`
	Busy      int    `json:"busy"`
	Processed int64  `json:"processed"`
	Failed    int64  `json:"failed"`
	Dead      int64  `json:"dead"`
	LastError string `json:"last_error,omitempty"`
}

// JobCounts summarizes queue jobs of one kind by state.
type JobCounts struct {
	Kind    string `json:"kind"`
	Pending int    `json:"pending"`
	Running int    `json:"running"`
	Done    int    `json:"done"`
	Dead    int    `json:"dead"`
}

// SequenceTotals aggregates sequence counts across all books.
type SequenceTotals struct {
	Books      int `json:"books"`
	Total      int `json:"total"`
	Pending    int `json:"pending"`
	InFlight   int `json:"in_flight"`
	Completed  int `json:"completed"`
	Failed     int `json:"failed"`
	Unenqueued int `json:"unenqueued"`
}

// DaemonStatus aggregates daemon runtime information for API consumers.
type DaemonStatus struct {
	Running      bool           `json:"running"`
	PID          int            `json:"pid"`
	RecordsPath  string         `json:"records_path"`
	QueuePath    string         `json:"queue_path"`
	LockFilePath string         `json:"lock_file_path"`
	NextSweep    string         `json:"next_sweep,omitempty"`
	Pools        []PoolStatus   `json:"pools"`
	Jobs         []JobCounts    `json:"jobs"`
	Sequences    SequenceTotals `json:"sequences"`
}

// BookListResponse wraps a collection of books.
type BookListResponse struct {
	Books []Book `json:"books"`
}

// BookResponse wraps a single book.
type BookResponse struct {
	Book Book `json:"book"`
}

// SequenceListResponse wraps the sequences of one book.
type SequenceListResponse struct {
	BookID    int64      `json:"book_id"`
	Sequences []Sequence `json:"sequences"`
}
