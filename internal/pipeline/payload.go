package pipeline

import (
	"strconv"
	"strings"

	"storyloom/internal/jobqueue"
	"storyloom/internal/sequence"
)

// Job kinds handled by the pipeline.
const (
	KindSequenceProcessing jobqueue.Kind = "sequence-processing"
	KindAudioGeneration    jobqueue.Kind = "audio-generation"
	KindSceneAnalysis      jobqueue.Kind = "scene-analysis"
	KindImageGeneration    jobqueue.Kind = "image-generation"
)

// Kinds lists the pipeline job kinds in processing order.
func Kinds() []jobqueue.Kind {
	return []jobqueue.Kind{KindSequenceProcessing, KindAudioGeneration, KindSceneAnalysis, KindImageGeneration}
}

// Payload is the JSON body shared by every pipeline job.
type Payload struct {
	BookID         int64  `json:"book_id"`
	SequenceID     int64  `json:"sequence_id"`
	SequenceNumber int    `json:"sequence_number"`
	Total          int    `json:"total"`
	Description    string `json:"description,omitempty"`
	RequestID      string `json:"request_id,omitempty"`
}

func (p Payload) next(description string) Payload {
	p.Description = description
	return p
}

// UniqueKey is the queue key that keeps one active job per kind and sequence.
func UniqueKey(kind jobqueue.Kind, sequenceID int64) string {
	return string(kind) + ":" + strconv.FormatInt(sequenceID, 10)
}

// parseUniqueKey returns the sequence id of a pipeline unique key.
func parseUniqueKey(key string) (int64, bool) {
	kind, id, ok := strings.Cut(key, ":")
	if !ok || !isPipelineKind(jobqueue.Kind(kind)) {
		return 0, false
	}
	sequenceID, err := strconv.ParseInt(id, 10, 64)
	if err != nil || sequenceID <= 0 {
		return 0, false
	}
	return sequenceID, true
}

func isPipelineKind(kind jobqueue.Kind) bool {
	for _, k := range Kinds() {
		if k == kind {
			return true
		}
	}
	return false
}

func artifactJobKind(kind sequence.ArtifactKind) jobqueue.Kind {
	if kind == sequence.ArtifactAudio {
		return KindAudioGeneration
	}
	return KindImageGeneration
}
