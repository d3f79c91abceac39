// Package store persists books, sequences, scene descriptions and artifact
// references in SQLite.
//
// Every mutation of a sequence's status is a guarded update inside an
// immediate transaction so the pipeline's job handlers can run concurrently
// and be replayed safely. RecordArtifact carries the fan-in rule: storing one
// artifact promotes the sequence to completed when the other is already
// present, and increments the book's completed count in the same transaction.
//
// Getters return (nil, nil) for missing rows; transitions return ErrNotFound.
package store
