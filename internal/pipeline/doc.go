// Package pipeline turns ingested books into narrated, illustrated
// sequences.
//
// Ingest splits a source text into word windows and enqueues one
// sequence-processing job per window. Each sequence then fans out into an
// audio-generation branch and a scene-analysis branch; scene analysis feeds
// image generation. The two branches converge in the store: whichever
// artifact lands second promotes the sequence to completed and bumps the
// book's completed_sequence_count in the same transaction.
//
// Handlers acknowledge jobs whose sequence failed or vanished. Adapter
// failures become a failed sequence; store outages are returned to the queue
// so the job is redelivered with backoff.
package pipeline
