// Package services defines shared utilities consumed by the pipeline job
// handlers and external integrations.
//
// Key responsibilities:
//   - Context helpers that stamp book IDs, sequence IDs, job kinds and
//     correlation identifiers for logging.
//   - Structured error markers plus the Wrap helper that let handlers decide
//     between failing a sequence and handing an error back to the job queue.
package services
