// Package main hosts the storyloom CLI entrypoint and command graph.
//
// Commands that mutate state (ingest, more, sweep) open the record store and
// job queue directly; SQLite in WAL mode lets them run next to a daemon,
// whose pools pick up the enqueued jobs. "status" asks the running daemon
// over its HTTP API. "daemon" runs the worker pools in the foreground.
package main
