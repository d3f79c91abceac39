// Package jobqueue provides the durable job transport used by the daemon.
//
// Jobs live in their own SQLite file, separate from book records. Delivery
// is at least once: a claim leases a job for a bounded window, heartbeats
// extend the lease, and an expired lease makes the job visible again.
// Failed attempts are redelivered with exponential backoff until the
// per-job attempt budget is spent, after which the job is dead and the
// pool's exhausted hook runs. Pool runs workers for one kind; Scheduler
// enqueues recurring jobs from cron expressions.
package jobqueue
