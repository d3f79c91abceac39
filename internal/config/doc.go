// Package config loads, normalizes, and validates storyloom configuration data.
//
// It supplies repository defaults, expands user paths (including tilde
// shortcuts), reads TOML files, and honours the OPENAI_API_KEY environment
// fallback. The Config type centralizes every knob the daemon and CLI need:
// storage directories, source fetching, windowing, worker concurrency, queue
// redelivery, adapter retries and sweep thresholds.
//
// Always obtain settings through this package so downstream code receives
// sanitized paths, canonical log formats, and clear validation errors.
package config
