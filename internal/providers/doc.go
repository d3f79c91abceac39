// Package providers adapts external generation services: narration
// synthesis, scene description and image synthesis.
//
// Adapters classify failures so the retry package can tell transient
// problems (rate limits, 5xx, timeouts) from permanent ones.
package providers
