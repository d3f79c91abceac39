// Package artifacts persists generated narration audio and illustrations and
// hands back the URL recorded against the sequence.
//
// Blobs are content addressed below the configured artifact directory:
//
//	books/<book-id>/sequences/<sequence-id>/<kind>-<sha256 prefix>.<ext>
//
// URLs use the configured public base URL when set and file:// otherwise.
package artifacts
