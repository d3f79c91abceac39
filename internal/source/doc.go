// Package source fetches raw book text by catalog id, either from an HTTP
// catalog addressed by a URL template or from <id>.txt files in a local
// directory. Fetched text is NFC-normalized and stripped of Project
// Gutenberg license boilerplate; title and author come from the header.
package source
