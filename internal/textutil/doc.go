// Package textutil splits text into word windows.
//
// A window holds at most n whitespace-separated words. Windows tile the input:
// each starts at the previous window's end position, and only the last may be
// shorter than n.
package textutil
