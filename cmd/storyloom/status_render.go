package main

import (
	"fmt"
	"io"
	"os"

	"github.com/mattn/go-isatty"

	"storyloom/internal/sequence"
	"storyloom/internal/store"
)

type statusKind int

const (
	statusInfo statusKind = iota
	statusOK
	statusWarn
	statusError
)

const (
	ansiReset  = "\x1b[0m"
	ansiRed    = "\x1b[31m"
	ansiGreen  = "\x1b[32m"
	ansiYellow = "\x1b[33m"
	ansiBlue   = "\x1b[34m"
)

const (
	statusLabelWidth = 20
	statusIndent     = "  "
)

func renderStatusLine(label string, kind statusKind, message string, colorize bool) string {
	statusText := fmt.Sprintf("[%s]", statusKindLabel(kind))
	if message != "" {
		statusText += " " + message
	}
	base := fmt.Sprintf("%s%-*s %s", statusIndent, statusLabelWidth, label+":", statusText)
	if colorize {
		if color := statusKindColor(kind); color != "" {
			return color + base + ansiReset
		}
	}
	return base
}

func statusKindLabel(kind statusKind) string {
	switch kind {
	case statusOK:
		return "OK"
	case statusWarn:
		return "WARN"
	case statusError:
		return "ERROR"
	default:
		return "INFO"
	}
}

func statusKindColor(kind statusKind) string {
	switch kind {
	case statusOK:
		return ansiGreen
	case statusWarn:
		return ansiYellow
	case statusError:
		return ansiRed
	case statusInfo:
		return ansiBlue
	default:
		return ""
	}
}

// bookStatusKind maps a book status to its status line severity. A ready
// book with failed sequences is reported as a warning.
func bookStatusKind(status string, completed, total int) statusKind {
	if store.BookStatus(status) != store.BookReady {
		return statusInfo
	}
	if completed < total {
		return statusWarn
	}
	return statusOK
}

func sequenceStatusKind(status string) statusKind {
	parsed, ok := sequence.ParseStatus(status)
	switch {
	case !ok:
		return statusWarn
	case parsed == sequence.StatusCompleted:
		return statusOK
	case parsed == sequence.StatusFailed:
		return statusError
	default:
		return statusInfo
	}
}

// shouldColorize honours NO_COLOR and only colors terminals.
func shouldColorize(writer io.Writer) bool {
	if _, disabled := os.LookupEnv("NO_COLOR"); disabled {
		return false
	}
	file, ok := writer.(*os.File)
	if !ok {
		return false
	}
	fd := file.Fd()
	return isatty.IsTerminal(fd) || isatty.IsCygwinTerminal(fd)
}
