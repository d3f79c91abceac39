package textutil

import (
	"fmt"
	"strings"
)

// Window is a run of consecutive words from a source text. Start and End are
// half-open word offsets into the token stream produced by strings.Fields.
type Window struct {
	Number int
	Start  int
	End    int
	Text   string
}

// WordCount returns the number of words in the window.
func (w Window) WordCount() int {
	return w.End - w.Start
}

// SplitWords tiles the words of text into windows of size words each. The
// last window holds the remainder and may be shorter. Whitespace between
// words is collapsed to a single space in each window's Text.
func SplitWords(text string, size int) ([]Window, error) {
	if size <= 0 {
		return nil, fmt.Errorf("window size must be positive, got %d", size)
	}
	words := strings.Fields(text)
	if len(words) == 0 {
		return nil, nil
	}

	windows := make([]Window, 0, (len(words)+size-1)/size)
	for start := 0; start < len(words); start += size {
		end := min(start+size, len(words))
		windows = append(windows, Window{
			Number: len(windows),
			Start:  start,
			End:    end,
			Text:   strings.Join(words[start:end], " "),
		})
	}
	return windows, nil
}

// CountWords returns the number of whitespace-delimited words in text.
func CountWords(text string) int {
	return len(strings.Fields(text))
}
