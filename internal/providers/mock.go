package providers

import (
	"context"
	"fmt"
	"sync"
)

// Mock implements Narrator, SceneDescriber and Illustrator for tests.
// Errors set on a capability are returned on every call until cleared.
type Mock struct {
	mu sync.Mutex

	NarrateErr  error
	DescribeErr error
	IllustErr   error
	// Description overrides the generated scene description.
	Description string

	narrations    int
	descriptions  int
	illustrations int
	prompts       []string
}

// NewMock creates a mock whose calls all succeed.
func NewMock() *Mock {
	return &Mock{}
}

// Narrate returns deterministic audio bytes for text.
func (m *Mock) Narrate(ctx context.Context, text string) (*Audio, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.narrations++
	if m.NarrateErr != nil {
		return nil, m.NarrateErr
	}
	return &Audio{Data: []byte("audio:" + text), Format: "mp3"}, nil
}

// DescribeScene returns Description or a summary derived from text.
func (m *Mock) DescribeScene(ctx context.Context, text string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.descriptions++
	if m.DescribeErr != nil {
		return "", m.DescribeErr
	}
	if m.Description != "" {
		return m.Description, nil
	}
	return fmt.Sprintf("scene of %d characters", len(text)), nil
}

// Illustrate returns deterministic image bytes for description.
func (m *Mock) Illustrate(ctx context.Context, description string) (*Image, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.illustrations++
	m.prompts = append(m.prompts, description)
	if m.IllustErr != nil {
		return nil, m.IllustErr
	}
	return &Image{Data: []byte("image:" + description), Format: "png"}, nil
}

// Calls returns how often each capability was invoked.
func (m *Mock) Calls() (narrations, descriptions, illustrations int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.narrations, m.descriptions, m.illustrations
}

// Prompts returns the descriptions passed to Illustrate.
func (m *Mock) Prompts() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]string, len(m.prompts))
	copy(out, m.prompts)
	return out
}

var (
	_ Narrator       = (*Mock)(nil)
	_ SceneDescriber = (*Mock)(nil)
	_ Illustrator    = (*Mock)(nil)
)
