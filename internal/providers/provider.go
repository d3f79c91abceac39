package providers

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"storyloom/internal/services"
)

// Audio is synthesized narration.
type Audio struct {
	Data []byte
	// Format is the container, used as the artifact file extension.
	Format string
}

// Image is a synthesized illustration.
type Image struct {
	Data   []byte
	Format string
}

// Narrator turns passage text into narration audio.
type Narrator interface {
	Narrate(ctx context.Context, text string) (*Audio, error)
}

// SceneDescriber summarizes the most visual moment of a passage.
type SceneDescriber interface {
	DescribeScene(ctx context.Context, text string) (string, error)
}

// Illustrator renders an image from a scene description.
type Illustrator interface {
	Illustrate(ctx context.Context, description string) (*Image, error)
}

// RateLimitError is returned when a provider answers 429.
type RateLimitError struct {
	Message    string
	RetryAfter time.Duration
	StatusCode int
}

func (e *RateLimitError) Error() string {
	if e.RetryAfter > 0 {
		return fmt.Sprintf("%s (retry after %s)", e.Message, e.RetryAfter)
	}
	return e.Message
}

// Is marks rate limiting as transient.
func (e *RateLimitError) Is(target error) bool {
	return target == services.ErrTransient
}

// RetryAfterDelay exposes the server-requested delay to the retry combinator.
func (e *RateLimitError) RetryAfterDelay() time.Duration {
	return e.RetryAfter
}

// IsRateLimitError unwraps a RateLimitError from err.
func IsRateLimitError(err error) (*RateLimitError, bool) {
	var rle *RateLimitError
	if errors.As(err, &rle) {
		return rle, true
	}
	return nil, false
}

// HTTPError is a non-2xx provider response other than 429.
type HTTPError struct {
	Provider   string
	StatusCode int
	Message    string
}

func (e *HTTPError) Error() string {
	if e.Message != "" {
		return fmt.Sprintf("%s error (status %d): %s", e.Provider, e.StatusCode, e.Message)
	}
	return fmt.Sprintf("%s error (status %d)", e.Provider, e.StatusCode)
}

// Is reports server-side failures as transient and everything else as an
// external tool failure.
func (e *HTTPError) Is(target error) bool {
	switch target {
	case services.ErrTransient:
		return e.StatusCode >= 500 || e.StatusCode == http.StatusRequestTimeout
	case services.ErrExternalTool:
		return true
	}
	return false
}

// IsTransient reports whether err is worth retrying: rate limits, 5xx,
// timeouts and dropped connections.
func IsTransient(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.Canceled) {
		return false
	}
	if errors.Is(err, services.ErrTransient) || errors.Is(err, services.ErrTimeout) {
		return true
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return true
	}
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "connection refused") ||
		strings.Contains(msg, "connection reset") ||
		strings.Contains(msg, "unexpected eof")
}

func parseRetryAfter(value string) time.Duration {
	value = strings.TrimSpace(value)
	if value == "" {
		return 0
	}
	if seconds, err := strconv.Atoi(value); err == nil && seconds > 0 {
		return time.Duration(seconds) * time.Second
	}
	if at, err := http.ParseTime(value); err == nil {
		if d := time.Until(at); d > 0 {
			return d
		}
	}
	return 0
}
