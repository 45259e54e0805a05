package ollama

import (
	"errors"
	"fmt"
	"net"
	"net/http"
	"strings"

	"github.com/kirillkom/navi-mailroom/internal/infrastructure/resilience"
)

// StatusError is a non-2xx answer from the Ollama HTTP API.
type StatusError struct {
	Path       string
	StatusCode int
	Body       string
}

func (e *StatusError) Error() string {
	msg := fmt.Sprintf("ollama %s: HTTP %d", e.Path, e.StatusCode)
	if body := strings.TrimSpace(e.Body); body != "" {
		msg += ": " + body
	}
	return msg
}

// classify: 408/429/5xx and network errors are worth another attempt; any
// other HTTP status means the request itself is wrong for this model.
func classify(err error) resilience.Verdict {
	if v, ok := resilience.Settle(err); ok {
		return v
	}
	var statusErr *StatusError
	if errors.As(err, &statusErr) {
		switch statusErr.StatusCode {
		case http.StatusRequestTimeout, http.StatusTooManyRequests:
			return resilience.Transient
		}
		if statusErr.StatusCode >= 500 {
			return resilience.Transient
		}
		return resilience.Rejected
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		return resilience.Transient
	}
	return resilience.Broken
}
