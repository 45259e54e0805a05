package nats

import (
	"errors"

	"github.com/nats-io/nats.go"

	"github.com/kirillkom/navi-mailroom/internal/infrastructure/resilience"
)

const publishOp = "nats.publish"

// classify treats connectivity loss as transient; anything else the server
// rejected (bad subject, payload too large) is final.
func classify(err error) resilience.Verdict {
	if v, ok := resilience.Settle(err); ok {
		return v
	}
	for _, transient := range []error{nats.ErrNoServers, nats.ErrTimeout, nats.ErrConnectionClosed, nats.ErrDisconnected, nats.ErrConnectionReconnecting} {
		if errors.Is(err, transient) {
			return resilience.Transient
		}
	}
	if errors.Is(err, nats.ErrMaxPayload) || errors.Is(err, nats.ErrBadSubject) {
		return resilience.Rejected
	}
	return resilience.Broken
}
