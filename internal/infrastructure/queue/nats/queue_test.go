package nats

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/nats-io/nats.go"

	"github.com/kirillkom/navi-mailroom/internal/core/domain"
	"github.com/kirillkom/navi-mailroom/internal/infrastructure/resilience"
)

func TestDecodeProcessRequest(t *testing.T) {
	req, err := DecodeProcessRequest([]byte(`{"mode":"kb","requested_by":"cron"}`))
	if err != nil {
		t.Fatalf("DecodeProcessRequest() error = %v", err)
	}
	if req.Mode != domain.ModeKB || req.RequestedBy != "cron" {
		t.Fatalf("unexpected request %+v", req)
	}

	bare, err := DecodeProcessRequest([]byte(" \n"))
	if err != nil || bare.Mode != domain.ModeDefault {
		t.Fatalf("empty payload must mean default mode, got %+v err=%v", bare, err)
	}

	if _, err := DecodeProcessRequest([]byte("TURBO")); !domain.IsKind(err, domain.ErrInvalidInput) {
		t.Fatalf("unknown mode must be invalid input, got %v", err)
	}
}

func TestClassifyPublishErrors(t *testing.T) {
	cases := []struct {
		err  error
		want resilience.Verdict
	}{
		{fmt.Errorf("nats publish: %w", nats.ErrTimeout), resilience.Transient},
		{nats.ErrNoServers, resilience.Transient},
		{context.Canceled, resilience.Rejected},
		{nats.ErrMaxPayload, resilience.Rejected},
		{errors.New("permissions violation"), resilience.Broken},
	}
	for _, tc := range cases {
		if got := classify(tc.err); got != tc.want {
			t.Fatalf("classify(%v) = %+v, want %+v", tc.err, got, tc.want)
		}
	}
	if err := resilience.AsTemporary(publishOp, nats.ErrNoServers, classify); !domain.IsKind(err, domain.ErrTemporary) {
		t.Fatalf("no servers must be temporary, got %v", err)
	}
}
