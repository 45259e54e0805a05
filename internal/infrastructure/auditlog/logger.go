package auditlog

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/kirillkom/navi-mailroom/internal/core/domain"
	"github.com/kirillkom/navi-mailroom/internal/infrastructure/storage/localfs"
)

const DefaultTimeout = 5 * time.Second

type Options struct {
	Timeout time.Duration
	Now     func() time.Time
	// Write replaces the atomic JSON writer; used to inject slow or failing disks.
	Write func(path string, v any) error
}

// Logger persists one JSON record per batch under logs/batches/<day>/.
type Logger struct {
	storage *localfs.Storage
	timeout time.Duration
	now     func() time.Time
	write   func(path string, v any) error
}

type EmergencyRecord struct {
	Error     string            `json:"error"`
	WrittenAt time.Time         `json:"written_at"`
	Batch     domain.BatchStats `json:"batch"`
}

func New(storage *localfs.Storage, options Options) *Logger {
	l := &Logger{
		storage: storage,
		timeout: options.Timeout,
		now:     options.Now,
		write:   options.Write,
	}
	if l.timeout <= 0 {
		l.timeout = DefaultTimeout
	}
	if l.now == nil {
		l.now = time.Now
	}
	if l.write == nil {
		l.write = localfs.WriteJSONAtomic
	}
	return l
}

var stampReplacer = strings.NewReplacer(":", "-", ".", "-")

func stamp(ts time.Time) string {
	return stampReplacer.Replace(ts.UTC().Format("2006-01-02T15:04:05.000Z"))
}

// LogBatch races the write against the configured timeout.
func (l *Logger) LogBatch(ctx context.Context, stats domain.BatchStats) (string, error) {
	ts := l.now().UTC()
	path := l.storage.Path("logs", "batches", ts.Format("2006-01-02"), "batch-"+stamp(ts)+".json")

	ctx, cancel := context.WithTimeout(ctx, l.timeout)
	defer cancel()

	done := make(chan error, 1)
	go func() {
		done <- l.write(path, stats)
	}()

	select {
	case err := <-done:
		if err != nil {
			return "", fmt.Errorf("write batch log: %w", err)
		}
		return path, nil
	case <-ctx.Done():
		return "", domain.WrapError(domain.ErrTemporary, "write batch log",
			fmt.Errorf("timed out after %s: %w", l.timeout, ctx.Err()))
	}
}

// WriteEmergency records the batch payload and the failure that kept it
// out of the regular log.
func (l *Logger) WriteEmergency(_ context.Context, stats domain.BatchStats, cause error) (string, error) {
	ts := l.now().UTC()
	path := l.storage.Path("logs", "audit", "emergency-batch-"+stamp(ts)+".json")
	msg := "unknown batch log failure"
	if cause != nil {
		msg = cause.Error()
	}
	record := EmergencyRecord{Error: msg, WrittenAt: ts, Batch: stats}
	if err := localfs.WriteJSONAtomic(path, record); err != nil {
		return "", fmt.Errorf("write emergency log: %w", err)
	}
	return path, nil
}
