// Package recorder is the message-passing boundary between the live
// coordinator and the durable analytics store. Facts are enqueued and
// written by an independent worker; a failed write is logged and lost,
// never surfaced to a chat participant.
package recorder

import (
	"context"
	"log/slog"

	"github.com/straymeet/straymeet/internal/application/constant"
	"github.com/straymeet/straymeet/internal/domain/models"
)

// SessionStore persists closed session records.
type SessionStore interface {
	InsertSession(ctx context.Context, rec models.SessionRecord) error
}

// VisitorStore persists first-seen visitor rows, deduplicated by user id.
type VisitorStore interface {
	UpsertVisitor(ctx context.Context, rec models.VisitorRecord) error
}

type job func(ctx context.Context)

// Service buffers analytics facts and writes them behind the chat flow.
type Service struct {
	sessions SessionStore
	visitors VisitorStore

	jobs chan job
	done chan struct{}
}

// New returns a recorder backed by the given stores. bufferSize bounds
// the number of pending writes; once full, further facts are dropped
// with a log line rather than blocking the coordinator.
func New(sessions SessionStore, visitors VisitorStore, bufferSize int) *Service {
	return &Service{
		sessions: sessions,
		visitors: visitors,
		jobs:     make(chan job, bufferSize),
		done:     make(chan struct{}),
	}
}

// Run consumes the queue until the context is canceled, then drains
// whatever is already buffered.
func (s *Service) Run(ctx context.Context) {
	defer close(s.done)

	for {
		select {
		case <-ctx.Done():
			for {
				select {
				case j := <-s.jobs:
					j(context.Background())
				default:
					return
				}
			}
		case j := <-s.jobs:
			j(ctx)
		}
	}
}

// Wait blocks until Run has returned.
func (s *Service) Wait() {
	<-s.done
}

// RecordSession enqueues one closed session for durable storage.
func (s *Service) RecordSession(rec models.SessionRecord) {
	s.enqueue(func(ctx context.Context) {
		if err := s.sessions.InsertSession(ctx, rec); err != nil {
			slog.Error("insert session record",
				slog.String(constant.ConnectionID, rec.ConnectionID),
				slog.Any(constant.Error, err),
			)
		}
	})
}

// RecordVisitor enqueues a first-seen visitor row.
func (s *Service) RecordVisitor(rec models.VisitorRecord) {
	s.enqueue(func(ctx context.Context) {
		if err := s.visitors.UpsertVisitor(ctx, rec); err != nil {
			slog.Error("upsert visitor record",
				slog.String(constant.UserID, rec.UserID),
				slog.Any(constant.Error, err),
			)
		}
	})
}

func (s *Service) enqueue(j job) {
	select {
	case s.jobs <- j:
	default:
		slog.Warn("recorder queue full, dropping analytics fact")
	}
}
