package recorder

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/straymeet/straymeet/internal/domain/models"
)

type memStore struct {
	mu       sync.Mutex
	sessions []models.SessionRecord
	visitors []models.VisitorRecord
	fail     bool
}

func (m *memStore) InsertSession(_ context.Context, rec models.SessionRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.fail {
		return errors.New("store down")
	}
	m.sessions = append(m.sessions, rec)
	return nil
}

func (m *memStore) UpsertVisitor(_ context.Context, rec models.VisitorRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.fail {
		return errors.New("store down")
	}
	m.visitors = append(m.visitors, rec)
	return nil
}

func (m *memStore) counts() (int, int) {
	m.mu.Lock()
	defer m.mu.Unlock()

	return len(m.sessions), len(m.visitors)
}

func TestService_WritesBehind(t *testing.T) {
	store := &memStore{}
	svc := New(store, store, 16)

	ctx, cancel := context.WithCancel(context.Background())
	go svc.Run(ctx)

	svc.RecordSession(models.SessionRecord{Kind: models.SessionRandom, ConnectionID: "c1"})
	svc.RecordVisitor(models.VisitorRecord{UserID: "u1"})

	require.Eventually(t, func() bool {
		s, v := store.counts()
		return s == 1 && v == 1
	}, time.Second, 5*time.Millisecond)

	cancel()
	svc.Wait()
}

func TestService_DrainsOnShutdown(t *testing.T) {
	store := &memStore{}
	svc := New(store, store, 16)

	for i := 0; i < 5; i++ {
		svc.RecordSession(models.SessionRecord{ConnectionID: "c"})
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	svc.Run(ctx)
	svc.Wait()

	s, _ := store.counts()
	assert.Equal(t, 5, s, "buffered facts are flushed before exit")
}

func TestService_FailuresAreSwallowed(t *testing.T) {
	store := &memStore{fail: true}
	svc := New(store, store, 16)

	// Must not panic or block the caller.
	svc.RecordSession(models.SessionRecord{ConnectionID: "c1"})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	svc.Run(ctx)
	svc.Wait()
}

func TestService_DropsWhenFull(t *testing.T) {
	store := &memStore{}
	svc := New(store, store, 1)

	// No worker running; the second enqueue overflows and is dropped.
	svc.RecordSession(models.SessionRecord{ConnectionID: "c1"})
	svc.RecordSession(models.SessionRecord{ConnectionID: "c2"})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	svc.Run(ctx)
	svc.Wait()

	s, _ := store.counts()
	assert.Equal(t, 1, s)
}
