package brokerage

import (
	"context"
	"sync"
	"testing"
	"time"

	fsm "github.com/goliatone/go-fsm"
	"github.com/goliatone/go-fsm/brokerage/notify"
	"github.com/goliatone/go-fsm/store"
	"github.com/stretchr/testify/require"
)

type testClock struct {
	now time.Time
}

func (c *testClock) Now() time.Time { return c.now }

func (c *testClock) Advance(days int) { c.now = c.now.AddDate(0, 0, days) }

func newTestService(t *testing.T, mutate ...func(*Settings)) (*Service, *testClock) {
	t.Helper()
	cfg := DefaultSettings()
	for _, fn := range mutate {
		fn(&cfg)
	}
	clk := &testClock{now: time.Date(2024, 3, 1, 9, 0, 0, 0, time.UTC)}
	s, err := NewService(cfg, store.NewInMemoryStateStore(),
		WithLogger(fsm.NopLogger{}),
		WithClock(clk.Now),
	)
	require.NoError(t, err)
	return s, clk
}

// signedMandate returns a mandate in state created.
func signedMandate(t *testing.T, s *Service, id string) *Mandate {
	t.Helper()
	m := s.NewMandate(id, "Jane Doe", "jane@example.com")
	m.AttachDocument(Document{Type: DocumentSignature, Name: "mandate.pdf"})
	_, err := s.Mandates.Apply(context.Background(), m, "finish")
	require.NoError(t, err)
	require.Equal(t, MandateCreated, m.State())
	return m
}

type fakeSender struct {
	mu   sync.Mutex
	sent []notify.Message
	err  error
}

func (f *fakeSender) Send(_ context.Context, msg notify.Message) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return f.err
	}
	f.sent = append(f.sent, msg)
	return nil
}

func (f *fakeSender) messages() []notify.Message {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]notify.Message(nil), f.sent...)
}
