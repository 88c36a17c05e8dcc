package commandbus_test

import (
	"context"
	"sync"

	"github.com/illmade-knight/go-krc20bot/pkg/commandbus"
)

// mockConsumer is an in-memory commandbus.Consumer.
type mockConsumer struct {
	ch       chan commandbus.Delivery
	done     chan struct{}
	stopOnce sync.Once
	startErr error
}

func newMockConsumer(buffer int) *mockConsumer {
	return &mockConsumer{
		ch:   make(chan commandbus.Delivery, buffer),
		done: make(chan struct{}),
	}
}

func (m *mockConsumer) Commands() <-chan commandbus.Delivery { return m.ch }
func (m *mockConsumer) Start(_ context.Context) error       { return m.startErr }
func (m *mockConsumer) Done() <-chan struct{}               { return m.done }
func (m *mockConsumer) Stop(_ context.Context) error {
	m.stopOnce.Do(func() {
		close(m.ch)
		close(m.done)
	})
	return nil
}

type published struct {
	payload []byte
	attrs   map[string]string
}

// mockPublisher records published replies.
type mockPublisher struct {
	mu         sync.Mutex
	msgs       []published
	publishErr error
	stopped    bool
}

func (m *mockPublisher) Publish(_ context.Context, payload []byte, attrs map[string]string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.publishErr != nil {
		return m.publishErr
	}
	m.msgs = append(m.msgs, published{payload: payload, attrs: attrs})
	return nil
}

func (m *mockPublisher) Stop(_ context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.stopped = true
	return nil
}

func (m *mockPublisher) snapshot() []published {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]published(nil), m.msgs...)
}
