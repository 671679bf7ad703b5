package agent

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"wall/internal/relay"
	"wall/internal/relay/metrics"
	"wall/internal/relay/peers"
	"wall/internal/relay/resilience"
)

// fakeClient scripts one connect/listen cycle.
type fakeClient struct {
	mu         sync.Mutex
	connectErr error
	subs       []string
	published  []relay.Event
	httpURLs   []string

	// events delivered to the Listen callback before the loop "closes"
	deliver []relay.Inbound
}

func (c *fakeClient) Connect(context.Context, string) error { return c.connectErr }

func (c *fakeClient) Subscribe(_ context.Context, id string, _ relay.Filter) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.subs = append(c.subs, id)
	return nil
}

func (c *fakeClient) Unsubscribe(context.Context, string) error { return nil }

func (c *fakeClient) Publish(_ context.Context, event relay.Event) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.published = append(c.published, event)
	return nil
}

func (c *fakeClient) PublishHTTP(_ context.Context, event relay.Event, url string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.published = append(c.published, event)
	c.httpURLs = append(c.httpURLs, url)
	return nil
}

func (c *fakeClient) Listen(ctx context.Context, onEvent func(relay.Inbound)) error {
	for _, in := range c.deliver {
		onEvent(in)
	}
	<-ctx.Done()
	return ctx.Err()
}

func (c *fakeClient) PublicKey() string { return "relay-pubkey" }

func (c *fakeClient) Close() error { return nil }

// acceptAll approves every event; rejectAll drops every event.
type acceptAll struct{}

func (acceptAll) Verify(relay.Event) error { return nil }

type rejectAll struct{}

func (rejectAll) Verify(relay.Event) error { return errors.New("bad signature") }

// memStore records publishes.
type memStore struct {
	mu        sync.Mutex
	published map[string][]relay.Note
}

func newMemStore() *memStore {
	return &memStore{published: make(map[string][]relay.Note)}
}

func (s *memStore) Publish(_ context.Context, threadID string, note relay.Note) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.published[threadID] = append(s.published[threadID], note)
	return note.ID, nil
}

func (s *memStore) List(context.Context, string, time.Time, int) ([]relay.Note, error) {
	return nil, nil
}

func (s *memStore) threads() []string {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]string, 0, len(s.published))
	for thread := range s.published {
		out = append(out, thread)
	}
	return out
}

func newTestSupervisor(t *testing.T, client relay.Client, verifier relay.Verifier, store relay.Store) (*Supervisor, *peers.Directory) {
	t.Helper()

	logger := zap.NewNop()

	breaker, err := resilience.NewBreaker(
		resilience.BreakerConfig{FailureThreshold: 5, RecoveryTimeout: time.Minute},
		clock.NewMock(),
		logger,
	)
	require.NoError(t, err)
	retry, err := resilience.NewRetry(resilience.RetryConfig{
		MaxAttempts: 1,
		BaseDelay:   time.Millisecond,
		MaxDelay:    time.Millisecond,
	}, logger)
	require.NoError(t, err)
	invoker, err := resilience.NewInvoker(breaker, retry)
	require.NoError(t, err)

	directory, err := peers.New(logger)
	require.NoError(t, err)

	s, err := NewSupervisor(SupervisorConfig{
		URL:            "ws://upstream",
		ReconnectDelay: 10 * time.Millisecond,
		QueueSize:      16,
		PersistTimeout: time.Second,
	}, client, invoker, verifier, store, directory, metrics.NewRegistry(), logger)
	require.NoError(t, err)

	return s, directory
}

func signedNote(id, author, thread string) relay.Inbound {
	tags := [][]string{}
	if thread != "" {
		tags = append(tags, []string{"t", thread})
	}
	return relay.Inbound{
		Kind: relay.InboundPublicNote,
		Event: relay.Event{
			ID:      id,
			PubKey:  author,
			Kind:    relay.KindTextNote,
			Tags:    tags,
			Content: "hello",
		},
	}
}

func runSupervisor(t *testing.T, s *Supervisor) (drain func() []relay.Inbound) {
	t.Helper()

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = s.Run(ctx)
	}()

	return func() []relay.Inbound {
		var got []relay.Inbound
		timeout := time.After(time.Second)
		for {
			select {
			case in, ok := <-s.Events():
				if !ok {
					return got
				}
				got = append(got, in)
			case <-timeout:
				cancel()
				<-done
			}
		}
	}
}

func TestSupervisor_DefaultSubscriptionsAndFanout(t *testing.T) {
	client := &fakeClient{
		deliver: []relay.Inbound{
			signedNote("e1", "alice", ""),
			signedNote("e2", "bob", "town-square"),
		},
	}
	store := newMemStore()
	s, directory := newTestSupervisor(t, client, acceptAll{}, store)

	drain := runSupervisor(t, s)
	got := drain()

	require.Len(t, got, 2)
	assert.Equal(t, "e1", got[0].Event.ID)
	assert.Equal(t, "e2", got[1].Event.ID)

	client.mu.Lock()
	assert.Equal(t, []string{subGeneral, subDM}, client.subs)
	client.mu.Unlock()

	// notes land in the thread named by the `t` tag, defaulting to general
	assert.ElementsMatch(t, []string{"general", "town-square"}, store.threads())

	// authors were observed as peers, alongside the relay's own identity
	assert.ElementsMatch(t, []string{"alice", "bob", "relay-pubkey"}, directory.Known())
}

func TestSupervisor_DropsInvalidSignatures(t *testing.T) {
	client := &fakeClient{
		deliver: []relay.Inbound{signedNote("e1", "mallory", "")},
	}
	store := newMemStore()
	s, directory := newTestSupervisor(t, client, rejectAll{}, store)

	drain := runSupervisor(t, s)
	got := drain()

	assert.Empty(t, got, "unverified events never reach the hub")
	assert.Empty(t, store.threads(), "unverified events are never persisted")
	assert.Equal(t, []string{"relay-pubkey"}, directory.Known(), "no authors observed")
}

func TestSupervisor_StatusTransitions(t *testing.T) {
	t.Run("ConnectedWhileListening", func(t *testing.T) {
		client := &fakeClient{}
		s, _ := newTestSupervisor(t, client, acceptAll{}, newMemStore())

		ctx, cancel := context.WithCancel(context.Background())
		done := make(chan struct{})
		go func() {
			defer close(done)
			_ = s.Run(ctx)
		}()

		require.Eventually(t, func() bool {
			status, _ := s.Status()
			return status == StatusConnected
		}, time.Second, 5*time.Millisecond)

		cancel()
		<-done
	})

	t.Run("ErrorOnConnectFailure", func(t *testing.T) {
		client := &fakeClient{connectErr: errors.New("refused")}
		s, _ := newTestSupervisor(t, client, acceptAll{}, newMemStore())

		ctx, cancel := context.WithCancel(context.Background())
		done := make(chan struct{})
		go func() {
			defer close(done)
			_ = s.Run(ctx)
		}()

		require.Eventually(t, func() bool {
			status, lastErr := s.Status()
			return status == StatusError && lastErr != nil
		}, time.Second, 5*time.Millisecond)

		cancel()
		<-done
	})
}

func TestSupervisor_PublishEventPrefersHTTP(t *testing.T) {
	client := &fakeClient{}
	s, _ := newTestSupervisor(t, client, acceptAll{}, newMemStore())

	event := relay.Event{ID: "e1", Kind: relay.KindTextNote}
	require.NoError(t, s.PublishEvent(context.Background(), event))

	client.mu.Lock()
	assert.Len(t, client.published, 1)
	assert.Empty(t, client.httpURLs, "no publish URL configured, transport frame used")
	client.mu.Unlock()

	withHTTP, _ := newTestSupervisor(t, client, acceptAll{}, newMemStore())
	withHTTP.cfg.PublishURL = "http://ingest.local/publish"
	require.NoError(t, withHTTP.PublishEvent(context.Background(), event))

	client.mu.Lock()
	assert.Equal(t, []string{"http://ingest.local/publish"}, client.httpURLs)
	client.mu.Unlock()
}

func TestSupervisor_PublicKey(t *testing.T) {
	s, _ := newTestSupervisor(t, &fakeClient{}, acceptAll{}, newMemStore())
	assert.Equal(t, "relay-pubkey", s.PublicKey())
}

func TestSupervisor_NoteFromEventContent(t *testing.T) {
	// the persisted note carries the event content as a JSON string
	in := signedNote("e1", "alice", "")
	note := relay.NoteFromEvent(in.Event)

	assert.Equal(t, "e1", note.ID)
	assert.Equal(t, "alice", note.Author)

	var content string
	require.NoError(t, json.Unmarshal(note.Content, &content))
	assert.Equal(t, "hello", content)
}
