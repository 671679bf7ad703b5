package agent

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"wall/internal/relay"
	"wall/internal/relay/ident"
)

// fakeDaemon is an in-process upstream relay endpoint. Received frames land
// on inbound; frames queued on outbound are written to the client.
type fakeDaemon struct {
	server   *httptest.Server
	inbound  chan []byte
	outbound chan []byte

	mu   sync.Mutex
	conn *websocket.Conn
}

func newFakeDaemon(t *testing.T) *fakeDaemon {
	t.Helper()

	d := &fakeDaemon{
		inbound:  make(chan []byte, 16),
		outbound: make(chan []byte, 16),
	}

	upgrader := websocket.Upgrader{}
	d.server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		d.mu.Lock()
		d.conn = conn
		d.mu.Unlock()

		go func() {
			for data := range d.outbound {
				if err := conn.WriteMessage(websocket.TextMessage, data); err != nil {
					return
				}
			}
			conn.WriteMessage(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
		}()

		for {
			_, data, err := conn.ReadMessage()
			if err != nil {
				return
			}
			d.inbound <- data
		}
	}))
	t.Cleanup(d.server.Close)

	return d
}

func (d *fakeDaemon) url() string {
	return "ws" + strings.TrimPrefix(d.server.URL, "http")
}

func (d *fakeDaemon) recv(t *testing.T) []byte {
	t.Helper()

	select {
	case data := <-d.inbound:
		return data
	case <-time.After(time.Second):
		t.Fatal("daemon received no frame")
		return nil
	}
}

func newTestAgent(t *testing.T) (*Agent, *ident.Identity) {
	t.Helper()

	identity, err := ident.Generate()
	require.NoError(t, err)
	cipher, err := ident.NewCipher(identity)
	require.NoError(t, err)

	a, err := New(Config{
		ConnectTimeout: time.Second,
		PublishTimeout: time.Second,
	}, identity, cipher, zap.NewNop())
	require.NoError(t, err)
	t.Cleanup(func() { a.Close() })

	return a, identity
}

func TestAgent_OperationsBeforeConnect(t *testing.T) {
	a, _ := newTestAgent(t)
	ctx := context.Background()

	err := a.Subscribe(ctx, "sub_general", relay.Filter{})
	assert.ErrorIs(t, err, relay.ErrNotConnected)

	err = a.Publish(ctx, relay.Event{})
	assert.ErrorIs(t, err, relay.ErrNotConnected)

	err = a.Listen(ctx, func(relay.Inbound) {})
	assert.ErrorIs(t, err, relay.ErrNotConnected)
}

func TestAgent_SubscribeSendsReq(t *testing.T) {
	d := newFakeDaemon(t)
	a, _ := newTestAgent(t)
	ctx := context.Background()

	require.NoError(t, a.Connect(ctx, d.url()))

	err := a.Subscribe(ctx, "sub_general", relay.Filter{Kinds: []int{relay.KindTextNote}})
	require.NoError(t, err)
	assert.JSONEq(t, `["REQ","sub_general",{"kinds":[1]}]`, string(d.recv(t)))

	err = a.Subscribe(ctx, "", relay.Filter{})
	var validationErr *relay.ValidationError
	assert.ErrorAs(t, err, &validationErr)

	require.NoError(t, a.Unsubscribe(ctx, "sub_general"))
	assert.JSONEq(t, `["CLOSE","sub_general"]`, string(d.recv(t)))
}

func TestAgent_PublishSendsEventFrame(t *testing.T) {
	d := newFakeDaemon(t)
	a, identity := newTestAgent(t)
	ctx := context.Background()

	require.NoError(t, a.Connect(ctx, d.url()))

	event := relay.Event{
		CreatedAt: time.Now().Unix(),
		Kind:      relay.KindTextNote,
		Content:   "hi",
	}
	require.NoError(t, identity.Sign(&event))
	require.NoError(t, a.Publish(ctx, event))

	var parts []json.RawMessage
	require.NoError(t, json.Unmarshal(d.recv(t), &parts))
	require.Len(t, parts, 2)

	var sent relay.Event
	require.NoError(t, json.Unmarshal(parts[1], &sent))
	assert.Equal(t, event.ID, sent.ID)
}

func TestAgent_ListenClassifiesEvents(t *testing.T) {
	d := newFakeDaemon(t)
	a, identity := newTestAgent(t)
	ctx := context.Background()

	require.NoError(t, a.Connect(ctx, d.url()))

	sender, err := ident.Generate()
	require.NoError(t, err)
	senderCipher, err := ident.NewCipher(sender)
	require.NoError(t, err)

	encrypted, err := senderCipher.Encrypt("psst", identity.PublicKey())
	require.NoError(t, err)

	frames := []string{
		`["EVENT","sub_general",{"id":"e1","kind":1,"content":"hello"}]`,
		`this is not even json`,
		`["EVENT","sub_dm",{"id":"e2","kind":4,"pubkey":"` + sender.PublicKey() + `","content":"` + encrypted + `"}]`,
		`["EVENT","sub_dm",{"id":"e3","kind":4,"pubkey":"` + sender.PublicKey() + `","content":"garbage"}]`,
		`["EOSE","sub_general"]`,
		`["EVENT","sub_general",{"id":"e4","kind":30023}]`,
		`["NOTICE","shutting down"]`,
	}
	for _, f := range frames {
		d.outbound <- []byte(f)
	}
	close(d.outbound)

	var got []relay.Inbound
	err = a.Listen(ctx, func(in relay.Inbound) {
		got = append(got, in)
	})
	require.NoError(t, err, "normal upstream close ends the loop cleanly")

	require.Len(t, got, 4)

	assert.Equal(t, relay.InboundPublicNote, got[0].Kind)
	assert.Equal(t, "e1", got[0].Event.ID)

	assert.Equal(t, relay.InboundDirectMessage, got[1].Kind)
	assert.Equal(t, "psst", got[1].Plaintext)

	assert.Equal(t, relay.InboundDecryptFailed, got[2].Kind)
	var decryptErr *relay.DecryptError
	assert.ErrorAs(t, got[2].Err, &decryptErr)

	assert.Equal(t, relay.InboundUnhandled, got[3].Kind)
	assert.Equal(t, 30023, got[3].RawKind)
}

func TestAgent_ListenStopsOnCancel(t *testing.T) {
	d := newFakeDaemon(t)
	a, _ := newTestAgent(t)

	ctx, cancel := context.WithCancel(context.Background())
	require.NoError(t, a.Connect(ctx, d.url()))

	done := make(chan error, 1)
	go func() {
		done <- a.Listen(ctx, func(relay.Inbound) {})
	}()

	cancel()

	select {
	case err := <-done:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(time.Second):
		t.Fatal("Listen did not return after cancellation")
	}
}

func TestAgent_ConnectRestoresSubscriptions(t *testing.T) {
	d := newFakeDaemon(t)
	a, _ := newTestAgent(t)
	ctx := context.Background()

	require.NoError(t, a.Connect(ctx, d.url()))
	require.NoError(t, a.Subscribe(ctx, "sub_general", relay.Filter{Kinds: []int{1}}))
	d.recv(t)

	// a second connect re-issues the stored subscription
	d2 := newFakeDaemon(t)
	require.NoError(t, a.Connect(ctx, d2.url()))
	assert.JSONEq(t, `["REQ","sub_general",{"kinds":[1]}]`, string(d2.recv(t)))
}

func TestAgent_PublishHTTP(t *testing.T) {
	a, identity := newTestAgent(t)
	ctx := context.Background()

	var received relay.Event
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, http.MethodPost, r.Method)
		require.Equal(t, "application/json", r.Header.Get("Content-Type"))
		require.NoError(t, json.NewDecoder(r.Body).Decode(&received))
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	event := relay.Event{Kind: relay.KindTextNote, Content: "hi"}
	require.NoError(t, identity.Sign(&event))

	require.NoError(t, a.PublishHTTP(ctx, event, srv.URL))
	assert.Equal(t, event.ID, received.ID)

	rejecting := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "nope", http.StatusBadRequest)
	}))
	defer rejecting.Close()

	assert.Error(t, a.PublishHTTP(ctx, event, rejecting.URL))
}

func TestAgent_CloseIsIdempotent(t *testing.T) {
	d := newFakeDaemon(t)
	a, _ := newTestAgent(t)

	require.NoError(t, a.Connect(context.Background(), d.url()))
	require.NoError(t, a.Close())
	require.NoError(t, a.Close())

	// a closed agent refuses new connections
	err := a.Connect(context.Background(), d.url())
	assert.ErrorIs(t, err, relay.ErrNotConnected)
}
