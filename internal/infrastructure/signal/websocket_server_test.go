package signal

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"callmesh/internal/core/domain"
	"callmesh/internal/core/services"
	"callmesh/internal/infrastructure/media"
	"callmesh/pkg/config"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

type recordingDispatcher struct {
	mu     sync.Mutex
	events []domain.Event
}

func (d *recordingDispatcher) Dispatch(ctx context.Context, ev domain.Event) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.events = append(d.events, ev)
	return nil
}

func (d *recordingDispatcher) count(kind domain.EventKind) int {
	d.mu.Lock()
	defer d.mu.Unlock()
	n := 0
	for _, ev := range d.events {
		if ev.Kind == kind {
			n++
		}
	}
	return n
}

func newTestServer(t *testing.T) (*WebSocketServer, services.AuthService) {
	t.Helper()
	auth := services.NewAuthService("test-secret", time.Minute)
	cfg := config.DefaultConfig()
	return NewWebSocketServer(cfg, auth, nil, nil, zaptest.NewLogger(t).Sugar()), auth
}

func TestAuthenticate(t *testing.T) {
	server, auth := newTestServer(t)

	token, err := auth.GenerateToken("p1", "Alice")
	require.NoError(t, err)

	t.Run("token in query", func(t *testing.T) {
		r := httptest.NewRequest("GET", "/ws?token="+token, nil)
		id, err := server.authenticate(r)
		require.NoError(t, err)
		assert.Equal(t, domain.ParticipantID("p1"), id)
	})

	t.Run("token in header", func(t *testing.T) {
		r := httptest.NewRequest("GET", "/ws", nil)
		r.Header.Set("Authorization", "Bearer "+token)
		id, err := server.authenticate(r)
		require.NoError(t, err)
		assert.Equal(t, domain.ParticipantID("p1"), id)
	})

	t.Run("missing token", func(t *testing.T) {
		r := httptest.NewRequest("GET", "/ws", nil)
		_, err := server.authenticate(r)
		assert.Error(t, err)
	})

	t.Run("garbage token", func(t *testing.T) {
		r := httptest.NewRequest("GET", "/ws?token=not-a-jwt", nil)
		_, err := server.authenticate(r)
		assert.Error(t, err)
	})
}

func TestValidateSDP(t *testing.T) {
	server, _ := newTestServer(t)

	valid := "v=0\r\no=- 0 0 IN IP4 127.0.0.1\r\ns=-\r\nt=0 0\r\n"
	assert.NoError(t, server.validateSDP(valid))

	assert.Error(t, server.validateSDP(""))
	assert.Error(t, server.validateSDP("o=- 0 0\r\ns=-\r\nt=0 0\r\n"))
	assert.Error(t, server.validateSDP("v=0\r\no=- 0 0\r\n")) // missing s= and t=
}

func TestReconnect_StaleHandlerLeavesNewConnectionAlone(t *testing.T) {
	auth := services.NewAuthService("test-secret", time.Minute)
	dispatcher := &recordingDispatcher{}
	cfg := config.DefaultConfig()

	sessions, err := media.NewSessionManager(cfg, dispatcher, zaptest.NewLogger(t).Sugar())
	require.NoError(t, err)
	server := NewWebSocketServer(cfg, auth, sessions, dispatcher, zaptest.NewLogger(t).Sugar())

	ts := httptest.NewServer(http.HandlerFunc(server.HandleWebSocket))
	defer ts.Close()

	token, err := auth.GenerateToken("p1", "")
	require.NoError(t, err)
	url := "ws" + strings.TrimPrefix(ts.URL, "http") + "/?token=" + token

	first, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	defer first.Close()

	require.Eventually(t, func() bool {
		return server.IsConnected("p1")
	}, time.Second, 10*time.Millisecond)

	second, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)

	// The server closes the replaced connection; reading it surfaces that.
	first.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, _, err = first.ReadMessage()
	require.Error(t, err)

	// Give the stale handler's cleanup time to run, then check it did not
	// tear down the rejoined participant.
	time.Sleep(100 * time.Millisecond)
	assert.True(t, server.IsConnected("p1"))
	assert.Zero(t, dispatcher.count(domain.EventParticipantRemoved))

	// A real disconnect still tears down exactly once.
	second.Close()
	require.Eventually(t, func() bool {
		return dispatcher.count(domain.EventParticipantRemoved) == 1 && !server.IsConnected("p1")
	}, time.Second, 10*time.Millisecond)
}

func TestHandleMessage_RequiresType(t *testing.T) {
	server, _ := newTestServer(t)

	err := server.handleMessage(context.Background(), "p1", SignalMessage{})
	assert.Error(t, err)

	err = server.handleMessage(context.Background(), "p1", SignalMessage{Type: "bogus"})
	assert.Error(t, err)
}
