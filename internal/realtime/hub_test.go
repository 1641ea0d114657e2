package realtime

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mbd888/fraudscore/internal/scoring"
)

func quietHub() *Hub {
	return NewHub(slog.New(slog.NewTextHandler(io.Discard, nil)))
}

func verdict(id, user string, action scoring.Action, score float64) *scoring.Verdict {
	return &scoring.Verdict{TransactionID: id, UserID: user, MerchantID: "m1", Action: action, FraudScore: score}
}

// ---------------------------------------------------------------------------
// Subscription
// ---------------------------------------------------------------------------

func TestSubscription_Matches(t *testing.T) {
	block := verdict("t1", "u1", scoring.ActionBlock, 90)
	allow := verdict("t2", "u2", scoring.ActionAllow, 5)

	tests := []struct {
		name  string
		sub   Subscription
		block bool
		allow bool
	}{
		{"empty matches all", Subscription{}, true, true},
		{"action filter", Subscription{Actions: []scoring.Action{scoring.ActionBlock, scoring.ActionReview}}, true, false},
		{"user filter", Subscription{UserIDs: []string{"u2"}}, false, true},
		{"merchant filter", Subscription{MerchantIDs: []string{"m9"}}, false, false},
		{"min score", Subscription{MinScore: 50}, true, false},
		{"min score inclusive", Subscription{MinScore: 90}, true, false},
		{"combined", Subscription{Actions: []scoring.Action{scoring.ActionBlock}, UserIDs: []string{"u2"}}, false, false},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.block, tc.sub.Matches(block))
			assert.Equal(t, tc.allow, tc.sub.Matches(allow))
		})
	}
}

func TestSubscriptionFromQuery(t *testing.T) {
	r := httptest.NewRequest(http.MethodGet, "/v1/stream?action=BLOCK&action=REVIEW&userId=u1&minScore=42.5", nil)
	sub := subscriptionFromQuery(r)
	assert.Equal(t, []scoring.Action{scoring.ActionBlock, scoring.ActionReview}, sub.Actions)
	assert.Equal(t, []string{"u1"}, sub.UserIDs)
	assert.Empty(t, sub.MerchantIDs)
	assert.Equal(t, 42.5, sub.MinScore)

	r = httptest.NewRequest(http.MethodGet, "/v1/stream?minScore=high", nil)
	assert.Zero(t, subscriptionFromQuery(r).MinScore)
}

// ---------------------------------------------------------------------------
// Publish
// ---------------------------------------------------------------------------

func TestPublish_DropsWhenQueueFull(t *testing.T) {
	h := quietHub()
	for i := 0; i < cap(h.broadcast)+3; i++ {
		h.Publish(context.Background(), verdict("t", "u1", scoring.ActionAllow, 0))
	}
	assert.Equal(t, int64(3), h.Stats().DroppedEvents)
}

// ---------------------------------------------------------------------------
// End to end over a real socket
// ---------------------------------------------------------------------------

func startHub(t *testing.T) (*Hub, *httptest.Server, context.CancelFunc) {
	t.Helper()
	gin.SetMode(gin.TestMode)

	h := quietHub()
	ctx, cancel := context.WithCancel(context.Background())
	go h.Run(ctx)

	r := gin.New()
	h.RegisterRoutes(r.Group("/v1"))
	srv := httptest.NewServer(r)
	t.Cleanup(func() {
		cancel()
		srv.Close()
	})
	return h, srv, cancel
}

func dial(t *testing.T, srv *httptest.Server, query string) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/v1/stream" + query
	conn, resp, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	if resp != nil && resp.Body != nil {
		_ = resp.Body.Close()
	}
	t.Cleanup(func() { _ = conn.Close() })
	return conn
}

func waitForClients(t *testing.T, h *Hub, n int) {
	t.Helper()
	require.Eventually(t, func() bool { return h.Stats().ConnectedClients == n },
		2*time.Second, 10*time.Millisecond)
}

func readEvent(t *testing.T, conn *websocket.Conn) Event {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	_, msg, err := conn.ReadMessage()
	require.NoError(t, err)
	var ev Event
	require.NoError(t, json.Unmarshal(msg, &ev))
	return ev
}

func TestStream_FiltersByQuery(t *testing.T) {
	h, srv, _ := startHub(t)
	conn := dial(t, srv, "?action=BLOCK")
	waitForClients(t, h, 1)

	h.Publish(context.Background(), verdict("t1", "u1", scoring.ActionAllow, 1))
	h.Publish(context.Background(), verdict("t2", "u1", scoring.ActionBlock, 88))

	ev := readEvent(t, conn)
	assert.Equal(t, EventVerdict, ev.Type)
	require.NotNil(t, ev.Verdict)
	assert.Equal(t, "t2", ev.Verdict.TransactionID)
}

func TestStream_SubscriptionUpdate(t *testing.T) {
	h, srv, _ := startHub(t)
	conn := dial(t, srv, "")
	waitForClients(t, h, 1)

	require.NoError(t, conn.WriteJSON(Subscription{UserIDs: []string{"u7"}}))
	require.Eventually(t, func() bool {
		h.mu.RLock()
		defer h.mu.RUnlock()
		for c := range h.clients {
			return len(c.subscription().UserIDs) == 1
		}
		return false
	}, 2*time.Second, 10*time.Millisecond)

	h.Publish(context.Background(), verdict("skip", "u1", scoring.ActionAllow, 0))
	h.Publish(context.Background(), verdict("want", "u7", scoring.ActionAllow, 0))

	ev := readEvent(t, conn)
	assert.Equal(t, "want", ev.Verdict.TransactionID)
}

func TestStream_ShutdownClosesClients(t *testing.T) {
	h, srv, cancel := startHub(t)
	conn := dial(t, srv, "")
	waitForClients(t, h, 1)

	cancel()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	_, _, err := conn.ReadMessage()
	assert.Error(t, err)

	<-h.done
	resp, err := http.Get(srv.URL + "/v1/stream")
	require.NoError(t, err)
	_ = resp.Body.Close()
	assert.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)
}

func TestStats_Endpoint(t *testing.T) {
	h, srv, _ := startHub(t)
	dial(t, srv, "")
	waitForClients(t, h, 1)

	resp, err := http.Get(srv.URL + "/v1/stream/stats")
	require.NoError(t, err)
	defer func() { _ = resp.Body.Close() }()

	var stats Stats
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&stats))
	assert.Equal(t, 1, stats.ConnectedClients)
	assert.Equal(t, int64(1), stats.TotalClients)
	assert.Equal(t, int64(1), stats.PeakClients)
}
