package remote

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"grass_farm/internal/shared/types"
	"grass_farm/proxypool/model"
)

func newTestClient(apiURL, wsURL string) *HTTPClient {
	cfg := types.RemoteConf{APIURL: apiURL, WSURL: wsURL, UserAgent: "test-agent"}
	return newHTTPClient(cfg, &http.Client{Timeout: 5 * time.Second}, &websocket.Dialer{HandshakeTimeout: 5 * time.Second})
}

func TestStatusError(t *testing.T) {
	cases := map[int]error{
		200: nil,
		204: nil,
		401: ErrLogin,
		403: ErrProxyForbidden,
		407: ErrProxy,
		429: ErrProxyBlocked,
		502: ErrSiteDown,
		503: ErrSiteDown,
		522: ErrSiteDown,
	}
	for code, want := range cases {
		got := statusError(code)
		if want == nil {
			assert.NoError(t, got, code)
			continue
		}
		assert.True(t, errors.Is(got, want), "status %d: got %v", code, got)
	}

	other := statusError(418)
	require.Error(t, other)
	for _, s := range []error{ErrLogin, ErrProxy, ErrProxyBlocked, ErrProxyForbidden, ErrSiteDown, ErrWebsocket} {
		assert.False(t, errors.Is(other, s))
	}
}

func TestLogin(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/login", r.URL.Path)
		assert.Equal(t, "test-agent", r.Header.Get("User-Agent"))
		var req loginRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		switch req.Password {
		case "good":
			w.Write([]byte(`{"result":{"data":{"userId":"u-1","accessToken":"tok"}}}`))
		case "bad":
			w.WriteHeader(http.StatusBadRequest)
		case "down":
			w.WriteHeader(http.StatusServiceUnavailable)
		default:
			w.WriteHeader(http.StatusTooManyRequests)
		}
	}))
	defer srv.Close()

	c := newTestClient(srv.URL, "")
	ctx := context.Background()

	id, err := c.Login(ctx, "a@example.com", "good")
	require.NoError(t, err)
	assert.Equal(t, Identity{UserID: "u-1", Token: "tok"}, id)

	_, err = c.Login(ctx, "a@example.com", "bad")
	assert.True(t, errors.Is(err, ErrLogin), "%v", err)

	_, err = c.Login(ctx, "a@example.com", "down")
	assert.True(t, errors.Is(err, ErrSiteDown), "%v", err)

	_, err = c.Login(ctx, "a@example.com", "other")
	assert.True(t, errors.Is(err, ErrProxyBlocked), "%v", err)
}

func TestClaimRewards_SendsToken(t *testing.T) {
	var auth atomic.Value
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		auth.Store(r.Header.Get("Authorization"))
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	c := newTestClient(srv.URL, "")
	require.NoError(t, c.ClaimRewards(context.Background(), Identity{Token: "tok"}))
	assert.Equal(t, "tok", auth.Load())
}

func TestDial_RoutesThroughHTTPProxy(t *testing.T) {
	// 对 http:// 目标，Transport 会把绝对 URI 请求发给代理，这里直接由"代理"应答。
	var sawAbsolute atomic.Bool
	proxySrv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.IsAbs() && r.URL.Host == "api.invalid" {
			sawAbsolute.Store(true)
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer proxySrv.Close()

	p, err := model.ParseProxy(proxySrv.URL)
	require.NoError(t, err)

	d := NewDialer(types.RemoteConf{APIURL: "http://api.invalid", UserAgent: "ua"}, 5*time.Second)
	c, err := d.Dial(context.Background(), p)
	require.NoError(t, err)
	defer c.Close()

	require.NoError(t, c.CheckStatus(context.Background()))
	assert.True(t, sawAbsolute.Load())
}

func TestCheckStatus_DeadProxyIsProxyError(t *testing.T) {
	p, err := model.ParseProxy("http://127.0.0.1:1")
	require.NoError(t, err)

	d := NewDialer(types.RemoteConf{APIURL: "http://api.invalid"}, 2*time.Second)
	c, err := d.Dial(context.Background(), p)
	require.NoError(t, err)
	defer c.Close()

	err = c.CheckStatus(context.Background())
	assert.True(t, errors.Is(err, ErrProxy), "%v", err)
}

func newHeartbeatServer(t *testing.T, pings *atomic.Int32, authed chan<- wsMessage) *httptest.Server {
	upgrader := websocket.Upgrader{}
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()

		if err := conn.WriteJSON(wsMessage{ID: "auth-1", Action: "AUTH"}); err != nil {
			return
		}
		var reply wsMessage
		if err := conn.ReadJSON(&reply); err != nil {
			return
		}
		authed <- reply

		for {
			var msg wsMessage
			if err := conn.ReadJSON(&msg); err != nil {
				return
			}
			if msg.Action == "PING" {
				pings.Add(1)
				conn.WriteJSON(wsMessage{ID: msg.ID, Action: "PONG"})
			}
		}
	}))
}

func TestHeartbeat(t *testing.T) {
	var pings atomic.Int32
	authed := make(chan wsMessage, 1)
	srv := newHeartbeatServer(t, &pings, authed)
	defer srv.Close()

	c := newTestClient("", "ws"+strings.TrimPrefix(srv.URL, "http"))
	defer c.Close()

	ctx := context.Background()
	id := Identity{UserID: "u-1", Token: "tok"}
	require.NoError(t, c.Heartbeat(ctx, id, "device-1"))
	require.NoError(t, c.Heartbeat(ctx, id, "device-1"))

	reply := <-authed
	assert.Equal(t, "auth-1", reply.ID)
	assert.Equal(t, "AUTH", reply.OriginAction)
	assert.Equal(t, "device-1", reply.Result["browser_id"])
	assert.Equal(t, "u-1", reply.Result["user_id"])

	require.Eventually(t, func() bool { return pings.Load() == 2 }, time.Second, 10*time.Millisecond)
}

func TestHeartbeat_DialFailureIsWebsocketError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))
	defer srv.Close()

	c := newTestClient("", "ws"+strings.TrimPrefix(srv.URL, "http"))
	err := c.Heartbeat(context.Background(), Identity{}, "d")
	assert.True(t, errors.Is(err, ErrWebsocket), "%v", err)
}

func TestHeartbeat_UnmappedHandshakeStatusIsWebsocketError(t *testing.T) {
	for _, code := range []int{http.StatusBadRequest, http.StatusUnauthorized, http.StatusInternalServerError} {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(code)
		}))

		c := newTestClient("", "ws"+strings.TrimPrefix(srv.URL, "http"))
		err := c.Heartbeat(context.Background(), Identity{}, "d")
		assert.True(t, errors.Is(err, ErrWebsocket), "status %d: %v", code, err)
		assert.False(t, errors.Is(err, ErrLogin), "status %d", code)
		srv.Close()
	}
}

func TestHeartbeat_SiteDownHandshake(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	c := newTestClient("", "ws"+strings.TrimPrefix(srv.URL, "http"))
	err := c.Heartbeat(context.Background(), Identity{}, "d")
	assert.True(t, errors.Is(err, ErrSiteDown), "%v", err)
}

func TestCheckStatus(t *testing.T) {
	tests := []struct {
		code int
		want error
	}{
		{http.StatusOK, nil},
		{http.StatusNotFound, nil},
		{http.StatusUnauthorized, nil},
		{http.StatusMethodNotAllowed, nil},
		{http.StatusServiceUnavailable, ErrSiteDown},
		{http.StatusTooManyRequests, ErrProxyBlocked},
		{http.StatusForbidden, ErrProxyForbidden},
	}
	for _, tt := range tests {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(tt.code)
		}))
		err := newTestClient(srv.URL, "").CheckStatus(context.Background())
		if tt.want == nil {
			assert.NoError(t, err, "status %d", tt.code)
		} else {
			assert.True(t, errors.Is(err, tt.want), "status %d: %v", tt.code, err)
		}
		srv.Close()
	}
}

func TestHeartbeat_ForbiddenHandshakeIsProxyForbidden(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusForbidden)
	}))
	defer srv.Close()

	c := newTestClient("", "ws"+strings.TrimPrefix(srv.URL, "http"))
	err := c.Heartbeat(context.Background(), Identity{}, "d")
	assert.True(t, errors.Is(err, ErrProxyForbidden), "%v", err)
}
