package remote

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"grass_farm/internal/shared/proxydial"
	"grass_farm/internal/shared/types"
	"grass_farm/proxypool/model"
)

const (
	wsHandshakeTimeout = 15 * time.Second
	wsReadTimeout      = 30 * time.Second
	clientVersion      = "4.26.2"
)

// HTTPDialer 创建经由代理访问远端服务的生产 Client：
// 登录和领取奖励走 HTTP JSON，心跳走 websocket。
type HTTPDialer struct {
	cfg     types.RemoteConf
	timeout time.Duration
}

// NewDialer returns a Dialer for the remote service described by cfg.
func NewDialer(cfg types.RemoteConf, timeout time.Duration) *HTTPDialer {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &HTTPDialer{cfg: cfg, timeout: timeout}
}

// Dial 只构造客户端，不发起任何网络连接。
func (d *HTTPDialer) Dial(_ context.Context, p *model.Proxy) (Client, error) {
	tr, err := proxydial.Transport(p, d.timeout)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrProxy, err)
	}

	wsDialer := &websocket.Dialer{HandshakeTimeout: wsHandshakeTimeout}
	if p.Scheme == "socks5" {
		cd, err := proxydial.ContextDialer(p, d.timeout)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrProxy, err)
		}
		wsDialer.NetDialContext = cd.DialContext
	} else {
		wsDialer.Proxy = http.ProxyURL(p.URL())
	}

	return newHTTPClient(d.cfg, &http.Client{Transport: tr, Timeout: d.timeout}, wsDialer), nil
}

// HTTPClient is the production Client.
type HTTPClient struct {
	apiURL    string
	wsURL     string
	userAgent string
	http      *http.Client
	wsDialer  *websocket.Dialer

	mu sync.Mutex
	ws *websocket.Conn
}

func newHTTPClient(cfg types.RemoteConf, hc *http.Client, wsd *websocket.Dialer) *HTTPClient {
	return &HTTPClient{
		apiURL:    strings.TrimRight(cfg.APIURL, "/"),
		wsURL:     cfg.WSURL,
		userAgent: cfg.UserAgent,
		http:      hc,
		wsDialer:  wsd,
	}
}

type loginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

type loginResponse struct {
	Result struct {
		Data struct {
			UserID      string `json:"userId"`
			AccessToken string `json:"accessToken"`
		} `json:"data"`
	} `json:"result"`
}

// CheckStatus 探测远端服务是否可用。只有代理故障和站点宕机算作失败，
// 其它状态码（例如根路径的 404）说明服务在线。
func (c *HTTPClient) CheckStatus(ctx context.Context) error {
	_, err := c.do(ctx, http.MethodGet, "/", "", nil, nil)
	if err == nil || ctx.Err() != nil || isProxyOrSiteError(err) {
		return err
	}
	return nil
}

// Login 使用邮箱和密码登录。
func (c *HTTPClient) Login(ctx context.Context, email, password string) (Identity, error) {
	var out loginResponse
	code, err := c.do(ctx, http.MethodPost, "/login", "", loginRequest{Username: email, Password: password}, &out)
	if err != nil {
		if code == http.StatusBadRequest {
			return Identity{}, fmt.Errorf("login %s: %w", email, ErrLogin)
		}
		return Identity{}, fmt.Errorf("login %s: %w", email, err)
	}
	if out.Result.Data.AccessToken == "" {
		return Identity{}, fmt.Errorf("login %s: empty access token", email)
	}
	return Identity{UserID: out.Result.Data.UserID, Token: out.Result.Data.AccessToken}, nil
}

// ClaimRewards 领取账号所有可领取的奖励。
func (c *HTTPClient) ClaimRewards(ctx context.Context, id Identity) error {
	if _, err := c.do(ctx, http.MethodPost, "/claimReward", id.Token, struct{}{}, nil); err != nil {
		return fmt.Errorf("claim rewards: %w", err)
	}
	return nil
}

// do 发送一个 JSON 请求，返回状态码和分类后的错误。
func (c *HTTPClient) do(ctx context.Context, method, path, token string, in, out interface{}) (int, error) {
	var body io.Reader
	if in != nil {
		buf, err := json.Marshal(in)
		if err != nil {
			return 0, err
		}
		body = bytes.NewReader(buf)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.apiURL+path, body)
	if err != nil {
		return 0, err
	}
	req.Header.Set("User-Agent", c.userAgent)
	req.Header.Set("Accept", "application/json")
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if token != "" {
		req.Header.Set("Authorization", token)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return 0, ctx.Err()
		}
		return 0, fmt.Errorf("%s %s: %w: %v", method, path, ErrProxy, err)
	}
	defer resp.Body.Close()

	if err := statusError(resp.StatusCode); err != nil {
		return resp.StatusCode, fmt.Errorf("%s %s: %w", method, path, err)
	}
	if out != nil {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return resp.StatusCode, fmt.Errorf("%s %s: decode response: %w", method, path, err)
		}
	}
	return resp.StatusCode, nil
}

// statusError 把 HTTP 状态码映射为错误类别。2xx 返回 nil。
func statusError(code int) error {
	switch {
	case code >= 200 && code < 300:
		return nil
	case code == http.StatusUnauthorized:
		return ErrLogin
	case code == http.StatusForbidden:
		return ErrProxyForbidden
	case code == http.StatusTooManyRequests:
		return ErrProxyBlocked
	case code == http.StatusProxyAuthRequired:
		return ErrProxy
	case code == http.StatusBadGateway, code == http.StatusServiceUnavailable, code == http.StatusGatewayTimeout,
		code >= 520 && code <= 530:
		return ErrSiteDown
	default:
		return fmt.Errorf("unexpected status %d", code)
	}
}

// isProxyOrSiteError reports whether err is a proxy fault or a site outage.
func isProxyOrSiteError(err error) bool {
	return errors.Is(err, ErrProxyBlocked) ||
		errors.Is(err, ErrProxyForbidden) ||
		errors.Is(err, ErrProxy) ||
		errors.Is(err, ErrSiteDown)
}

// wsMessage 同时用于服务端下发和客户端上报的消息。
type wsMessage struct {
	ID           string                 `json:"id"`
	Version      string                 `json:"version,omitempty"`
	Action       string                 `json:"action,omitempty"`
	OriginAction string                 `json:"origin_action,omitempty"`
	Data         map[string]interface{} `json:"data,omitempty"`
	Result       map[string]interface{} `json:"result,omitempty"`
}

// Heartbeat 发送一次 PING 并等待服务端应答。连接不存在时先建立连接并完成 AUTH。
// 任何 websocket 错误都会关闭当前连接，下次调用重新建立。
func (c *HTTPClient) Heartbeat(ctx context.Context, id Identity, deviceID string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.ws == nil {
		conn, err := c.connect(ctx, id, deviceID)
		if err != nil {
			return err
		}
		c.ws = conn
	}

	conn := c.ws
	stop := context.AfterFunc(ctx, func() {
		conn.SetReadDeadline(time.Now())
	})
	defer stop()

	ping := wsMessage{ID: uuid.NewString(), Version: "1.0.0", Action: "PING", Data: map[string]interface{}{}}
	c.ws.SetWriteDeadline(time.Now().Add(wsReadTimeout))
	if err := c.ws.WriteJSON(ping); err != nil {
		return c.dropWS(ctx, "write ping", err)
	}

	c.ws.SetReadDeadline(time.Now().Add(wsReadTimeout))
	var msg wsMessage
	if err := c.ws.ReadJSON(&msg); err != nil {
		return c.dropWS(ctx, "read pong", err)
	}
	if msg.Action == "PONG" {
		if err := c.ws.WriteJSON(wsMessage{ID: msg.ID, OriginAction: "PONG"}); err != nil {
			return c.dropWS(ctx, "write pong", err)
		}
	}
	return nil
}

// connect 拨号并响应服务端的 AUTH 请求。
func (c *HTTPClient) connect(ctx context.Context, id Identity, deviceID string) (*websocket.Conn, error) {
	header := http.Header{}
	header.Set("User-Agent", c.userAgent)

	conn, resp, err := c.wsDialer.DialContext(ctx, c.wsURL, header)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		if resp != nil {
			resp.Body.Close()
			if serr := statusError(resp.StatusCode); isProxyOrSiteError(serr) {
				return nil, fmt.Errorf("websocket dial: %w", serr)
			}
		}
		return nil, fmt.Errorf("websocket dial: %w: %v", ErrWebsocket, err)
	}

	conn.SetReadDeadline(time.Now().Add(wsReadTimeout))
	var auth wsMessage
	if err := conn.ReadJSON(&auth); err != nil {
		conn.Close()
		return nil, fmt.Errorf("websocket auth: %w: %v", ErrWebsocket, err)
	}
	if auth.Action != "AUTH" {
		conn.Close()
		return nil, fmt.Errorf("websocket auth: %w: unexpected action %q", ErrWebsocket, auth.Action)
	}

	reply := wsMessage{
		ID:           auth.ID,
		OriginAction: "AUTH",
		Result: map[string]interface{}{
			"browser_id":  deviceID,
			"user_id":     id.UserID,
			"user_agent":  c.userAgent,
			"timestamp":   time.Now().Unix(),
			"device_type": "desktop",
			"version":     clientVersion,
		},
	}
	conn.SetWriteDeadline(time.Now().Add(wsReadTimeout))
	if err := conn.WriteJSON(reply); err != nil {
		conn.Close()
		return nil, fmt.Errorf("websocket auth: %w: %v", ErrWebsocket, err)
	}
	return conn, nil
}

// dropWS must be called with c.mu held.
func (c *HTTPClient) dropWS(ctx context.Context, op string, err error) error {
	c.ws.Close()
	c.ws = nil
	if ctx.Err() != nil {
		return ctx.Err()
	}
	return fmt.Errorf("%s: %w: %v", op, ErrWebsocket, err)
}

// Close 关闭 websocket 连接和空闲的 HTTP 连接。
func (c *HTTPClient) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	var err error
	if c.ws != nil {
		err = c.ws.Close()
		c.ws = nil
	}
	c.http.CloseIdleConnections()
	return err
}
