// Package remote 定义了会话 worker 与远端服务之间的能力接口及错误分类。
package remote

import (
	"context"
	"errors"

	"grass_farm/proxypool/model"
)

// 远端调用可能返回的错误类别。实现必须用 %w 包装这些哨兵错误，
// 调用方使用 errors.Is 判断。
var (
	// ErrLogin 凭据错误，不可重试。
	ErrLogin = errors.New("login rejected")
	// ErrProxyBlocked 代理被远端封禁或限流。
	ErrProxyBlocked = errors.New("proxy blocked")
	// ErrProxyForbidden 远端拒绝来自该代理的访问。
	ErrProxyForbidden = errors.New("proxy forbidden")
	// ErrProxy 代理本身不可用（连接失败、CONNECT 被拒等）。
	ErrProxy = errors.New("proxy error")
	// ErrSiteDown 远端服务暂时不可用。
	ErrSiteDown = errors.New("site is down")
	// ErrWebsocket 心跳连接失败。
	ErrWebsocket = errors.New("websocket error")
)

// Identity is what a successful login hands back; it authenticates later calls.
type Identity struct {
	UserID string
	Token  string
}

// Client 是绑定到单个代理的远端会话。Close 之后不可再用。
type Client interface {
	CheckStatus(ctx context.Context) error
	Login(ctx context.Context, email, password string) (Identity, error)
	Heartbeat(ctx context.Context, id Identity, deviceID string) error
	ClaimRewards(ctx context.Context, id Identity) error
	Close() error
}

// Dialer 为指定代理创建 Client。
type Dialer interface {
	Dial(ctx context.Context, p *model.Proxy) (Client, error)
}
