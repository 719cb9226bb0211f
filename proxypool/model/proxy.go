package model

import (
	"errors"
	"fmt"
	"net"
	"net/url"
	"strconv"
	"strings"
)

// ErrInvalidProxy 表示代理字符串无法解析。
var ErrInvalidProxy = errors.New("invalid proxy")

// Proxy 是一个规范化的代理地址，创建后不可变。
// 两个 Proxy 是否相同只看 String() 的结果。
type Proxy struct {
	Scheme   string // "http", "https" 或 "socks5"
	Host     string
	Port     int
	Username string
	Password string
}

// ParseProxy 解析 scheme://[user:pass@]host:port 格式的代理。
// 没有 scheme 时按 http 处理。
func ParseProxy(raw string) (*Proxy, error) {
	s := strings.TrimSpace(raw)
	if s == "" {
		return nil, fmt.Errorf("%w: empty string", ErrInvalidProxy)
	}
	if !strings.Contains(s, "://") {
		s = "http://" + s
	}

	u, err := url.Parse(s)
	if err != nil {
		return nil, fmt.Errorf("%w: %q: %v", ErrInvalidProxy, raw, err)
	}

	scheme := strings.ToLower(u.Scheme)
	switch scheme {
	case "http", "https":
	case "socks5", "socks5h":
		scheme = "socks5"
	default:
		return nil, fmt.Errorf("%w: %q: unsupported scheme %q", ErrInvalidProxy, raw, u.Scheme)
	}

	host := u.Hostname()
	portStr := u.Port()
	if host == "" || portStr == "" {
		return nil, fmt.Errorf("%w: %q: host and port are required", ErrInvalidProxy, raw)
	}
	port, err := strconv.Atoi(portStr)
	if err != nil || port < 1 || port > 65535 {
		return nil, fmt.Errorf("%w: %q: bad port %q", ErrInvalidProxy, raw, portStr)
	}

	p := &Proxy{
		Scheme: scheme,
		Host:   strings.ToLower(host),
		Port:   port,
	}
	if u.User != nil {
		p.Username = u.User.Username()
		p.Password, _ = u.User.Password()
	}
	return p, nil
}

// Address returns host:port.
func (p *Proxy) Address() string {
	return net.JoinHostPort(p.Host, strconv.Itoa(p.Port))
}

// URL returns the proxy as a *url.URL, credentials included.
func (p *Proxy) URL() *url.URL {
	u := &url.URL{Scheme: p.Scheme, Host: p.Address()}
	if p.Username != "" {
		u.User = url.UserPassword(p.Username, p.Password)
	}
	return u
}

// String 返回规范化形式, 作为代理的唯一标识。
func (p *Proxy) String() string {
	if p == nil {
		return ""
	}
	return p.URL().String()
}

// Redacted 返回隐藏密码后的形式, 用于日志。
func (p *Proxy) Redacted() string {
	if p == nil {
		return ""
	}
	return p.URL().Redacted()
}

// Equal reports whether both proxies have the same normalized form.
func (p *Proxy) Equal(o *Proxy) bool {
	if p == nil || o == nil {
		return p == o
	}
	return p.String() == o.String()
}
