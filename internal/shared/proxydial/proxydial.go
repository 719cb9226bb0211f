// Package proxydial builds dialers and HTTP transports that route through a model.Proxy.
package proxydial

import (
	"context"
	"crypto/tls"
	"fmt"
	"net"
	"net/http"
	"time"

	"golang.org/x/net/proxy"

	"grass_farm/proxypool/model"
)

// ContextDialer 返回一个经由 socks5 代理拨号的 ContextDialer。
// http/https 代理不需要它，由 http.Transport.Proxy 处理。
func ContextDialer(p *model.Proxy, timeout time.Duration) (proxy.ContextDialer, error) {
	if p.Scheme != "socks5" {
		return nil, fmt.Errorf("proxy %s is not socks5", p.Redacted())
	}
	var auth *proxy.Auth
	if p.Username != "" {
		auth = &proxy.Auth{User: p.Username, Password: p.Password}
	}
	d, err := proxy.SOCKS5("tcp", p.Address(), auth, &net.Dialer{Timeout: timeout, KeepAlive: 30 * time.Second})
	if err != nil {
		return nil, fmt.Errorf("failed to create SOCKS5 dialer: %w", err)
	}
	cd, ok := d.(proxy.ContextDialer)
	if !ok {
		return nil, fmt.Errorf("socks5 dialer does not support contexts")
	}
	return cd, nil
}

// Transport 返回一个所有请求都经过 p 的 http.Transport。
func Transport(p *model.Proxy, timeout time.Duration) (*http.Transport, error) {
	dialer := &net.Dialer{
		Timeout:   timeout,
		KeepAlive: 30 * time.Second,
	}
	t := &http.Transport{
		DialContext:           dialer.DialContext,
		TLSClientConfig:       &tls.Config{},
		IdleConnTimeout:       90 * time.Second,
		TLSHandshakeTimeout:   timeout,
		ExpectContinueTimeout: 1 * time.Second,
	}

	switch p.Scheme {
	case "http", "https":
		t.Proxy = http.ProxyURL(p.URL())
	case "socks5":
		cd, err := ContextDialer(p, timeout)
		if err != nil {
			return nil, err
		}
		t.DialContext = func(ctx context.Context, network, addr string) (net.Conn, error) {
			return cd.DialContext(ctx, network, addr)
		}
	default:
		return nil, fmt.Errorf("unsupported proxy scheme %q", p.Scheme)
	}
	return t, nil
}
