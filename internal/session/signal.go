package session

import (
	"context"
	"errors"

	"grass_farm/internal/remote"
)

// signal 是远端调用失败的分类结果，决定状态机的下一步。
type signal int

const (
	sigUnclassified signal = iota
	sigShutdown
	sigBadCredentials
	sigProxyFault
	sigSiteDown
	sigCounted
)

func (s signal) String() string {
	switch s {
	case sigShutdown:
		return "shutdown"
	case sigBadCredentials:
		return "bad_credentials"
	case sigProxyFault:
		return "proxy_fault"
	case sigSiteDown:
		return "site_down"
	case sigCounted:
		return "counted"
	default:
		return "unclassified"
	}
}

// classify 只有在 ctx 本身已结束时才把错误视为关机信号；
// 远端自身的超时属于普通错误。
func classify(ctx context.Context, err error) signal {
	switch {
	case ctx.Err() != nil:
		return sigShutdown
	case errors.Is(err, remote.ErrLogin):
		return sigBadCredentials
	case errors.Is(err, remote.ErrProxyBlocked),
		errors.Is(err, remote.ErrProxyForbidden),
		errors.Is(err, remote.ErrProxy):
		return sigProxyFault
	case errors.Is(err, remote.ErrSiteDown):
		return sigSiteDown
	case errors.Is(err, remote.ErrWebsocket):
		return sigCounted
	default:
		return sigUnclassified
	}
}
