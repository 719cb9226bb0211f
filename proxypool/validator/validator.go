package validator

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"time"

	"golang.org/x/sync/errgroup"

	"grass_farm/internal/shared/logger"
	"grass_farm/internal/shared/metrics"
	"grass_farm/internal/shared/proxydial"
	"grass_farm/proxypool/model"
)

const (
	defaultValidationTarget = "https://httpbin.org/ip"
	defaultTimeout          = 10 * time.Second
)

// Validator 通过代理请求一个回显 IP 的地址来判断代理是否可达。
// 只有 200 才算有效。
type Validator struct {
	target      string
	timeout     time.Duration
	concurrency int
}

func NewValidator(target string, timeout time.Duration, concurrency int) *Validator {
	if target == "" {
		target = defaultValidationTarget
	}
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	if concurrency <= 0 {
		concurrency = 5
	}
	return &Validator{
		target:      target,
		timeout:     timeout,
		concurrency: concurrency,
	}
}

// Filter 并发检测所有代理，按输入顺序返回通过检测的代理。
func (v *Validator) Filter(ctx context.Context, proxies []*model.Proxy) []*model.Proxy {
	l := logger.WithComponent("ProxyPool/Validator")
	if len(proxies) == 0 {
		return nil
	}

	l.Info().Int("count", len(proxies)).Int("concurrency", v.concurrency).Msg("Starting validation batch...")

	ok := make([]bool, len(proxies))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(v.concurrency)

	for i, p := range proxies {
		g.Go(func() error {
			if err := v.Check(gctx, p); err != nil {
				l.Warn().Err(err).Str("proxy", p.Redacted()).Msg("Invalid proxy.")
				metrics.ProxyProbesTotal.WithLabelValues("fail").Inc()
				return nil
			}
			metrics.ProxyProbesTotal.WithLabelValues("ok").Inc()
			ok[i] = true
			return nil
		})
	}
	_ = g.Wait()

	valid := make([]*model.Proxy, 0, len(proxies))
	for i, p := range proxies {
		if ok[i] {
			valid = append(valid, p)
		}
	}

	l.Info().Int("valid", len(valid)).Int("invalid", len(proxies)-len(valid)).Msg("Validation batch finished.")
	return valid
}

// Check 经由 p 发起一次 GET，超时或非 200 均返回错误。
func (v *Validator) Check(ctx context.Context, p *model.Proxy) error {
	transport, err := proxydial.Transport(p, v.timeout)
	if err != nil {
		return err
	}
	defer transport.CloseIdleConnections()

	client := &http.Client{
		Transport: transport,
		Timeout:   v.timeout,
	}

	ctx, cancel := context.WithTimeout(ctx, v.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, v.target, nil)
	if err != nil {
		return err
	}

	resp, err := client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, resp.Body)

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("received non-200 status code: %d", resp.StatusCode)
	}
	return nil
}
