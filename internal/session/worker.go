package session

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"grass_farm/internal/remote"
	"grass_farm/internal/shared/logger"
	"grass_farm/internal/shared/types"
	"grass_farm/proxypool/model"
	"grass_farm/proxypool/storage"
)

// Registry 是 worker 使用的代理分配表。
type Registry interface {
	Acquire(accountID string) (*model.Proxy, error)
	Release(p *model.Proxy)
	Contains(p *model.Proxy) bool
}

// SpareSource 在轮换代理时提供新的代理。
type SpareSource interface {
	TakeOne(ctx context.Context) (*model.Proxy, error)
}

// Transition describes one phase change of one worker.
type Transition struct {
	Worker   int       `json:"worker"`
	Email    string    `json:"email"`
	Proxy    string    `json:"proxy,omitempty"`
	From     Phase     `json:"from"`
	To       Phase     `json:"to"`
	Failures int       `json:"failures"`
	At       time.Time `json:"at"`
}

// Observer 接收所有阶段变化。实现必须并发安全且不能阻塞。
type Observer interface {
	OnTransition(t Transition)
}

// Settings 控制状态机的节奏和终止条件。
type Settings struct {
	FailLimit        int
	MineIntervalMin  time.Duration
	MineIntervalMax  time.Duration
	SiteDownCooldown time.Duration
	RetryDelay       time.Duration
	ClaimRewardsOnly bool
}

// SettingsFromConfig maps the ini sections onto worker settings.
func SettingsFromConfig(cfg *types.Config) Settings {
	return Settings{
		FailLimit:        cfg.FailLimit,
		MineIntervalMin:  types.Seconds(cfg.MineIntervalMin),
		MineIntervalMax:  types.Seconds(cfg.MineIntervalMax),
		SiteDownCooldown: types.Seconds(cfg.SiteDownCooldown),
		RetryDelay:       types.Seconds(cfg.RetryDelay),
		ClaimRewardsOnly: cfg.ClaimRewardsOnly,
	}
}

// State 是单个 worker 独占的可变状态。
type State struct {
	Phase     Phase
	Proxy     *model.Proxy
	Pooled    bool // Proxy 来自 registry.Acquire，终止或轮换时需要归还
	DeviceID  string
	Identity  remote.Identity
	Failures  int
	FailLimit int
}

// Result is the terminal outcome of Worker.Run.
type Result struct {
	Phase    Phase
	Failures int
	Err      error
}

// Worker 驱动一个账号的 登录 -> 心跳 循环。
// 同一 worker 的各阶段严格串行执行。
type Worker struct {
	ordinal  int
	account  types.Account
	registry Registry
	spare    SpareSource
	dialer   remote.Dialer
	settings Settings
	observer Observer
	log      zerolog.Logger

	state   State
	client  remote.Client
	lastErr error
}

// New 创建 worker。spare 和 observer 可以为 nil。
func New(ordinal int, account types.Account, registry Registry, spare SpareSource, dialer remote.Dialer, settings Settings, observer Observer) *Worker {
	if settings.FailLimit <= 0 {
		settings.FailLimit = 7
	}
	return &Worker{
		ordinal:  ordinal,
		account:  account,
		registry: registry,
		spare:    spare,
		dialer:   dialer,
		settings: settings,
		observer: observer,
		log: logger.WithComponent("Session").With().
			Int("worker", ordinal).
			Str("email", account.Email).
			Logger(),
		state: State{Phase: PhaseInit, FailLimit: settings.FailLimit},
	}
}

// Run 执行状态机直到进入终止状态。任何失败（包括 panic）都在这里被分类和吸收，
// 返回前一定会释放持有的代理并关闭远端会话。
func (w *Worker) Run(ctx context.Context) (res Result) {
	defer func() {
		if r := recover(); r != nil {
			w.lastErr = fmt.Errorf("panic in phase %s: %v", w.state.Phase, r)
			if !w.state.Phase.Terminal() {
				w.transition(PhaseStopped)
			}
			res = Result{Phase: w.state.Phase, Failures: w.state.Failures, Err: w.lastErr}
		}
		w.cleanup()
		w.logOutcome(res)
	}()

	w.transition(PhaseAcquireProxy)
	for !w.state.Phase.Terminal() {
		var next Phase
		if err := ctx.Err(); err != nil {
			w.lastErr = err
			next = PhaseStopped
		} else {
			next = w.step(ctx)
		}
		if w.state.Failures >= w.settings.FailLimit {
			next = PhaseFailLimitReached
		}
		w.transition(next)
	}

	return Result{Phase: w.state.Phase, Failures: w.state.Failures, Err: w.lastErr}
}

func (w *Worker) step(ctx context.Context) Phase {
	switch w.state.Phase {
	case PhaseAcquireProxy:
		return w.acquireProxy()
	case PhaseLoggingIn:
		return w.login(ctx)
	case PhaseMining:
		return w.mine(ctx)
	case PhaseRotatingProxy:
		return w.rotateProxy(ctx)
	case PhaseClaiming:
		return w.claim(ctx)
	default:
		w.lastErr = fmt.Errorf("no transition from phase %s", w.state.Phase)
		return PhaseStopped
	}
}

func (w *Worker) acquireProxy() Phase {
	p, err := w.registry.Acquire(w.account.ID)
	if err != nil {
		w.lastErr = err
		return PhaseProxyExhausted
	}
	w.bind(p, true)
	return PhaseLoggingIn
}

func (w *Worker) login(ctx context.Context) Phase {
	if w.client == nil {
		c, err := w.dialer.Dial(ctx, w.state.Proxy)
		if err != nil {
			return w.onFailure(ctx, fmt.Errorf("dial: %w", err), w.settings.RetryDelay)
		}
		w.client = c
	}

	if err := w.client.CheckStatus(ctx); err != nil {
		return w.onFailure(ctx, err, w.settings.RetryDelay)
	}

	id, err := w.client.Login(ctx, w.account.Email, w.account.Password)
	if err != nil {
		return w.onFailure(ctx, err, w.settings.RetryDelay)
	}
	w.state.Identity = id
	w.log.Info().Str("proxy", w.state.Proxy.Redacted()).Str("user_id", id.UserID).Msg("Logged in.")

	if w.settings.ClaimRewardsOnly {
		return PhaseClaiming
	}
	return PhaseMining
}

func (w *Worker) mine(ctx context.Context) Phase {
	wait := randomBetween(w.settings.MineIntervalMin, w.settings.MineIntervalMax)
	if err := sleep(ctx, wait); err != nil {
		w.lastErr = err
		return PhaseStopped
	}

	if err := w.client.Heartbeat(ctx, w.state.Identity, w.state.DeviceID); err != nil {
		return w.onFailure(ctx, err, 0)
	}
	w.log.Debug().Str("proxy", w.state.Proxy.Redacted()).Msg("Heartbeat ok.")
	return PhaseMining
}

// rotateProxy 把当前代理还给 registry，再从备用仓库取一个新的。
// 不会从 registry 里重新申请；备用仓库中属于 registry 的代理和刚被拒绝的代理直接丢弃。
func (w *Worker) rotateProxy(ctx context.Context) Phase {
	old := w.state.Proxy
	w.releaseProxy()
	w.closeClient()

	if w.spare == nil {
		w.lastErr = storage.ErrEmpty
		return PhaseProxyExhausted
	}

	for {
		p, err := w.spare.TakeOne(ctx)
		if err != nil {
			if ctx.Err() != nil {
				w.lastErr = ctx.Err()
				return PhaseStopped
			}
			if !errors.Is(err, storage.ErrEmpty) {
				w.log.Error().Err(err).Msg("Spare proxy store failed.")
			}
			w.lastErr = err
			return PhaseProxyExhausted
		}
		if w.registry.Contains(p) || p.Equal(old) {
			w.log.Debug().Str("proxy", p.Redacted()).Msg("Spare proxy is in the pool or was just rejected, skipped.")
			continue
		}

		w.log.Info().Str("old_proxy", old.Redacted()).Str("new_proxy", p.Redacted()).Msg("Proxy rotated.")
		w.bind(p, false)
		return PhaseLoggingIn
	}
}

func (w *Worker) claim(ctx context.Context) Phase {
	if err := w.client.ClaimRewards(ctx, w.state.Identity); err != nil {
		if ctx.Err() != nil {
			w.lastErr = ctx.Err()
			return PhaseStopped
		}
		w.lastErr = err
		return PhaseClaimFailed
	}
	return PhaseCompleted
}

// onFailure 是错误分类后的转移表。backoff 只用于未分类的错误。
func (w *Worker) onFailure(ctx context.Context, err error, backoff time.Duration) Phase {
	current := w.state.Phase
	sig := classify(ctx, err)

	switch sig {
	case sigShutdown:
		w.lastErr = ctx.Err()
		return PhaseStopped

	case sigBadCredentials:
		w.lastErr = err
		return PhaseLoginFailed

	case sigProxyFault:
		w.log.Warn().Err(err).Str("proxy", w.state.Proxy.Redacted()).Msg("Proxy rejected, rotating.")
		return PhaseRotatingProxy

	case sigSiteDown:
		w.log.Warn().Err(err).Dur("cooldown", w.settings.SiteDownCooldown).Msg("Site is down, cooling down.")
		if serr := sleep(ctx, w.settings.SiteDownCooldown); serr != nil {
			w.lastErr = serr
			return PhaseStopped
		}
		return current

	case sigCounted:
		w.state.Failures++
		w.log.Warn().Err(err).
			Int("failures", w.state.Failures).
			Int("limit", w.settings.FailLimit).
			Msg("Connection failure.")
		return current

	default:
		w.log.Error().Err(err).Str("phase", current.String()).Msg("Unexpected error.")
		if backoff > 0 {
			if serr := sleep(ctx, backoff); serr != nil {
				w.lastErr = serr
				return PhaseStopped
			}
		}
		return current
	}
}

func (w *Worker) bind(p *model.Proxy, pooled bool) {
	w.state.Proxy = p
	w.state.Pooled = pooled
	w.state.DeviceID = DeviceID(w.account.ID, p)
}

// releaseProxy 只归还从 registry 取得的代理；备用代理不属于 registry。
func (w *Worker) releaseProxy() {
	if w.state.Proxy != nil && w.state.Pooled {
		w.registry.Release(w.state.Proxy)
	}
	w.state.Proxy = nil
	w.state.Pooled = false
}

func (w *Worker) closeClient() {
	if w.client == nil {
		return
	}
	if err := w.client.Close(); err != nil {
		w.log.Debug().Err(err).Msg("Closing remote session.")
	}
	w.client = nil
}

func (w *Worker) cleanup() {
	w.releaseProxy()
	w.closeClient()
}

func (w *Worker) transition(to Phase) {
	from := w.state.Phase
	if from == to {
		return
	}
	w.state.Phase = to
	w.log.Debug().Str("from", from.String()).Str("to", to.String()).Msg("Phase changed.")

	if w.observer != nil {
		w.observer.OnTransition(Transition{
			Worker:   w.ordinal,
			Email:    w.account.Email,
			Proxy:    w.state.Proxy.Redacted(),
			From:     from,
			To:       to,
			Failures: w.state.Failures,
			At:       time.Now(),
		})
	}
}

func (w *Worker) logOutcome(res Result) {
	var ev *zerolog.Event
	switch res.Phase {
	case PhaseCompleted:
		ev = w.log.Info()
	case PhaseStopped:
		if res.Err != nil && !errors.Is(res.Err, context.Canceled) {
			ev = w.log.Error()
		} else {
			ev = w.log.Info()
		}
	default:
		ev = w.log.Warn()
	}
	ev.Err(res.Err).Int("failures", res.Failures).Str("phase", res.Phase.String()).Msg("Worker finished.")
}

// DeviceID 由账号和代理派生，同一账号使用同一代理时结果不变。
func DeviceID(accountID string, p *model.Proxy) string {
	ns, err := uuid.Parse(accountID)
	if err != nil {
		ns = uuid.NewSHA1(uuid.NameSpaceOID, []byte(accountID))
	}
	return uuid.NewSHA1(ns, []byte(p.String())).String()
}

func randomBetween(min, max time.Duration) time.Duration {
	if max <= min {
		return min
	}
	return min + time.Duration(rand.Int64N(int64(max-min)+1))
}

// sleep 等待 d 或 ctx 结束，以先到者为准。
func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
