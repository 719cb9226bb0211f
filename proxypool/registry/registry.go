package registry

import (
	"errors"
	"fmt"
	"sync"

	"grass_farm/proxypool/model"
)

// ErrExhausted 表示池中既没有空闲代理，也没有已分配给该账号的代理。
var ErrExhausted = errors.New("no available proxies")

type entry struct {
	proxy  *model.Proxy
	holder string // 持有者的账号 ID，空字符串表示空闲
}

// Registry 维护 代理 -> 账号 的独占分配关系。
// 成员在构造时固定，之后只会被重新分配，不会增删。
// 一个代理在任意时刻最多属于一个账号。
type Registry struct {
	mu      sync.Mutex
	entries []*entry
	index   map[string]*entry // key: Proxy.String()
}

// New 按给定顺序构造 Registry，该顺序即 Acquire 的扫描顺序。
// 规范化后重复的代理只保留第一次出现的位置。
func New(proxies []*model.Proxy) *Registry {
	r := &Registry{
		entries: make([]*entry, 0, len(proxies)),
		index:   make(map[string]*entry, len(proxies)),
	}
	for _, p := range proxies {
		if p == nil {
			continue
		}
		key := p.String()
		if _, exists := r.index[key]; exists {
			continue
		}
		e := &entry{proxy: p}
		r.entries = append(r.entries, e)
		r.index[key] = e
	}
	return r
}

// Acquire 在同一个临界区内按固定顺序扫描，返回第一个空闲或已属于 accountID 的代理，
// 并将其标记为 accountID 所有。没有可用代理时立即返回 ErrExhausted，不会阻塞等待。
func (r *Registry) Acquire(accountID string) (*model.Proxy, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, e := range r.entries {
		if e.holder == "" || e.holder == accountID {
			e.holder = accountID
			return e.proxy, nil
		}
	}
	return nil, fmt.Errorf("account %s: %w", accountID, ErrExhausted)
}

// Release 将代理标记为空闲，不论当前持有者是谁。
// 对 nil、未知或已空闲的代理调用是空操作。
func (r *Registry) Release(p *model.Proxy) {
	if p == nil {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	if e, ok := r.index[p.String()]; ok {
		e.holder = ""
	}
}

// Contains reports whether p is a member of the pool. Membership is fixed at construction.
func (r *Registry) Contains(p *model.Proxy) bool {
	if p == nil {
		return false
	}
	_, ok := r.index[p.String()]
	return ok
}

// Len returns the fixed pool size.
func (r *Registry) Len() int {
	return len(r.entries)
}

// InUse returns how many proxies are currently assigned.
func (r *Registry) InUse() int {
	r.mu.Lock()
	defer r.mu.Unlock()

	n := 0
	for _, e := range r.entries {
		if e.holder != "" {
			n++
		}
	}
	return n
}
