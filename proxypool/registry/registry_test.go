package registry

import (
	"errors"
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"grass_farm/proxypool/model"
)

func mustProxies(t *testing.T, raw ...string) []*model.Proxy {
	t.Helper()
	out := make([]*model.Proxy, 0, len(raw))
	for _, s := range raw {
		p, err := model.ParseProxy(s)
		require.NoError(t, err)
		out = append(out, p)
	}
	return out
}

// holders returns a snapshot of proxy -> holder.
func (r *Registry) holders() map[string]string {
	r.mu.Lock()
	defer r.mu.Unlock()
	m := make(map[string]string, len(r.entries))
	for _, e := range r.entries {
		m[e.proxy.String()] = e.holder
	}
	return m
}

func TestAcquire_FirstFitInConstructionOrder(t *testing.T) {
	ps := mustProxies(t, "http://10.0.0.3:80", "http://10.0.0.1:80", "http://10.0.0.2:80")
	r := New(ps)

	got, err := r.Acquire("a")
	require.NoError(t, err)
	assert.Equal(t, ps[0].String(), got.String())

	got, err = r.Acquire("b")
	require.NoError(t, err)
	assert.Equal(t, ps[1].String(), got.String())

	r.Release(ps[0])
	got, err = r.Acquire("c")
	require.NoError(t, err)
	assert.Equal(t, ps[0].String(), got.String(), "lowest ordered free proxy should be reused")
}

func TestAcquire_ReturnsOwnProxy(t *testing.T) {
	ps := mustProxies(t, "http://10.0.0.1:80", "http://10.0.0.2:80")
	r := New(ps)

	first, err := r.Acquire("a")
	require.NoError(t, err)
	again, err := r.Acquire("a")
	require.NoError(t, err)
	assert.Equal(t, first.String(), again.String())
	assert.Equal(t, 1, r.InUse())
}

func TestAcquire_Exhausted(t *testing.T) {
	ps := mustProxies(t, "http://10.0.0.1:80", "http://10.0.0.2:80")
	r := New(ps)

	_, err := r.Acquire("a")
	require.NoError(t, err)
	_, err = r.Acquire("b")
	require.NoError(t, err)

	_, err = r.Acquire("c")
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrExhausted))

	_, err = New(nil).Acquire("a")
	assert.True(t, errors.Is(err, ErrExhausted))
}

func TestRelease_Idempotent(t *testing.T) {
	ps := mustProxies(t, "http://10.0.0.1:80")
	unknown := mustProxies(t, "http://192.168.0.1:3128")[0]
	r := New(ps)

	_, err := r.Acquire("a")
	require.NoError(t, err)

	for i := 0; i < 3; i++ {
		r.Release(ps[0])
	}
	r.Release(unknown)
	r.Release(nil)

	assert.Equal(t, "", r.holders()[ps[0].String()])
	assert.Equal(t, 0, r.InUse())

	got, err := r.Acquire("b")
	require.NoError(t, err)
	assert.Equal(t, ps[0].String(), got.String())
}

func TestRelease_ByEquivalentValue(t *testing.T) {
	r := New(mustProxies(t, "http://u:p@10.0.0.1:80"))
	_, err := r.Acquire("a")
	require.NoError(t, err)

	// 不同的指针, 相同的规范化形式
	r.Release(mustProxies(t, "u:p@10.0.0.1:80")[0])
	assert.Equal(t, 0, r.InUse())
}

func TestNew_CollapsesDuplicates(t *testing.T) {
	r := New(mustProxies(t, "http://10.0.0.1:80", "10.0.0.1:80", "http://10.0.0.2:80"))
	assert.Equal(t, 2, r.Len())
}

func TestAcquire_NoDoubleAssignmentUnderContention(t *testing.T) {
	const pool = 8
	const accounts = 64

	raw := make([]string, pool)
	for i := range raw {
		raw[i] = fmt.Sprintf("http://10.0.0.%d:80", i+1)
	}
	r := New(mustProxies(t, raw...))

	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		owners  = make(map[string]string)
		granted int
	)
	for i := 0; i < accounts; i++ {
		wg.Add(1)
		go func(id string) {
			defer wg.Done()
			p, err := r.Acquire(id)
			if err != nil {
				assert.True(t, errors.Is(err, ErrExhausted))
				return
			}
			mu.Lock()
			defer mu.Unlock()
			if prev, taken := owners[p.String()]; taken {
				t.Errorf("proxy %s granted to both %s and %s", p, prev, id)
			}
			owners[p.String()] = id
			granted++
		}(fmt.Sprintf("acct-%d", i))
	}
	wg.Wait()

	assert.Equal(t, pool, granted)
	assert.Equal(t, pool, r.InUse())
	for proxy, holder := range r.holders() {
		assert.Equal(t, owners[proxy], holder)
	}
}

func TestAcquireRelease_ConcurrentChurn(t *testing.T) {
	r := New(mustProxies(t, "http://10.0.0.1:80", "http://10.0.0.2:80", "http://10.0.0.3:80"))

	var (
		wg   sync.WaitGroup
		mu   sync.Mutex
		held = make(map[string]string)
	)
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func(id string) {
			defer wg.Done()
			for n := 0; n < 200; n++ {
				p, err := r.Acquire(id)
				if err != nil {
					continue
				}
				mu.Lock()
				if other, ok := held[p.String()]; ok && other != id {
					t.Errorf("proxy %s held by %s while granted to %s", p, other, id)
				}
				held[p.String()] = id
				mu.Unlock()

				mu.Lock()
				delete(held, p.String())
				mu.Unlock()
				r.Release(p)
			}
		}(fmt.Sprintf("acct-%d", i))
	}
	wg.Wait()
	assert.Equal(t, 0, r.InUse())
}

func TestContains(t *testing.T) {
	ps := mustProxies(t, "http://10.0.0.1:8080", "socks5://10.0.0.2:1080")
	r := New(ps)

	same, err := model.ParseProxy("10.0.0.1:8080")
	require.NoError(t, err)
	other, err := model.ParseProxy("http://10.0.0.3:8080")
	require.NoError(t, err)

	assert.True(t, r.Contains(same))
	assert.True(t, r.Contains(ps[1]))
	assert.False(t, r.Contains(other))
	assert.False(t, r.Contains(nil))
}
