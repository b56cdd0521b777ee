package cache

import (
	"fmt"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/jeanpaul/companionstore/internal/persist"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func newStore(t *testing.T, clock *fakeClock) *Store {
	t.Helper()
	s, err := Open(nil, Options{Now: clock.Now})
	require.NoError(t, err)
	return s
}

func TestSetGetWithTTL(t *testing.T) {
	clock := newFakeClock()
	s := newStore(t, clock)

	s.Set("session:1", "active", time.Second)
	got, ok := s.GetString("session:1")
	require.True(t, ok)
	assert.Equal(t, "active", got)

	clock.Advance(999 * time.Millisecond)
	assert.True(t, s.Exists("session:1"))

	// absent at exactly t
	clock.Advance(time.Millisecond)
	_, ok = s.Get("session:1")
	assert.False(t, ok)
	assert.False(t, s.Exists("session:1"))
	assert.Equal(t, 0, s.Info().ExpiredPending, "lazy expiry should have removed the record")
}

func TestSetClearsPreviousTTL(t *testing.T) {
	clock := newFakeClock()
	s := newStore(t, clock)

	s.Set("k", "v1", time.Second)
	s.Set("k", "v2", 0)

	clock.Advance(time.Hour)
	got, ok := s.GetString("k")
	require.True(t, ok)
	assert.Equal(t, "v2", got)

	ttl, ok := s.TTL("k")
	require.True(t, ok)
	assert.Equal(t, NoTTL, ttl)
}

func TestDefaultTTL(t *testing.T) {
	clock := newFakeClock()
	s, err := Open(nil, Options{Now: clock.Now, DefaultTTL: time.Minute})
	require.NoError(t, err)

	s.Set("defaulted", "x", 0)
	s.Set("forever", "x", NoTTL)

	ttl, ok := s.TTL("defaulted")
	require.True(t, ok)
	assert.Equal(t, time.Minute, ttl)

	clock.Advance(time.Minute)
	assert.False(t, s.Exists("defaulted"))
	assert.True(t, s.Exists("forever"))
	assert.Equal(t, time.Minute, s.Info().TTLConfig)
}

func TestDeleteAndExpire(t *testing.T) {
	clock := newFakeClock()
	s := newStore(t, clock)

	assert.Equal(t, 0, s.Delete("missing"))
	s.Set("k", "v", 0)
	assert.True(t, s.Expire("k", 10*time.Second))
	assert.False(t, s.Expire("missing", time.Second))

	clock.Advance(5 * time.Second)
	ttl, ok := s.TTL("k")
	require.True(t, ok)
	assert.Equal(t, 5*time.Second, ttl)

	assert.Equal(t, 1, s.Delete("k"))
	assert.Equal(t, 0, s.Delete("k"))
	_, ok = s.TTL("k")
	assert.False(t, ok)
}

func TestListOperations(t *testing.T) {
	s := newStore(t, newFakeClock())

	assert.Equal(t, 2, s.RPush("history", "b", "c"))
	assert.Equal(t, 4, s.LPush("history", "x", "a"))
	assert.Equal(t, []string{"a", "x", "b", "c"}, s.LRange("history", 0, -1))
	assert.Equal(t, []string{"b", "c"}, s.LRange("history", -2, -1))
	assert.Equal(t, []string{"x", "b"}, s.LRange("history", 1, 2))
	assert.Equal(t, []string{"a", "x", "b", "c"}, s.LRange("history", -100, 100))
	assert.Equal(t, []string{}, s.LRange("history", 3, 1))
	assert.Equal(t, []string{}, s.LRange("history", 10, 20))
	assert.Equal(t, []string{}, s.LRange("absent", 0, -1))
	assert.Equal(t, 4, s.LLen("history"))
}

func TestLTrim(t *testing.T) {
	s := newStore(t, newFakeClock())

	s.RPush("msgs", "1", "2", "3", "4", "5")
	assert.True(t, s.LTrim("msgs", -3, -1))
	assert.Equal(t, []string{"3", "4", "5"}, s.LRange("msgs", 0, -1))

	assert.True(t, s.LTrim("msgs", 5, 10))
	assert.Equal(t, []string{}, s.LRange("msgs", 0, -1))
	assert.False(t, s.Exists("msgs"), "empty list keys are removed")

	assert.True(t, s.LTrim("absent", 0, 1))
	s.Set("scalar", "v", 0)
	assert.True(t, s.LTrim("scalar", 0, 1))
	got, _ := s.GetString("scalar")
	assert.Equal(t, "v", got)
}

func TestTypeCoercion(t *testing.T) {
	s := newStore(t, newFakeClock())

	s.Set("k", "scalar", time.Hour)
	assert.Equal(t, 1, s.LPush("k", "item"))
	v, ok := s.Get("k")
	require.True(t, ok)
	assert.Equal(t, KindList, v.Kind())
	assert.Equal(t, []string{"item"}, v.Items())
	ttl, _ := s.TTL("k")
	assert.Equal(t, NoTTL, ttl, "coercion starts a fresh record")

	_, ok = s.GetString("k")
	assert.False(t, ok)

	assert.Equal(t, 1, s.HSet("k", "f", "v"))
	v, _ = s.Get("k")
	assert.Equal(t, KindHash, v.Kind())
	assert.Equal(t, []string{}, s.LRange("k", 0, -1))

	s.Set("k", "again", 0)
	v, _ = s.Get("k")
	assert.Equal(t, KindScalar, v.Kind())
	assert.Equal(t, map[string]string{}, s.HGetAll("k"))
}

func TestHashOperations(t *testing.T) {
	s := newStore(t, newFakeClock())

	assert.Equal(t, 1, s.HSet("user:1", "name", "ada"))
	assert.Equal(t, 1, s.HSet("user:1", "mood", "curious"))
	assert.Equal(t, 0, s.HSet("user:1", "mood", "happy"))

	got, ok := s.HGet("user:1", "mood")
	require.True(t, ok)
	assert.Equal(t, "happy", got)
	_, ok = s.HGet("user:1", "missing")
	assert.False(t, ok)
	_, ok = s.HGet("absent", "name")
	assert.False(t, ok)

	all := s.HGetAll("user:1")
	assert.Equal(t, map[string]string{"name": "ada", "mood": "happy"}, all)
	all["name"] = "mutated"
	got, _ = s.HGet("user:1", "name")
	assert.Equal(t, "ada", got, "callers get copies")

	assert.Equal(t, 1, s.HDel("user:1", "name", "nope"))
	assert.Equal(t, 1, s.HDel("user:1", "mood"))
	assert.False(t, s.Exists("user:1"))
}

func TestReturnedValuesAreCopies(t *testing.T) {
	s := newStore(t, newFakeClock())
	s.RPush("l", "a", "b")

	v, _ := s.Get("l")
	items := v.Items()
	items[0] = "z"
	r := s.LRange("l", 0, -1)
	r[1] = "y"

	assert.Equal(t, []string{"a", "b"}, s.LRange("l", 0, -1))
}

func TestKeys(t *testing.T) {
	clock := newFakeClock()
	s := newStore(t, clock)

	s.Set("session:1", "a", 0)
	s.Set("session:2", "b", time.Second)
	s.Set("user:1", "c", 0)
	s.Set("user/nested/1", "d", 0)

	assert.Equal(t, []string{"session:1", "session:2", "user/nested/1", "user:1"}, s.Keys("*"))
	assert.Equal(t, []string{"session:1", "session:2"}, s.Keys("session:*"))
	assert.Equal(t, []string{"session:1", "user:1"}, s.Keys("*:1"))
	assert.Equal(t, []string{"session:2"}, s.Keys("session:[2-9]"))
	assert.Equal(t, []string{"user/nested/1", "user:1"}, s.Keys("user*1"))
	assert.Equal(t, []string{"session:1", "session:2", "user:1"}, s.Keys("{session,user}:?"))
	assert.Equal(t, []string{}, s.Keys("nothing*"))

	clock.Advance(time.Second)
	assert.Equal(t, []string{"session:1"}, s.Keys("session:*"))
}

func TestInfoAndSweep(t *testing.T) {
	clock := newFakeClock()
	s := newStore(t, clock)

	s.Set("a", "12345", time.Second)
	s.Set("b", "xy", 0)
	s.RPush("c", "one", "two")

	info := s.Info()
	assert.Equal(t, 3, info.TotalKeys)
	assert.Equal(t, 0, info.ExpiredPending)
	assert.Equal(t, 1+5+1+2+1+6, info.EstimatedBytes)

	clock.Advance(2 * time.Second)
	info = s.Info()
	assert.Equal(t, 2, info.TotalKeys)
	assert.Equal(t, 1, info.ExpiredPending)

	assert.Equal(t, 1, s.Sweep())
	assert.Equal(t, 0, s.Info().ExpiredPending)
	assert.True(t, s.Ping())

	assert.True(t, s.FlushAll())
	assert.Equal(t, 0, s.Info().TotalKeys)
}

func TestNormalizeRange(t *testing.T) {
	tests := []struct {
		start, stop, n int
		from, to       int
		ok             bool
	}{
		{0, -1, 3, 0, 2, true},
		{-2, -1, 3, 1, 2, true},
		{-5, 1, 3, 0, 1, true},
		{1, 100, 3, 1, 2, true},
		{2, 1, 3, 0, 0, false},
		{3, 5, 3, 0, 0, false},
		{0, -4, 3, 0, 0, false},
		{0, 0, 0, 0, 0, false},
	}
	for _, tt := range tests {
		t.Run(fmt.Sprintf("%d_%d_%d", tt.start, tt.stop, tt.n), func(t *testing.T) {
			from, to, ok := normalizeRange(tt.start, tt.stop, tt.n)
			assert.Equal(t, tt.ok, ok)
			if ok {
				assert.Equal(t, tt.from, from)
				assert.Equal(t, tt.to, to)
			}
		})
	}
}

func TestConcurrentWritersDistinctKeys(t *testing.T) {
	s := newStore(t, newFakeClock())

	const writers, perWriter = 16, 200
	var wg sync.WaitGroup
	for w := 0; w < writers; w++ {
		wg.Add(1)
		go func(w int) {
			defer wg.Done()
			for i := 0; i < perWriter; i++ {
				s.Set(fmt.Sprintf("w%d:k%d", w, i), fmt.Sprintf("%d", i), 0)
				s.RPush(fmt.Sprintf("list:%d", w), fmt.Sprintf("%d", i))
			}
		}(w)
	}
	wg.Wait()

	assert.Equal(t, writers*perWriter+writers, s.Info().TotalKeys)
	for w := 0; w < writers; w++ {
		assert.Equal(t, perWriter, s.LLen(fmt.Sprintf("list:%d", w)))
	}
}

func TestConcurrentWritersSameKey(t *testing.T) {
	s := newStore(t, newFakeClock())

	const writers = 32
	values := make(map[string]bool, writers)
	var wg sync.WaitGroup
	for w := 0; w < writers; w++ {
		v := fmt.Sprintf("value-%02d-%s", w, string(make([]byte, 64)))
		values[v] = true
		wg.Add(1)
		go func() {
			defer wg.Done()
			s.Set("shared", v, 0)
		}()
	}
	wg.Wait()

	got, ok := s.GetString("shared")
	require.True(t, ok)
	assert.True(t, values[got], "final value must be exactly one of the writes")
}

func TestPersistenceRoundTrip(t *testing.T) {
	dir := t.TempDir()
	clock := newFakeClock()

	pm, err := persist.NewManager(dir)
	require.NoError(t, err)
	s, err := Open(pm, Options{Now: clock.Now})
	require.NoError(t, err)

	s.Set("keep", "v", 0)
	s.Set("short", "v", time.Second)
	s.Set("long", "v", time.Hour)
	s.RPush("list", "a", "b")
	s.HSet("hash", "f", "v")
	require.NoError(t, s.Close())

	clock.Advance(2 * time.Second)

	pm2, err := persist.NewManager(dir)
	require.NoError(t, err)
	restored, err := Open(pm2, Options{Now: clock.Now})
	require.NoError(t, err)

	assert.Equal(t, []string{"hash", "keep", "list", "long"}, restored.Keys("*"))
	assert.Equal(t, 1, restored.Dropped())
	assert.Equal(t, []string{"a", "b"}, restored.LRange("list", 0, -1))
	assert.Equal(t, map[string]string{"f": "v"}, restored.HGetAll("hash"))
	ttl, ok := restored.TTL("long")
	require.True(t, ok)
	assert.Equal(t, time.Hour-2*time.Second, ttl)
}

func TestOpenWithCorruptSnapshotStartsEmpty(t *testing.T) {
	dir := t.TempDir()
	pm, err := persist.NewManager(dir)
	require.NoError(t, err)
	require.NoError(t, pm.Save(unitName, map[string]any{"records": "nope"}))

	s, err := Open(pm, Options{})
	require.NoError(t, err)
	assert.Equal(t, 0, s.Info().TotalKeys)

	s.Set("k", "v", 0)
	require.NoError(t, s.Close())
}

func TestFlushSkipsWhenClean(t *testing.T) {
	dir := t.TempDir()
	pm, err := persist.NewManager(dir)
	require.NoError(t, err)
	s, err := Open(pm, Options{})
	require.NoError(t, err)

	require.NoError(t, s.Flush())
	path, _ := pm.Path(unitName)
	assert.NoFileExists(t, path)

	s.Set("k", "v", 0)
	require.NoError(t, s.Flush())
	assert.FileExists(t, path)
}

func TestBackgroundLoopPersists(t *testing.T) {
	dir := t.TempDir()
	pm, err := persist.NewManager(dir)
	require.NoError(t, err)
	s, err := Open(pm, Options{PersistInterval: 10 * time.Millisecond})
	require.NoError(t, err)
	s.Start()

	s.Set("k", "v", 0)
	path, _ := pm.Path(unitName)
	assert.Eventually(t, func() bool {
		_, err := os.Stat(path)
		return err == nil
	}, 2*time.Second, 10*time.Millisecond)

	require.NoError(t, s.Close())
	require.NoError(t, s.Close())
}
