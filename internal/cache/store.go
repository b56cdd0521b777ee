// Package cache is an embedded key/value store with Redis semantics: strings,
// lists and hashes with per-key TTL, restored from disk on open.
//
// Missing keys are never errors. Reads report absence through a bool or an
// empty result, matching the replies a Redis client would see.
package cache

import (
	"errors"
	"slices"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/bmatcuk/doublestar/v4"
	"go.uber.org/zap"

	"github.com/jeanpaul/companionstore/internal/persist"
)

// NoTTL passed to Set or Expire stores the key without expiry even when a
// default TTL is configured.
const NoTTL time.Duration = -1

const unitName = "cache"

// Options configures a Store.
type Options struct {
	// DefaultTTL applies to Set calls that pass a zero ttl. Zero disables it.
	DefaultTTL time.Duration
	// PersistInterval is the cadence of the background sweep and snapshot
	// started by Start. Zero disables the loop.
	PersistInterval time.Duration
	Logger          *zap.Logger
	// Now is the clock. Defaults to time.Now.
	Now func() time.Time
}

// Info summarises the store.
type Info struct {
	TotalKeys      int           `json:"total_keys"`
	ExpiredPending int           `json:"expired_pending"`
	EstimatedBytes int           `json:"estimated_bytes"`
	TTLConfig      time.Duration `json:"ttl_config"`
}

// Store is safe for concurrent use.
type Store struct {
	mu           sync.Mutex
	records      map[string]*Record
	version      uint64
	savedVersion uint64
	dropped      int

	saveMu sync.Mutex
	pm     *persist.Manager
	opts   Options
	log    *zap.Logger
	now    func() time.Time

	startOnce sync.Once
	closeOnce sync.Once
	stop      chan struct{}
	done      chan struct{}
}

// Open restores the store from pm. A nil pm gives a memory-only store.
// Records already expired at open time are dropped.
func Open(pm *persist.Manager, opts Options) (*Store, error) {
	if opts.DefaultTTL < 0 || opts.PersistInterval < 0 {
		return nil, errors.New("cache: durations must not be negative")
	}
	s := &Store{
		records: make(map[string]*Record),
		pm:      pm,
		opts:    opts,
		log:     opts.Logger,
		now:     opts.Now,
		stop:    make(chan struct{}),
		done:    make(chan struct{}),
	}
	if s.log == nil {
		s.log = zap.NewNop()
	}
	if s.now == nil {
		s.now = time.Now
	}
	s.restore()
	return s, nil
}

func (s *Store) restore() {
	if s.pm == nil {
		return
	}
	var snap snapshot
	if err := s.pm.Load(unitName, &snap); err != nil {
		if errors.Is(err, persist.ErrNotFound) {
			s.log.Debug("no cache snapshot, starting empty", zap.Error(err))
			return
		}
		s.log.Warn("cache snapshot not restored", zap.Error(err))
		return
	}

	now := s.now()
	dropped := 0
	for key, rec := range snap.Records {
		if rec == nil || rec.Value.Kind() == 0 {
			dropped++
			continue
		}
		if rec.expired(now) {
			dropped++
			continue
		}
		rec.Key = key
		s.records[key] = rec
	}
	if dropped > 0 {
		// rewrite the snapshot without them on the next flush
		s.dropped = dropped
		s.version++
	}
	s.log.Info("cache restored",
		zap.Int("keys", len(s.records)),
		zap.Int("dropped", dropped),
		zap.Time("saved_at", snap.SavedAt))
}

// lookup returns the live record for key, deleting it first if it expired.
// Callers hold s.mu.
func (s *Store) lookup(key string, now time.Time) *Record {
	rec, ok := s.records[key]
	if !ok {
		return nil
	}
	if rec.expired(now) {
		delete(s.records, key)
		return nil
	}
	rec.LastTouchedAt = now
	return rec
}

// put stores a fresh record, discarding whatever was there. Callers hold s.mu.
func (s *Store) put(key string, v Value, expiresAt, now time.Time) *Record {
	rec := &Record{Key: key, Value: v, ExpiresAt: expiresAt, LastTouchedAt: now}
	s.records[key] = rec
	s.version++
	return rec
}

func (s *Store) expiry(ttl time.Duration, now time.Time) time.Time {
	if ttl == 0 {
		ttl = s.opts.DefaultTTL
	}
	if ttl <= 0 {
		return time.Time{}
	}
	return now.Add(ttl)
}

// Set stores a scalar, replacing any previous value of any kind. A positive
// ttl expires the key after ttl; zero applies the default TTL; NoTTL keeps it
// forever. A previous TTL is never carried over.
func (s *Store) Set(key, value string, ttl time.Duration) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	s.put(key, Scalar(value), s.expiry(ttl, now), now)
	return true
}

// Get returns a copy of the value stored at key.
func (s *Store) Get(key string) (Value, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec := s.lookup(key, s.now())
	if rec == nil {
		return Value{}, false
	}
	return rec.Value.clone(), true
}

// GetString returns the scalar stored at key. Lists and hashes report absent.
func (s *Store) GetString(key string) (string, bool) {
	v, ok := s.Get(key)
	if !ok || v.Kind() != KindScalar {
		return "", false
	}
	return v.Str(), true
}

// Delete removes key and reports how many keys were removed.
func (s *Store) Delete(key string) int {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.lookup(key, s.now()) == nil {
		return 0
	}
	delete(s.records, key)
	s.version++
	return 1
}

// Exists reports whether key holds a live value.
func (s *Store) Exists(key string) bool {
	_, ok := s.Get(key)
	return ok
}

// TTL returns the time left before key expires, or NoTTL when it never does.
// ok is false when the key is absent.
func (s *Store) TTL(key string) (time.Duration, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	rec := s.lookup(key, now)
	if rec == nil {
		return 0, false
	}
	if rec.ExpiresAt.IsZero() {
		return NoTTL, true
	}
	return rec.ExpiresAt.Sub(now), true
}

// Expire sets a new TTL on an existing key; NoTTL clears it.
func (s *Store) Expire(key string, ttl time.Duration) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	rec := s.lookup(key, now)
	if rec == nil {
		return false
	}
	if ttl == NoTTL {
		rec.ExpiresAt = time.Time{}
	} else {
		rec.ExpiresAt = now.Add(ttl)
	}
	s.version++
	return true
}

// listFor returns the list record at key, replacing absent or non-list keys
// with an empty list. Callers hold s.mu.
func (s *Store) listFor(key string, now time.Time) *Record {
	rec := s.lookup(key, now)
	if rec != nil && rec.Value.Kind() == KindList {
		return rec
	}
	return s.put(key, List(), time.Time{}, now)
}

// LPush inserts values at the head of the list one by one, so the last value
// ends up first. It returns the new length.
func (s *Store) LPush(key string, values ...string) int {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec := s.listFor(key, s.now())
	head := slices.Clone(values)
	slices.Reverse(head)
	rec.Value.list = append(head, rec.Value.list...)
	s.version++
	return len(rec.Value.list)
}

// RPush appends values to the tail of the list and returns the new length.
func (s *Store) RPush(key string, values ...string) int {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec := s.listFor(key, s.now())
	rec.Value.list = append(rec.Value.list, values...)
	s.version++
	return len(rec.Value.list)
}

// LLen returns the length of the list at key.
func (s *Store) LLen(key string) int {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec := s.lookup(key, s.now())
	if rec == nil || rec.Value.Kind() != KindList {
		return 0
	}
	return len(rec.Value.list)
}

// normalizeRange resolves Redis-style inclusive indices against a list of
// length n. Negative indices count from the end.
func normalizeRange(start, stop, n int) (int, int, bool) {
	if start < 0 {
		start += n
		if start < 0 {
			start = 0
		}
	}
	if stop < 0 {
		stop += n
	}
	if stop >= n {
		stop = n - 1
	}
	if start >= n || stop < 0 || start > stop {
		return 0, 0, false
	}
	return start, stop, true
}

// LRange returns the elements between start and stop inclusive.
func (s *Store) LRange(key string, start, stop int) []string {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec := s.lookup(key, s.now())
	if rec == nil || rec.Value.Kind() != KindList {
		return []string{}
	}
	from, to, ok := normalizeRange(start, stop, len(rec.Value.list))
	if !ok {
		return []string{}
	}
	return slices.Clone(rec.Value.list[from : to+1])
}

// LTrim keeps only the elements between start and stop inclusive. An empty
// result removes the key. Keys that are not lists are left alone.
func (s *Store) LTrim(key string, start, stop int) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec := s.lookup(key, s.now())
	if rec == nil || rec.Value.Kind() != KindList {
		return true
	}
	from, to, ok := normalizeRange(start, stop, len(rec.Value.list))
	if !ok {
		delete(s.records, key)
		s.version++
		return true
	}
	rec.Value.list = slices.Clone(rec.Value.list[from : to+1])
	s.version++
	return true
}

// HSet sets field in the hash at key, replacing absent or non-hash keys with
// an empty hash first. It returns 1 if the field is new, 0 if it was updated.
func (s *Store) HSet(key, field, value string) int {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	rec := s.lookup(key, now)
	if rec == nil || rec.Value.Kind() != KindHash {
		rec = s.put(key, Hash(nil), time.Time{}, now)
	}
	_, existed := rec.Value.hash[field]
	rec.Value.hash[field] = value
	s.version++
	if existed {
		return 0
	}
	return 1
}

// HGet returns one field of the hash at key.
func (s *Store) HGet(key, field string) (string, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec := s.lookup(key, s.now())
	if rec == nil || rec.Value.Kind() != KindHash {
		return "", false
	}
	v, ok := rec.Value.hash[field]
	return v, ok
}

// HGetAll returns a copy of the hash at key; empty when absent.
func (s *Store) HGetAll(key string) map[string]string {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec := s.lookup(key, s.now())
	if rec == nil || rec.Value.Kind() != KindHash {
		return map[string]string{}
	}
	return rec.Value.Fields()
}

// HDel removes fields from the hash at key and returns how many existed.
func (s *Store) HDel(key string, fields ...string) int {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec := s.lookup(key, s.now())
	if rec == nil || rec.Value.Kind() != KindHash {
		return 0
	}
	n := 0
	for _, f := range fields {
		if _, ok := rec.Value.hash[f]; ok {
			delete(rec.Value.hash, f)
			n++
		}
	}
	if len(rec.Value.hash) == 0 {
		delete(s.records, key)
	}
	if n > 0 {
		s.version++
	}
	return n
}

// FlushAll removes every record.
func (s *Store) FlushAll() bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.records = make(map[string]*Record)
	s.version++
	return true
}

// Keys returns the sorted live keys matching a glob pattern. Supported syntax
// is *, ?, [...] and {a,b}; unlike path globs, * also matches '/'.
func (s *Store) Keys(pattern string) []string {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	keys := []string{}
	for key, rec := range s.records {
		if rec.expired(now) {
			continue
		}
		if matchKey(pattern, key) {
			keys = append(keys, key)
		}
	}
	sort.Strings(keys)
	return keys
}

// doublestar treats '/' as a separator; keys have no hierarchy, so it is
// swapped for a byte that cannot appear in a pattern.
const slashStandIn = "\x00"

func matchKey(pattern, key string) bool {
	if pattern == "*" {
		return true
	}
	ok, err := doublestar.Match(
		strings.ReplaceAll(pattern, "/", slashStandIn),
		strings.ReplaceAll(key, "/", slashStandIn),
	)
	return err == nil && ok
}

// Info reports key counts and an approximate memory footprint.
func (s *Store) Info() Info {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	info := Info{TTLConfig: s.opts.DefaultTTL}
	for key, rec := range s.records {
		if rec.expired(now) {
			info.ExpiredPending++
		} else {
			info.TotalKeys++
		}
		info.EstimatedBytes += len(key) + rec.Value.size()
	}
	return info
}

// Ping reports liveness. It touches no state.
func (*Store) Ping() bool { return true }

// Sweep removes every expired record and returns how many were removed.
func (s *Store) Sweep() int {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	n := 0
	for key, rec := range s.records {
		if rec.expired(now) {
			delete(s.records, key)
			n++
		}
	}
	if n > 0 {
		s.version++
	}
	return n
}

// Dropped reports how many persisted records Open discarded because they had
// expired or could not be decoded.
func (s *Store) Dropped() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.dropped
}
