package cache

import (
	"time"

	"go.uber.org/zap"
)

type snapshot struct {
	Records map[string]*Record `json:"records"`
	SavedAt time.Time          `json:"saved_at"`
}

func (snapshot) Schema() string {
	return `{
		"type": "object",
		"required": ["records", "saved_at"],
		"properties": {
			"saved_at": {"type": "string"},
			"records": {
				"type": "object",
				"additionalProperties": {
					"type": "object",
					"required": ["value"],
					"properties": {
						"value": {
							"type": "object",
							"required": ["kind"],
							"properties": {"kind": {"enum": ["scalar", "list", "hash"]}}
						}
					}
				}
			}
		}
	}`
}

// Flush writes a snapshot of the live records. The store lock is only held
// while copying; disk I/O runs unlocked. Failures are logged and returned but
// leave the in-memory state serving.
func (s *Store) Flush() error {
	if s.pm == nil {
		return nil
	}
	s.saveMu.Lock()
	defer s.saveMu.Unlock()

	s.mu.Lock()
	if s.version == s.savedVersion {
		s.mu.Unlock()
		return nil
	}
	version := s.version
	now := s.now()
	snap := snapshot{Records: make(map[string]*Record, len(s.records)), SavedAt: now}
	for key, rec := range s.records {
		if !rec.expired(now) {
			snap.Records[key] = rec.clone()
		}
	}
	s.mu.Unlock()

	if err := s.pm.Save(unitName, snap); err != nil {
		s.log.Error("cache snapshot failed, serving from memory", zap.Error(err))
		return err
	}

	s.mu.Lock()
	s.savedVersion = version
	s.mu.Unlock()
	s.log.Debug("cache snapshot written", zap.Int("keys", len(snap.Records)))
	return nil
}

// Start launches the background loop that sweeps expired keys and writes a
// snapshot every PersistInterval. It is a no-op when the interval is zero.
func (s *Store) Start() {
	s.startOnce.Do(func() {
		if s.opts.PersistInterval <= 0 {
			close(s.done)
			return
		}
		go s.loop(s.opts.PersistInterval)
	})
}

func (s *Store) loop(every time.Duration) {
	defer close(s.done)
	ticker := time.NewTicker(every)
	defer ticker.Stop()

	for {
		select {
		case <-s.stop:
			return
		case <-ticker.C:
			if n := s.Sweep(); n > 0 {
				s.log.Debug("expired keys swept", zap.Int("count", n))
			}
			_ = s.Flush() // logged by Flush
		}
	}
}

// Close stops the background loop and writes a final snapshot. The store
// keeps serving from memory afterwards.
func (s *Store) Close() error {
	var err error
	s.closeOnce.Do(func() {
		s.startOnce.Do(func() { close(s.done) })
		close(s.stop)
		<-s.done
		err = s.Flush()
	})
	return err
}
