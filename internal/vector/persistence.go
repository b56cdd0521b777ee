package vector

import (
	"errors"
	"path"
	"slices"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/jeanpaul/companionstore/internal/persist"
)

const (
	collectionsDir = "collections"
	flushWorkers   = 4
)

func unitFor(name string) string { return collectionsDir + "/" + name }

type collectionFile struct {
	ID        string               `json:"id"`
	Name      string               `json:"name"`
	Documents map[string]*Document `json:"documents"`
	Metadata  Metadata             `json:"metadata"`
	CreatedAt time.Time            `json:"created_at"`
}

func (collectionFile) Schema() string {
	return `{
		"type": "object",
		"required": ["documents", "created_at"],
		"properties": {
			"id": {"type": "string"},
			"name": {"type": "string"},
			"created_at": {"type": "string"},
			"metadata": {"type": ["object", "null"]},
			"documents": {
				"type": "object",
				"additionalProperties": {
					"type": "object",
					"required": ["content", "embedding"],
					"properties": {
						"content": {"type": "string"},
						"embedding": {"type": "array", "items": {"type": "number"}},
						"seq": {"type": "integer", "minimum": 0}
					}
				}
			}
		}
	}`
}

func (s *Store) restore() {
	if s.pm == nil {
		return
	}
	units, err := s.pm.List(collectionsDir)
	if err != nil {
		s.log.Warn("collections not listed, starting empty", zap.Error(err))
		return
	}

	for _, unit := range units {
		name := path.Base(unit)
		if validName(name) != nil {
			s.log.Warn("skipping collection file with invalid name", zap.String("unit", unit))
			continue
		}
		var f collectionFile
		if err := s.pm.Load(unit, &f); err != nil {
			if !errors.Is(err, persist.ErrNotFound) {
				s.log.Warn("collection not restored", zap.String("collection", name), zap.Error(err))
			}
			continue
		}

		c := &collection{
			id:        f.ID,
			name:      name,
			metadata:  f.Metadata,
			createdAt: f.CreatedAt,
			docs:      make(map[string]*Document, len(f.Documents)),
		}
		if c.id == "" {
			c.id = uuid.NewString()
		}
		dropped := 0
		for id, d := range f.Documents {
			if d == nil || len(d.Embedding) != s.dim {
				dropped++
				continue
			}
			d.ID = id
			c.docs[id] = d
			if d.Seq >= c.nextSeq {
				c.nextSeq = d.Seq + 1
			}
		}
		s.collections[name] = c
		s.log.Info("collection restored",
			zap.String("collection", name),
			zap.Int("documents", len(c.docs)),
			zap.Int("dropped", dropped))
	}
}

// Flush writes every collection changed since the last flush and removes the
// files of deleted collections. The store lock is only held while copying;
// writes run unlocked and in parallel. Failed units stay pending for the next
// flush.
func (s *Store) Flush() error {
	if s.pm == nil {
		return nil
	}
	s.saveMu.Lock()
	defer s.saveMu.Unlock()

	s.mu.Lock()
	pending := make([]collectionFile, 0, len(s.dirty))
	for name := range s.dirty {
		c, ok := s.collections[name]
		if !ok {
			continue
		}
		f := collectionFile{
			ID:        c.id,
			Name:      c.name,
			Documents: make(map[string]*Document, len(c.docs)),
			Metadata:  c.metadata.Clone(),
			CreatedAt: c.createdAt,
		}
		for id, d := range c.docs {
			cp := d.clone()
			f.Documents[id] = &cp
		}
		pending = append(pending, f)
	}
	var removed []string
	for name := range s.removed {
		if _, dirty := s.dirty[name]; !dirty {
			removed = append(removed, name)
		}
	}
	clear(s.dirty)
	clear(s.removed)
	s.mu.Unlock()

	if len(pending) == 0 && len(removed) == 0 {
		return nil
	}

	var g errgroup.Group
	g.SetLimit(flushWorkers)
	for _, f := range pending {
		g.Go(func() error {
			if err := s.pm.Save(unitFor(f.Name), f); err != nil {
				s.requeue(f.Name, false)
				s.log.Error("collection snapshot failed, serving from memory",
					zap.String("collection", f.Name), zap.Error(err))
				return err
			}
			return nil
		})
	}
	for _, name := range removed {
		g.Go(func() error {
			if err := s.pm.Remove(unitFor(name)); err != nil {
				s.requeue(name, true)
				s.log.Error("collection file not removed", zap.String("collection", name), zap.Error(err))
				return err
			}
			return nil
		})
	}
	err := g.Wait()

	s.log.Debug("collections flushed",
		zap.Int("saved", len(pending)),
		zap.Int("removed", len(removed)),
		zap.Bool("ok", err == nil))
	return err
}

// requeue marks a unit pending again after a failed write, unless the
// collection changed state in the meantime.
func (s *Store) requeue(name string, removal bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, exists := s.collections[name]
	switch {
	case removal && !exists:
		s.removed[name] = struct{}{}
	case !removal && exists:
		s.dirty[name] = struct{}{}
	}
}

// Start launches the background loop that flushes every PersistInterval. It
// is a no-op when the interval is zero.
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
			_ = s.Flush() // logged by Flush
		}
	}
}

// Close stops the background loop and flushes pending collections.
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

// Pending lists collections with unsaved changes, sorted.
func (s *Store) Pending() []string {
	s.mu.Lock()
	defer s.mu.Unlock()

	names := make([]string, 0, len(s.dirty)+len(s.removed))
	for name := range s.dirty {
		names = append(names, name)
	}
	for name := range s.removed {
		if _, dup := s.dirty[name]; !dup {
			names = append(names, name)
		}
	}
	slices.Sort(names)
	return names
}
