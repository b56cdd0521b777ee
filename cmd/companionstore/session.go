package main

import (
	"context"
	"errors"
	"fmt"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/jeanpaul/companionstore/internal/cache"
	"github.com/jeanpaul/companionstore/internal/compat"
	"github.com/jeanpaul/companionstore/internal/persist"
	"github.com/jeanpaul/companionstore/internal/vector"
)

// session is one opened storage directory.
type session struct {
	pm     *persist.Manager
	cache  *cache.Store
	vector *vector.Store
	redis  *compat.Redis
	chroma *compat.Chroma
	exec   *compat.Executor
}

func (a *app) open() (*session, error) {
	log := a.logger
	if log == nil {
		log = zap.NewNop()
	}
	pm, err := persist.NewManager(a.cfg.StorageDirectory,
		persist.WithCodec(a.cfg.Codec()),
		persist.WithLogger(log.Named("persist")))
	if err != nil {
		return nil, fmt.Errorf("open storage: %w", err)
	}

	cs, err := cache.Open(pm, cache.Options{
		DefaultTTL:      a.cfg.DefaultTTL(),
		PersistInterval: a.cfg.PersistInterval(),
		Logger:          log.Named("cache"),
	})
	if err != nil {
		return nil, fmt.Errorf("open cache: %w", err)
	}
	vs, err := vector.Open(pm, vector.Options{
		EmbeddingDim:    a.cfg.EmbeddingDim,
		PersistInterval: a.cfg.PersistInterval(),
		Logger:          log.Named("vector"),
	})
	if err != nil {
		return nil, fmt.Errorf("open vector store: %w", err)
	}
	cs.Start()
	vs.Start()

	exec := compat.NewExecutor(a.cfg.WorkerPoolSize)
	return &session{
		pm:     pm,
		cache:  cs,
		vector: vs,
		redis:  compat.NewRedis(cs, exec),
		chroma: compat.NewChroma(vs, exec),
		exec:   exec,
	}, nil
}

// Close stops the flush loops and persists both stores.
func (s *session) Close() error {
	return errors.Join(s.cache.Close(), s.vector.Close())
}

type sessionFunc func(ctx context.Context, cmd *cobra.Command, s *session, args []string) error

// withSession opens the storage directory around fn and persists on the way
// out, whatever fn returns.
func (a *app) withSession(fn sessionFunc) func(*cobra.Command, []string) error {
	return func(cmd *cobra.Command, args []string) (err error) {
		s, err := a.open()
		if err != nil {
			return err
		}
		defer func() { err = errors.Join(err, s.Close()) }()
		return fn(cmd.Context(), cmd, s, args)
	}
}
