package health

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jeanpaul/companionstore/internal/compat"
	"github.com/jeanpaul/companionstore/internal/persist"
)

type Status struct {
	Component string
	Target    string
	Healthy   bool
	Details   []string
	Error     string
	Latency   time.Duration
}

const probeUnit = ".doctor-probe"

// Targets are the handles Check inspects. Nil handles are skipped.
type Targets struct {
	Storage *persist.Manager
	Redis   *compat.Redis
	Chroma  *compat.Chroma
}

// Check runs every applicable check with a shared timeout.
func Check(ctx context.Context, t Targets) []Status {
	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	var out []Status
	if t.Storage != nil {
		out = append(out, CheckStorage(t.Storage))
	}
	if t.Redis != nil {
		out = append(out, CheckCache(ctx, t.Redis))
	}
	if t.Chroma != nil {
		out = append(out, CheckVector(ctx, t.Chroma))
	}
	return out
}

// CheckStorage verifies that the storage directory accepts an atomic write
// and reads it back.
func CheckStorage(pm *persist.Manager) (s Status) {
	s = Status{Component: "storage", Target: pm.Dir()}
	start := time.Now()
	defer func() { s.Latency = time.Since(start) }()

	probe := map[string]int64{"written_at": start.UnixNano()}
	if err := pm.Save(probeUnit, probe); err != nil {
		s.Error = fmt.Sprintf("cannot write to %s: %s", pm.Dir(), friendlyError(err))
		return s
	}
	defer func() { _ = pm.Remove(probeUnit) }()

	var back map[string]int64
	if err := pm.Load(probeUnit, &back); err != nil || back["written_at"] != probe["written_at"] {
		s.Error = "probe file did not read back"
		return s
	}

	s.Healthy = true
	s.Details = append(s.Details, "codec "+pm.Extension())
	if units, err := pm.List("collections"); err == nil {
		s.Details = append(s.Details, fmt.Sprintf("%d collection files", len(units)))
	}
	return s
}

// CheckCache pings the cache through the Redis adapter and reports its size.
func CheckCache(ctx context.Context, r *compat.Redis) (s Status) {
	s = Status{Component: "cache", Target: "redis adapter"}
	start := time.Now()
	defer func() { s.Latency = time.Since(start) }()

	reply, err := r.Do(ctx, "PING")
	if err != nil {
		s.Error = friendlyError(err)
		return s
	}
	if reply != "PONG" {
		s.Error = fmt.Sprintf("unexpected PING reply %v", reply)
		return s
	}
	s.Healthy = true
	if keys, err := r.Do(ctx, "KEYS", "*"); err == nil {
		if list, ok := keys.([]string); ok {
			s.Details = append(s.Details, fmt.Sprintf("%d keys", len(list)))
		}
	}
	return s
}

// CheckVector calls the heartbeat of the Chroma adapter and counts
// collections.
func CheckVector(ctx context.Context, c *compat.Chroma) (s Status) {
	s = Status{Component: "vector", Target: "chroma adapter"}
	start := time.Now()
	defer func() { s.Latency = time.Since(start) }()

	if _, err := c.Heartbeat(ctx); err != nil {
		s.Error = friendlyError(err)
		return s
	}
	cols, err := c.ListCollections(ctx)
	if err != nil {
		s.Error = friendlyError(err)
		return s
	}
	s.Healthy = true
	docs := 0
	for _, col := range cols {
		if n, err := col.Count(ctx); err == nil {
			docs += n
		}
	}
	s.Details = append(s.Details, fmt.Sprintf("%d collections, %d documents", len(cols), docs))
	return s
}

// Healthy reports whether every status is healthy.
func Healthy(statuses []Status) bool {
	for _, s := range statuses {
		if !s.Healthy {
			return false
		}
	}
	return true
}

func friendlyError(err error) string {
	if errors.Is(err, context.DeadlineExceeded) {
		return "timed out (store may be busy)"
	}
	msg := err.Error()
	if strings.Contains(msg, "permission denied") {
		return "permission denied (check directory ownership)"
	}
	if strings.Contains(msg, "read-only file system") {
		return "read-only file system"
	}
	if strings.Contains(msg, "no space left") {
		return "disk full"
	}
	return msg
}
