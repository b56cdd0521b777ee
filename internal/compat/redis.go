// Package compat exposes the embedded stores through the call shapes of the
// services they replace: a Redis command dispatcher and a Chroma-style
// client. Every call takes a context and runs on a shared Executor.
package compat

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/jeanpaul/companionstore/internal/cache"
)

var (
	// ErrSyntax reports a malformed command. Its text mirrors the Redis error.
	ErrSyntax = errors.New("ERR syntax error")
	// ErrUnknownCommand reports a command the dispatcher does not implement.
	ErrUnknownCommand = errors.New("ERR unknown command")
)

// Redis dispatches Redis commands to a cache store. Replies use the types a
// Redis client decodes to: "OK" and other status strings, nil for an absent
// bulk string, int64 for integers, []string for arrays and map[string]string
// for HGETALL.
type Redis struct {
	store *cache.Store
	exec  *Executor
}

func NewRedis(store *cache.Store, exec *Executor) *Redis {
	if exec == nil {
		exec = NewExecutor(0)
	}
	return &Redis{store: store, exec: exec}
}

type command struct {
	minArgs int // including the command name
	maxArgs int // -1 for variadic
	// pairs requires the arguments after the key to come in field/value pairs
	pairs bool
	run   func(s *cache.Store, args []string) (any, error)
}

var commands = map[string]command{
	"PING":     {1, 2, false, cmdPing},
	"SET":      {3, 5, false, cmdSet},
	"GET":      {2, 2, false, cmdGet},
	"DEL":      {2, -1, false, cmdDel},
	"EXISTS":   {2, -1, false, cmdExists},
	"EXPIRE":   {3, 3, false, cmdExpire},
	"TTL":      {2, 2, false, cmdTTL},
	"LPUSH":    {3, -1, false, cmdLPush},
	"RPUSH":    {3, -1, false, cmdRPush},
	"LLEN":     {2, 2, false, cmdLLen},
	"LRANGE":   {4, 4, false, cmdLRange},
	"LTRIM":    {4, 4, false, cmdLTrim},
	"HSET":     {4, -1, true, cmdHSet},
	"HGET":     {3, 3, false, cmdHGet},
	"HGETALL":  {2, 2, false, cmdHGetAll},
	"HDEL":     {3, -1, false, cmdHDel},
	"FLUSHALL": {1, 2, false, cmdFlushAll},
	"KEYS":     {2, 2, false, cmdKeys},
	"INFO":     {1, 2, false, cmdInfo},
}

// Do runs one command. Command names are case-insensitive.
func (r *Redis) Do(ctx context.Context, args ...string) (any, error) {
	if len(args) == 0 {
		return nil, fmt.Errorf("%w: empty command", ErrSyntax)
	}
	name := strings.ToUpper(args[0])
	cmd, ok := commands[name]
	if !ok {
		return nil, fmt.Errorf("%w '%s'", ErrUnknownCommand, args[0])
	}
	if len(args) < cmd.minArgs || (cmd.maxArgs >= 0 && len(args) > cmd.maxArgs) ||
		(cmd.pairs && (len(args)-2)%2 != 0) {
		return nil, fmt.Errorf("%w: wrong number of arguments for '%s' command", ErrSyntax, strings.ToLower(name))
	}
	return run(ctx, r.exec, func() (any, error) {
		return cmd.run(r.store, args)
	})
}

// Pipeline runs the commands in order and returns one reply and one error per
// command. It stops early only when ctx ends.
func (r *Redis) Pipeline(ctx context.Context, cmds ...[]string) ([]any, []error) {
	replies := make([]any, len(cmds))
	errs := make([]error, len(cmds))
	for i, c := range cmds {
		if err := ctx.Err(); err != nil {
			for j := i; j < len(cmds); j++ {
				errs[j] = err
			}
			break
		}
		replies[i], errs[i] = r.Do(ctx, c...)
	}
	return replies, errs
}

func parseInt(s string) (int, error) {
	n, err := strconv.Atoi(s)
	if err != nil {
		return 0, fmt.Errorf("%w: value is not an integer or out of range", ErrSyntax)
	}
	return n, nil
}

func cmdPing(_ *cache.Store, args []string) (any, error) {
	if len(args) == 2 {
		return args[1], nil
	}
	return "PONG", nil
}

// cmdSet handles SET key value [EX seconds | PX milliseconds]. Without an
// expiry the store's default TTL applies.
func cmdSet(s *cache.Store, args []string) (any, error) {
	var ttl time.Duration
	if len(args) > 3 {
		if len(args) != 5 {
			return nil, ErrSyntax
		}
		n, err := parseInt(args[4])
		if err != nil {
			return nil, err
		}
		if n <= 0 {
			return nil, fmt.Errorf("%w: invalid expire time in 'set' command", ErrSyntax)
		}
		switch strings.ToUpper(args[3]) {
		case "EX":
			ttl = time.Duration(n) * time.Second
		case "PX":
			ttl = time.Duration(n) * time.Millisecond
		default:
			return nil, ErrSyntax
		}
	}
	s.Set(args[1], args[2], ttl)
	return "OK", nil
}

// cmdGet returns nil for absent keys and for keys holding a list or hash.
func cmdGet(s *cache.Store, args []string) (any, error) {
	v, ok := s.GetString(args[1])
	if !ok {
		return nil, nil
	}
	return v, nil
}

func cmdDel(s *cache.Store, args []string) (any, error) {
	var n int64
	for _, key := range args[1:] {
		n += int64(s.Delete(key))
	}
	return n, nil
}

func cmdExists(s *cache.Store, args []string) (any, error) {
	var n int64
	for _, key := range args[1:] {
		if s.Exists(key) {
			n++
		}
	}
	return n, nil
}

func cmdExpire(s *cache.Store, args []string) (any, error) {
	n, err := parseInt(args[2])
	if err != nil {
		return nil, err
	}
	if n <= 0 {
		return int64(s.Delete(args[1])), nil
	}
	if s.Expire(args[1], time.Duration(n)*time.Second) {
		return int64(1), nil
	}
	return int64(0), nil
}

// cmdTTL replies -2 for absent keys and -1 for keys without expiry.
func cmdTTL(s *cache.Store, args []string) (any, error) {
	d, ok := s.TTL(args[1])
	switch {
	case !ok:
		return int64(-2), nil
	case d == cache.NoTTL:
		return int64(-1), nil
	default:
		return int64((d + time.Second - 1) / time.Second), nil
	}
}

func cmdLPush(s *cache.Store, args []string) (any, error) {
	return int64(s.LPush(args[1], args[2:]...)), nil
}

func cmdRPush(s *cache.Store, args []string) (any, error) {
	return int64(s.RPush(args[1], args[2:]...)), nil
}

func cmdLLen(s *cache.Store, args []string) (any, error) {
	return int64(s.LLen(args[1])), nil
}

func rangeArgs(args []string) (int, int, error) {
	start, err := parseInt(args[2])
	if err != nil {
		return 0, 0, err
	}
	stop, err := parseInt(args[3])
	if err != nil {
		return 0, 0, err
	}
	return start, stop, nil
}

func cmdLRange(s *cache.Store, args []string) (any, error) {
	start, stop, err := rangeArgs(args)
	if err != nil {
		return nil, err
	}
	return s.LRange(args[1], start, stop), nil
}

func cmdLTrim(s *cache.Store, args []string) (any, error) {
	start, stop, err := rangeArgs(args)
	if err != nil {
		return nil, err
	}
	s.LTrim(args[1], start, stop)
	return "OK", nil
}

// cmdHSet handles HSET key field value [field value ...] and replies with the
// number of fields added.
func cmdHSet(s *cache.Store, args []string) (any, error) {
	var added int64
	for i := 2; i+1 < len(args); i += 2 {
		added += int64(s.HSet(args[1], args[i], args[i+1]))
	}
	return added, nil
}

func cmdHGet(s *cache.Store, args []string) (any, error) {
	v, ok := s.HGet(args[1], args[2])
	if !ok {
		return nil, nil
	}
	return v, nil
}

func cmdHGetAll(s *cache.Store, args []string) (any, error) {
	return s.HGetAll(args[1]), nil
}

func cmdHDel(s *cache.Store, args []string) (any, error) {
	return int64(s.HDel(args[1], args[2:]...)), nil
}

// cmdFlushAll accepts the ASYNC and SYNC modifiers; both flush immediately.
func cmdFlushAll(s *cache.Store, args []string) (any, error) {
	if len(args) == 2 {
		switch strings.ToUpper(args[1]) {
		case "ASYNC", "SYNC":
		default:
			return nil, ErrSyntax
		}
	}
	s.FlushAll()
	return "OK", nil
}

func cmdKeys(s *cache.Store, args []string) (any, error) {
	return s.Keys(args[1]), nil
}

// cmdInfo renders the store summary in the INFO text format. The optional
// section argument is accepted and ignored.
func cmdInfo(s *cache.Store, _ []string) (any, error) {
	info := s.Info()
	var b strings.Builder
	b.WriteString("# Server\r\n")
	b.WriteString("redis_mode:embedded\r\n")
	b.WriteString("# Memory\r\n")
	fmt.Fprintf(&b, "used_memory:%d\r\n", info.EstimatedBytes)
	b.WriteString("# Keyspace\r\n")
	fmt.Fprintf(&b, "db0:keys=%d,expires_pending=%d\r\n", info.TotalKeys, info.ExpiredPending)
	fmt.Fprintf(&b, "default_ttl_seconds:%d\r\n", int64(info.TTLConfig/time.Second))
	return b.String(), nil
}
