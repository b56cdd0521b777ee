package main

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/spf13/cobra"

	"github.com/jeanpaul/companionstore/internal/cache"
	"github.com/jeanpaul/companionstore/internal/tui"
)

func (a *app) infoCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "info",
		Short: "Summarise the cache and the vector store",
		Args:  cobra.NoArgs,
		RunE: a.withSession(func(ctx context.Context, cmd *cobra.Command, s *session, args []string) error {
			out := cmd.OutOrStdout()
			info := s.cache.Info()
			ttl := "none"
			if info.TTLConfig > 0 {
				ttl = info.TTLConfig.String()
			}
			fmt.Fprintln(out, tui.Heading("Cache"))
			fmt.Fprint(out, tui.Fields(
				[2]string{"keys", strconv.Itoa(info.TotalKeys)},
				[2]string{"expired pending", strconv.Itoa(info.ExpiredPending)},
				[2]string{"estimated bytes", strconv.Itoa(info.EstimatedBytes)},
				[2]string{"default ttl", ttl},
			))

			cols, err := s.chroma.ListCollections(ctx)
			if err != nil {
				return err
			}
			docs := 0
			for _, c := range cols {
				n, err := c.Count(ctx)
				if err != nil {
					return err
				}
				docs += n
			}
			fmt.Fprintln(out)
			fmt.Fprintln(out, tui.Heading("Vector store"))
			fmt.Fprint(out, tui.Fields(
				[2]string{"collections", strconv.Itoa(len(cols))},
				[2]string{"documents", strconv.Itoa(docs)},
				[2]string{"embedding dim", strconv.Itoa(s.vector.Dim())},
			))

			fmt.Fprintln(out)
			fmt.Fprintln(out, tui.Heading("Storage"))
			fmt.Fprint(out, tui.Fields(
				[2]string{"directory", s.pm.Dir()},
				[2]string{"format", s.pm.Extension()},
				[2]string{"max list length", strconv.Itoa(a.cfg.MaxListLength)},
			))
			return nil
		}),
	}
}

func (a *app) keysCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "keys [pattern]",
		Short: "List live keys matching a glob (default *)",
		Args:  cobra.MaximumNArgs(1),
		RunE: a.withSession(func(ctx context.Context, cmd *cobra.Command, s *session, args []string) error {
			pattern := "*"
			if len(args) == 1 {
				pattern = args[0]
			}
			reply, err := s.redis.Do(ctx, "KEYS", pattern)
			if err != nil {
				return err
			}
			for _, key := range reply.([]string) {
				fmt.Fprintln(cmd.OutOrStdout(), tui.KeyStyle.Render(key))
			}
			return nil
		}),
	}
}

func (a *app) getCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "get <key>",
		Short: "Show the value stored at a key",
		Args:  cobra.ExactArgs(1),
		RunE: a.withSession(func(ctx context.Context, cmd *cobra.Command, s *session, args []string) error {
			out := cmd.OutOrStdout()
			key := args[0]
			v, ok := s.cache.Get(key)
			if !ok {
				return fmt.Errorf("key %q not found", key)
			}
			ttl, _ := s.cache.TTL(key)

			fmt.Fprintf(out, "%s %s %s\n",
				tui.KeyStyle.Render(key),
				tui.LabelStyle.Render(v.Kind().String()),
				tui.MutedStyle.Render(tui.TTL(ttl)))
			switch v.Kind() {
			case cache.KindScalar:
				fmt.Fprintln(out, tui.ValueStyle.Render(v.Str()))
			case cache.KindList:
				for i, item := range v.Items() {
					fmt.Fprintf(out, "%s %s\n", tui.MutedStyle.Render(fmt.Sprintf("%3d)", i)), tui.ValueStyle.Render(item))
				}
			case cache.KindHash:
				fmt.Fprint(out, tui.Map(v.Fields()))
			}
			return nil
		}),
	}
}

func (a *app) setCmd() *cobra.Command {
	var ttl time.Duration
	cmd := &cobra.Command{
		Use:   "set <key> <value>",
		Short: "Store a string value",
		Args:  cobra.ExactArgs(2),
		RunE: a.withSession(func(ctx context.Context, cmd *cobra.Command, s *session, args []string) error {
			if ttl < 0 {
				return fmt.Errorf("ttl must not be negative")
			}
			cmdArgs := []string{"SET", args[0], args[1]}
			if ttl > 0 {
				// PX takes whole milliseconds; round up so a short ttl stays positive
				ms := (ttl + time.Millisecond - 1) / time.Millisecond
				cmdArgs = append(cmdArgs, "PX", strconv.FormatInt(int64(ms), 10))
			}
			reply, err := s.redis.Do(ctx, cmdArgs...)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), tui.OKStyle.Render(fmt.Sprint(reply)))
			return nil
		}),
	}
	cmd.Flags().DurationVar(&ttl, "ttl", 0, "Expire the key after this duration (default: default_ttl_seconds)")
	return cmd
}

func (a *app) delCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "del <key>...",
		Short: "Delete keys",
		Args:  cobra.MinimumNArgs(1),
		RunE: a.withSession(func(ctx context.Context, cmd *cobra.Command, s *session, args []string) error {
			reply, err := s.redis.Do(ctx, append([]string{"DEL"}, args...)...)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%d deleted\n", reply.(int64))
			return nil
		}),
	}
}

func (a *app) sweepCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "sweep",
		Short: "Remove expired keys from the snapshot",
		Args:  cobra.NoArgs,
		RunE: a.withSession(func(ctx context.Context, cmd *cobra.Command, s *session, args []string) error {
			n := s.cache.Sweep() + s.cache.Dropped()
			fmt.Fprintf(cmd.OutOrStdout(), "%d expired keys removed\n", n)
			return nil
		}),
	}
}

func (a *app) flushAllCmd() *cobra.Command {
	var yes bool
	cmd := &cobra.Command{
		Use:   "flushall",
		Short: "Delete every cache key",
		Args:  cobra.NoArgs,
		RunE: a.withSession(func(ctx context.Context, cmd *cobra.Command, s *session, args []string) error {
			if !yes {
				return fmt.Errorf("refusing to flush without --yes")
			}
			if _, err := s.redis.Do(ctx, "FLUSHALL"); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), tui.WarningStyle.Render("cache flushed"))
			return nil
		}),
	}
	cmd.Flags().BoolVarP(&yes, "yes", "y", false, "Confirm the flush")
	return cmd
}
