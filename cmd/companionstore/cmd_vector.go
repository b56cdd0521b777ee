package main

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/jeanpaul/companionstore/internal/compat"
	"github.com/jeanpaul/companionstore/internal/tui"
)

func (a *app) collectionsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "collections",
		Short: "List collections with their document counts",
		Args:  cobra.NoArgs,
		RunE: a.withSession(func(ctx context.Context, cmd *cobra.Command, s *session, args []string) error {
			cols, err := s.chroma.ListCollections(ctx)
			if err != nil {
				return err
			}
			for _, c := range cols {
				n, err := c.Count(ctx)
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "%s %s\n",
					tui.KeyStyle.Render(c.Name),
					tui.MutedStyle.Render(fmt.Sprintf("(%d documents)", n)))
			}
			return nil
		}),
	}
}

func (a *app) collectionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "collection <name>",
		Short: "Describe one collection",
		Args:  cobra.ExactArgs(1),
		RunE: a.withSession(func(ctx context.Context, cmd *cobra.Command, s *session, args []string) error {
			c, err := s.chroma.GetCollection(ctx, args[0])
			if err != nil {
				return err
			}
			n, err := c.Count(ctx)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			fmt.Fprintln(out, tui.Heading(c.Name))
			fmt.Fprint(out, tui.Fields(
				[2]string{"id", c.ID},
				[2]string{"created", c.CreatedAt.Format(time.RFC3339)},
				[2]string{"documents", strconv.Itoa(n)},
			))
			if len(c.Metadata) > 0 {
				fmt.Fprintln(out, tui.LabelStyle.Render("  metadata:"))
				fmt.Fprint(out, tui.Map(stringify(c.Metadata)))
			}
			return nil
		}),
	}
}

func (a *app) docsCmd() *cobra.Command {
	var (
		where  string
		limit  int
		offset int
	)
	cmd := &cobra.Command{
		Use:   "docs <collection> [id...]",
		Short: "List documents, optionally by id or where filter",
		Example: `  companionstore docs memories --where '{"user_id": "u42"}' --limit 5
  companionstore docs memories --where '{"topic": {"$in": ["marine", "space"]}}'`,
		Args: cobra.MinimumNArgs(1),
		RunE: a.withSession(func(ctx context.Context, cmd *cobra.Command, s *session, args []string) error {
			var filter map[string]any
			if where != "" {
				if err := json.Unmarshal([]byte(where), &filter); err != nil {
					return fmt.Errorf("--where is not a JSON object: %w", err)
				}
			}
			var ids []string
			if len(args) > 1 {
				ids = args[1:]
			}

			c, err := s.chroma.GetCollection(ctx, args[0])
			if err != nil {
				return err
			}
			res, err := c.Get(ctx, compat.GetRequest{IDs: ids, Where: filter, Limit: limit, Offset: offset})
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			for i, id := range res.IDs {
				var body strings.Builder
				body.WriteString(tui.KeyStyle.Render(id) + "\n")
				body.WriteString(tui.ValueStyle.Render(tui.Truncate(res.Documents[i], 200)))
				if md := res.Metadatas[i]; len(md) > 0 {
					body.WriteString("\n" + strings.TrimRight(tui.Map(stringify(md)), "\n"))
				}
				fmt.Fprintln(out, tui.DocumentStyle.Render(body.String()))
			}
			fmt.Fprintln(out, tui.HelpStyle.Render(fmt.Sprintf("%d documents", len(res.IDs))))
			return nil
		}),
	}
	cmd.Flags().StringVar(&where, "where", "", "Chroma-style where filter as JSON")
	cmd.Flags().IntVar(&limit, "limit", 20, "Maximum documents to show (0 for all)")
	cmd.Flags().IntVar(&offset, "offset", 0, "Documents to skip")
	return cmd
}

func (a *app) queryCmd() *cobra.Command {
	var (
		embedding string
		n         int
		where     string
	)
	cmd := &cobra.Command{
		Use:   "query <collection>",
		Short: "Rank documents by cosine similarity to an embedding",
		Example: `  companionstore query memories --embedding '[0.1, 0.9, 0]' --n 3
  companionstore query memories --embedding '[1, 0, 0]' --where '{"user_id": "u42"}'`,
		Args: cobra.ExactArgs(1),
		RunE: a.withSession(func(ctx context.Context, cmd *cobra.Command, s *session, args []string) error {
			var vec []float32
			if err := json.Unmarshal([]byte(embedding), &vec); err != nil {
				return fmt.Errorf("--embedding is not a JSON number array: %w", err)
			}
			var filter map[string]any
			if where != "" {
				if err := json.Unmarshal([]byte(where), &filter); err != nil {
					return fmt.Errorf("--where is not a JSON object: %w", err)
				}
			}

			c, err := s.chroma.GetCollection(ctx, args[0])
			if err != nil {
				return err
			}
			res, err := c.Query(ctx, compat.QueryRequest{
				QueryEmbeddings: [][]float32{vec},
				NResults:        n,
				Where:           filter,
			})
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			for i, id := range res.IDs[0] {
				sim := 1 - res.Distances[0][i]
				fmt.Fprintf(out, "%s %s %s  %s\n",
					tui.Bar(sim, 20),
					tui.ValueStyle.Render(strconv.FormatFloat(sim, 'f', 3, 64)),
					tui.KeyStyle.Render(id),
					tui.MutedStyle.Render(tui.Truncate(res.Documents[0][i], 60)))
			}
			fmt.Fprintln(out, tui.HelpStyle.Render(fmt.Sprintf("%d matches", len(res.IDs[0]))))
			return nil
		}),
	}
	cmd.Flags().StringVarP(&embedding, "embedding", "e", "", "Query embedding as a JSON array")
	cmd.Flags().IntVar(&n, "n", 10, "Number of results")
	cmd.Flags().StringVar(&where, "where", "", "Chroma-style where filter as JSON")
	_ = cmd.MarkFlagRequired("embedding")
	return cmd
}

func (a *app) dropCmd() *cobra.Command {
	var yes bool
	cmd := &cobra.Command{
		Use:   "drop <collection>",
		Short: "Delete a collection and its file",
		Args:  cobra.ExactArgs(1),
		RunE: a.withSession(func(ctx context.Context, cmd *cobra.Command, s *session, args []string) error {
			if !yes {
				return fmt.Errorf("refusing to drop %q without --yes", args[0])
			}
			if err := s.chroma.DeleteCollection(ctx, args[0]); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), tui.WarningStyle.Render("dropped "+args[0]))
			return nil
		}),
	}
	cmd.Flags().BoolVarP(&yes, "yes", "y", false, "Confirm the drop")
	return cmd
}

// stringify renders metadata values for display; lists are comma-joined.
func stringify(md map[string]any) map[string]string {
	out := make(map[string]string, len(md))
	for k, v := range md {
		switch t := v.(type) {
		case []string:
			out[k] = strings.Join(t, ", ")
		case float64:
			out[k] = strconv.FormatFloat(t, 'g', -1, 64)
		default:
			out[k] = fmt.Sprint(v)
		}
	}
	return out
}
