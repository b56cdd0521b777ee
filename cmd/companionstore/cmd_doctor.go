package main

import (
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/jeanpaul/companionstore/internal/config"
	"github.com/jeanpaul/companionstore/internal/health"
	"github.com/jeanpaul/companionstore/internal/tui"
)

func (a *app) initCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "init",
		Short: "Write a default companionstore.yaml",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			path := a.configPath
			if path == "" {
				path = "companionstore.yaml"
			}
			if err := config.WriteDefault(path); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), tui.OKStyle.Render("✓ wrote "+path))
			return nil
		},
	}
}

func (a *app) doctorCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "doctor",
		Short: "Check that the storage directory and both stores work",
		Args:  cobra.NoArgs,
		RunE: a.withSession(func(ctx context.Context, cmd *cobra.Command, s *session, args []string) error {
			out := cmd.OutOrStdout()
			fmt.Fprintln(out, tui.BannerStyle.Render("  Store Health Check"))
			fmt.Fprintln(out)

			statuses := health.Check(ctx, health.Targets{
				Storage: s.pm,
				Redis:   s.redis,
				Chroma:  s.chroma,
			})
			for _, st := range statuses {
				detail := strings.Join(st.Details, ", ")
				if !st.Healthy {
					detail = st.Error
				}
				fmt.Fprintln(out, tui.Check(st.Component, st.Healthy, detail, st.Latency))
			}

			configFile := a.configPath
			if configFile == "" {
				configFile = config.Path()
				if _, err := os.Stat("companionstore.yaml"); err == nil {
					configFile = "companionstore.yaml"
				}
			}
			_, statErr := os.Stat(configFile)
			if statErr == nil {
				fmt.Fprintln(out, tui.Check("config", true, configFile, 0))
			} else {
				fmt.Fprintln(out, tui.HelpStyle.Render("  - config: no file, using defaults (run `companionstore init`)"))
			}
			fmt.Fprintln(out, tui.HelpStyle.Render(fmt.Sprintf("  workers: %d", s.exec.Size())))

			if !health.Healthy(statuses) {
				return fmt.Errorf("health check failed")
			}
			return nil
		}),
	}
}
