package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/ivlev/dance2video/internal/workspace"
)

func newRunsCommand(ctx *commandContext) *cobra.Command {
	runsCmd := &cobra.Command{
		Use:   "runs",
		Short: "Каталоги запусков",
	}
	runsCmd.AddCommand(newRunsListCommand(ctx))
	runsCmd.AddCommand(newRunsReapCommand(ctx))
	return runsCmd
}

func newRunsListCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "Список запусков",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.ensureConfig(cmd.Flags())
			if err != nil {
				return err
			}
			runs, err := workspace.List(cfg.Workspace.Root)
			if err != nil {
				return fmt.Errorf("list runs: %w", err)
			}
			if len(runs) == 0 {
				fmt.Fprintln(cmd.OutOrStdout(), "Запусков нет")
				return nil
			}
			fmt.Fprintln(cmd.OutOrStdout(), renderRuns(runs))
			return nil
		},
	}
}

func renderRuns(runs []workspace.RunInfo) string {
	rows := make([][]string, 0, len(runs))
	for _, r := range runs {
		status, stage, video := "unknown", "", ""
		if m := r.Manifest; m != nil {
			status, stage, video = string(m.Status), m.Stage, m.VideoPath
			if m.PublicURL != "" {
				video = m.PublicURL
			}
		}
		rows = append(rows, []string{r.ID, r.Created().Format("2006-01-02 15:04:05"), status, stage, video})
	}
	return renderTable(
		[]string{"ID", "Created", "Status", "Stage", "Video"},
		rows,
		nil,
	)
}

func newRunsReapCommand(ctx *commandContext) *cobra.Command {
	var olderThan time.Duration
	cmd := &cobra.Command{
		Use:   "reap",
		Short: "Удалить старые каталоги запусков",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.ensureConfig(cmd.Flags())
			if err != nil {
				return err
			}
			removed, err := workspace.Reap(cfg.Workspace.Root, olderThan, time.Now())
			for _, dir := range removed {
				fmt.Fprintf(cmd.OutOrStdout(), "[-] %s\n", dir)
			}
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "[*] Удалено запусков: %d\n", len(removed))
			return nil
		},
	}
	cmd.Flags().DurationVar(&olderThan, "older-than", 24*time.Hour, "Удалять запуски старше")
	return cmd
}
