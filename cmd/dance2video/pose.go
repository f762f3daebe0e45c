package main

import (
	"fmt"
	"math"
	"path/filepath"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/ivlev/dance2video/internal/pose"
)

func newPoseCommand(ctx *commandContext) *cobra.Command {
	poseCmd := &cobra.Command{
		Use:   "pose",
		Short: "Файлы поз",
	}
	poseCmd.AddCommand(newPoseInspectCommand(ctx))
	poseCmd.AddCommand(newPoseConvertCommand())
	return poseCmd
}

func newPoseInspectCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "inspect <pose-file>",
		Short: "Число кадров, длительность и наличие смещений",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.ensureConfig(cmd.Flags())
			if err != nil {
				return err
			}
			seq, err := pose.Load(args[0])
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), describeSequence(filepath.Base(args[0]), seq, cfg.Render.FPS))
			return nil
		},
	}
}

func describeSequence(name string, seq *pose.Sequence, fps int) string {
	var maxShift float64
	first := seq.Translations[0]
	for _, t := range seq.Translations {
		dx, dy, dz := t[0]-first[0], t[1]-first[1], t[2]-first[2]
		maxShift = math.Max(maxShift, math.Sqrt(dx*dx+dy*dy+dz*dz))
	}

	translations := "нет (нули)"
	if seq.HadTranslations {
		translations = "есть"
	}
	rows := [][]string{
		{"Файл", name},
		{"Кадры", strconv.Itoa(seq.Len())},
		{"Длительность", fmt.Sprintf("%.2fs @ %dfps", float64(seq.Len())/float64(fps), fps)},
		{"Смещения", translations},
		{"Макс. смещение корня", fmt.Sprintf("%.3f", maxShift)},
	}
	return renderTable([]string{"", ""}, rows, []columnAlignment{alignLeft, alignRight})
}

func newPoseConvertCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "convert <in> <out.yaml|out.json>",
		Short: "Перекодировать файл поз",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			seq, err := pose.Load(args[0])
			if err != nil {
				return err
			}
			if err := pose.Save(args[1], seq); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "[+++] %s -> %s (%d кадров)\n", args[0], args[1], seq.Len())
			return nil
		},
	}
}
