package cli

import (
	"context"
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/qs3c/anal_data_server/internal/database"
	"github.com/qs3c/anal_data_server/internal/pipeline"
	"github.com/qs3c/anal_data_server/internal/pkg/pubsub"
)

func newWatchCmd(opts *options) *cobra.Command {
	var analysisID int64
	cmd := &cobra.Command{
		Use:   "watch",
		Short: "Stream analysis progress published by workers",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			rdb, err := database.NewRedis(&opts.cfg.Redis)
			if err != nil {
				return err
			}
			defer rdb.Close()

			ctx, cancel := context.WithCancel(cmd.Context())
			defer cancel()

			out := cmd.OutOrStdout()
			err = pubsub.NewSubscriber(rdb).Subscribe(ctx, func(msg *pubsub.ProgressMessage) {
				if analysisID > 0 && msg.AnalysisID != analysisID {
					return
				}
				fmt.Fprintln(out, formatProgress(msg))
				// 只关注单个分析时，终态后退出
				if analysisID > 0 && msg.Status != pipeline.StatusProcessing {
					cancel()
				}
			})
			if errors.Is(err, context.Canceled) {
				return nil
			}
			return err
		},
	}
	cmd.Flags().Int64Var(&analysisID, "analysis", 0, "only show progress of this analysis")
	return cmd
}

func formatProgress(msg *pubsub.ProgressMessage) string {
	line := fmt.Sprintf("analysis %d [job %d] %3d%% %-14s %s", msg.AnalysisID, msg.JobID, msg.Progress, msg.Step, msg.Status)
	if msg.Message != "" {
		line += " · " + msg.Message
	}
	if msg.Error != "" {
		line += " · " + msg.Error
	}
	return line
}
