package cli

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/qs3c/anal_data_server/internal/bootstrap"
	"github.com/qs3c/anal_data_server/internal/database"
	"github.com/qs3c/anal_data_server/internal/model"
	"github.com/qs3c/anal_data_server/internal/pipeline"
	"github.com/qs3c/anal_data_server/internal/repository"
	"github.com/qs3c/anal_data_server/internal/service"
)

func newAnalyzeCmd(opts *options) *cobra.Command {
	var (
		dbPath string
		mock   bool
	)
	cmd := &cobra.Command{
		Use:   "analyze <file>",
		Short: "Run the full analysis pipeline on a local file",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := opts.cfg
			cfg.Database.Driver = "sqlite"
			cfg.Database.Database = dbPath
			if mock {
				cfg.LLM.MockFallback = true
			}

			db, err := database.Open(&cfg.Database)
			if err != nil {
				return err
			}
			if err := database.Migrate(db); err != nil {
				return err
			}

			f, err := os.Open(args[0])
			if err != nil {
				return err
			}
			defer f.Close()
			info, err := f.Stat()
			if err != nil {
				return err
			}

			datasetRepo := repository.NewDatasetRepository(db)
			datasets := service.NewDatasetService(datasetRepo, bootstrap.Loader(cfg), cfg)
			dataset, err := datasets.Upload(cmd.Context(), filepath.Base(args[0]), f, info.Size())
			if err != nil {
				return err
			}

			analysis := &model.Analysis{DatasetID: dataset.ID, Status: model.AnalysisStatusPending}
			if err := repository.NewAnalysisRepository(db).Create(analysis); err != nil {
				return err
			}

			errOut := cmd.ErrOrStderr()
			orchestrator := bootstrap.Orchestrator(cfg, db, bootstrap.Artifacts(cfg))
			orchestrator.OnProgress(func(_ context.Context, p pipeline.Progress) {
				if p.Error != "" {
					fmt.Fprintf(errOut, "✗ %s: %s\n", p.Stage, p.Error)
					return
				}
				fmt.Fprintf(errOut, "• %s %s\n", p.Stage, p.Status)
			})

			state, err := orchestrator.Run(cmd.Context(), analysis.ID)
			if err != nil {
				return err
			}
			fmt.Fprintf(errOut, "✓ dataset %d analysis %d (version %d)\n", dataset.ID, analysis.ID, state.Version)
			return printJSON(cmd.OutOrStdout(), state)
		},
	}
	cmd.Flags().StringVar(&dbPath, "db", "datalens.db", "sqlite database path")
	cmd.Flags().BoolVar(&mock, "mock", false, "use template insights when no LLM key is configured")
	return cmd
}
