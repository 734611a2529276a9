package cli

import (
	"fmt"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"

	"github.com/qs3c/anal_data_server/internal/bootstrap"
	"github.com/qs3c/anal_data_server/internal/cleaner"
	"github.com/qs3c/anal_data_server/internal/sqlgen"
	"github.com/qs3c/anal_data_server/internal/translator"
)

func newAskCmd(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "ask <file> <question>",
		Short: "Translate a question about a local file to SQL",
		Args:  cobra.MinimumNArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := opts.cfg
			question := strings.TrimSpace(strings.Join(args[1:], " "))
			if question == "" {
				return fmt.Errorf("question must not be empty")
			}

			raw, err := bootstrap.Loader(cfg).Load(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			cleaned, _, err := cleaner.Clean(raw)
			if err != nil {
				return err
			}
			summary, err := bootstrap.Summarizer(cfg).Summarize(cleaned)
			if err != nil {
				return err
			}

			schema := translator.NewSchema(sqlgen.TableNameFor(filepath.Base(args[0])), raw.Schema())
			answer, err := bootstrap.Translator(cfg).Translate(schema, summary, question)
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), answer)
		},
	}
}
