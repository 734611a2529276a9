// Package cli datalens 命令行：本地分析数据集、提问以及观察服务端进度
package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/qs3c/anal_data_server/config"
)

type options struct {
	configPath string
	cfg        *config.Config
}

// Execute 命令行入口
func Execute() {
	if err := NewRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "✗ Error:", err)
		os.Exit(1)
	}
}

func NewRootCmd() *cobra.Command {
	opts := &options{}
	root := &cobra.Command{
		Use:           "datalens",
		Short:         "Analyze tabular datasets and translate questions to SQL",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := opts.load()
			if err != nil {
				return err
			}
			opts.cfg = cfg
			return nil
		},
	}
	root.PersistentFlags().StringVar(&opts.configPath, "config", "", "config file (defaults are used when empty)")

	root.AddCommand(newAnalyzeCmd(opts), newAskCmd(opts), newWatchCmd(opts))
	return root
}

// load 读取配置文件；未指定时使用默认配置
func (o *options) load() (*config.Config, error) {
	if o.configPath == "" {
		cfg := &config.Config{}
		cfg.ApplyDefaults()
		return cfg, nil
	}
	cfg, err := config.Load(o.configPath)
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	return cfg, nil
}

func printJSON(w io.Writer, v interface{}) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
