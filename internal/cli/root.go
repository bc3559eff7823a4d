package cli

import (
	"context"
	"io"

	"recipe-extractor/internal/app"
	"recipe-extractor/internal/infrastructure/config"
	"recipe-extractor/internal/pkg/common"

	"github.com/goccy/go-json"
	"github.com/spf13/cobra"
)

var (
	logLevel string
	pretty   bool
)

// rootCmd recipectl 根命令
var rootCmd = &cobra.Command{
	Use:   "recipectl",
	Short: "Extract structured recipes from social media posts",
	Long: `recipectl runs the recipe extraction pipeline from the command line.

Settings come from the same environment variables and .env file as the API
server. Results are written to stdout as JSON; progress goes to stderr.`,
	SilenceErrors: true,
	SilenceUsage:  true,
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		common.InitStderrLogger(logLevel)
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		common.Sync()
	},
}

// Execute 執行根命令
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "warn", "log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().BoolVar(&pretty, "pretty", false, "indent JSON output")
}

// newApp 載入設定並組裝服務；測試時可替換
var newApp = func(ctx context.Context) (*app.App, error) {
	cfg, err := config.LoadConfig()
	if err != nil {
		return nil, err
	}
	return app.New(ctx, cfg)
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	if pretty {
		enc.SetIndent("", "  ")
	}
	return enc.Encode(v)
}
