package cli

import (
	"fmt"
	"os"

	"recipe-extractor/internal/pkg/common"

	"github.com/spf13/cobra"
)

// evidenceCmd 以已存的證據檔執行各層
var evidenceCmd = &cobra.Command{
	Use:   "evidence <file>",
	Short: "Run the extraction tiers on a saved evidence bundle",
	Long: `Evidence reads an evidence bundle (JSON, as returned by the scraper
normalization step) and runs the tiers on it without fetching the post,
checking the cache, or charging usage.`,
	Args: cobra.ExactArgs(1),
	RunE: runEvidence,
}

func init() {
	rootCmd.AddCommand(evidenceCmd)
}

func runEvidence(cmd *cobra.Command, args []string) error {
	b, err := readBundle(args[0])
	if err != nil {
		return err
	}

	ctx := cmd.Context()
	a, err := newApp(ctx)
	if err != nil {
		return err
	}
	defer a.Close()

	res, err := a.Pipeline.ExtractFromEvidence(ctx, b)
	if err != nil {
		return err
	}
	return writeJSON(cmd.OutOrStdout(), res)
}

func readBundle(path string) (*common.EvidenceBundle, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read evidence file: %w", err)
	}
	var b common.EvidenceBundle
	if err := common.ParseJSONBytes(data, &b); err != nil {
		return nil, fmt.Errorf("parse evidence file: %w", err)
	}
	if b.SourceURL == "" {
		return nil, fmt.Errorf("evidence file %s has no sourceUrl", path)
	}
	return &b, nil
}
