package cli

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"recipe-extractor/internal/pkg/common"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
)

var (
	parallel     int
	userID       string
	urlFile      string
	batchTimeout time.Duration
)

// extractCmd 擷取一或多個貼文網址
var extractCmd = &cobra.Command{
	Use:   "extract [url...]",
	Short: "Extract recipes from one or more post URLs",
	Long: `Extract runs the full pipeline for each URL and prints one JSON result
per line, in input order.

Example:
  recipectl extract https://www.instagram.com/reel/abc/
  recipectl extract --file urls.txt --parallel 4`,
	RunE: runExtract,
}

func init() {
	rootCmd.AddCommand(extractCmd)

	extractCmd.Flags().IntVar(&parallel, "parallel", 2, "number of URLs processed concurrently")
	extractCmd.Flags().StringVar(&userID, "user", "cli", "user ID charged for usage")
	extractCmd.Flags().StringVarP(&urlFile, "file", "f", "", "read URLs from file (one per line, # for comments)")
	extractCmd.Flags().DurationVar(&batchTimeout, "timeout", 30*time.Minute, "total timeout for the batch")
}

// urlExtractor 以網址擷取食譜
type urlExtractor interface {
	Extract(ctx context.Context, sourceURL, userID string) (*common.ExtractionResult, error)
}

// outcome 單一網址的擷取結果
type outcome struct {
	URL    string                   `json:"url"`
	Result *common.ExtractionResult `json:"result,omitempty"`
	Error  string                   `json:"error,omitempty"`
}

func runExtract(cmd *cobra.Command, args []string) error {
	urls := args
	if urlFile != "" {
		f, err := os.Open(urlFile)
		if err != nil {
			return fmt.Errorf("open url file: %w", err)
		}
		fromFile, err := readURLs(f)
		_ = f.Close()
		if err != nil {
			return err
		}
		urls = append(urls, fromFile...)
	}
	if len(urls) == 0 {
		return fmt.Errorf("no URLs given")
	}

	ctx, cancel := context.WithTimeout(cmd.Context(), batchTimeout)
	defer cancel()

	a, err := newApp(ctx)
	if err != nil {
		return err
	}
	defer a.Close()

	stderr := cmd.ErrOrStderr()
	fmt.Fprintf(stderr, "Extracting %d URL(s) with %d worker(s)\n", len(urls), parallel)

	results := extractAll(ctx, a.Pipeline, urls, userID, parallel)

	failed := 0
	out := cmd.OutOrStdout()
	for _, r := range results {
		switch {
		case r.Error != "":
			failed++
			fmt.Fprintf(stderr, "✗ %s: %s\n", r.URL, r.Error)
		case !r.Result.Success:
			failed++
			fmt.Fprintf(stderr, "✗ %s: %s\n", r.URL, r.Result.Reason)
		default:
			fmt.Fprintf(stderr, "✓ %s (%s, confidence %.2f)\n", r.URL, r.Result.TierUsed, r.Result.Confidence)
		}
		if err := writeJSON(out, r); err != nil {
			return err
		}
	}
	fmt.Fprintf(stderr, "Done: %d succeeded, %d failed\n", len(results)-failed, failed)
	return nil
}

// extractAll 併發擷取，結果順序與輸入相同；單一網址失敗不影響其他網址
func extractAll(ctx context.Context, ex urlExtractor, urls []string, user string, limit int) []outcome {
	if limit <= 0 {
		limit = 1
	}
	results := make([]outcome, len(urls))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(limit)
	for i, u := range urls {
		g.Go(func() error {
			results[i].URL = u
			res, err := ex.Extract(gctx, u, user)
			if err != nil {
				results[i].Error = err.Error()
				return nil
			}
			results[i].Result = res
			return nil
		})
	}
	_ = g.Wait()
	return results
}

// readURLs 每行一個網址，略過空行與 # 註解
func readURLs(r io.Reader) ([]string, error) {
	var urls []string
	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		urls = append(urls, line)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("read urls: %w", err)
	}
	return urls, nil
}
