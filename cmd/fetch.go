package cmd

import (
	"encoding/json"
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/iantaiahn/topicscraper/internal/pipeline"
	"github.com/iantaiahn/topicscraper/internal/scraper"
)

type fetchOptions struct {
	topics    bool
	report    bool
	headful   bool
	memoryMB  float64
	maxLength int
	showText  bool
}

// fetchSummary is the printed form of a plain fetch.
type fetchSummary struct {
	URL          string       `json:"url"`
	Kind         string       `json:"kind"`
	Message      string       `json:"message,omitempty"`
	Page         scraper.Page `json:"page"`
	TextLength   int          `json:"text_length"`
	Truncated    bool         `json:"truncated"`
	Tier         string       `json:"tier"`
	PeakMemoryMB float64      `json:"peak_memory_mb"`
	DurationMS   int64        `json:"duration_ms"`
	Text         string       `json:"text,omitempty"`
}

func newFetchCmd() *cobra.Command {
	opts := fetchOptions{}
	cmd := &cobra.Command{
		Use:   "fetch <url>",
		Short: "Fetch one page and print the outcome as JSON",
		Long: `Loads a single URL in the configured browser and prints the extraction
outcome. With --topics the text is also cleaned and clustered into topics.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			appInstance, err := resolveApp(cmd.Context())
			if err != nil {
				return err
			}
			return runFetch(cmd, appInstance, args[0], opts)
		},
	}
	cmd.Flags().BoolVar(&opts.topics, "topics", false, "run topic modeling on the extracted text")
	cmd.Flags().BoolVar(&opts.report, "report", false, "store the HTML report (requires --topics)")
	cmd.Flags().BoolVar(&opts.headful, "headful", false, "show the browser window")
	cmd.Flags().Float64Var(&opts.memoryMB, "memory-limit-mb", 0, "per-fetch memory budget (0 uses the configured limit)")
	cmd.Flags().IntVar(&opts.maxLength, "max-content-length", 0, "truncate text to this many characters (0 uses the configured limit)")
	cmd.Flags().BoolVar(&opts.showText, "text", true, "include the extracted text in the output")
	return cmd
}

func runFetch(cmd *cobra.Command, a App, url string, opts fetchOptions) error {
	cfg := a.Config()
	headless := cfg.Browser.Headless && !opts.headful
	maxLength := opts.maxLength
	if maxLength == 0 {
		maxLength = cfg.Extract.MaxContentLength
	}
	memoryMB := opts.memoryMB
	if memoryMB == 0 {
		memoryMB = cfg.Memory.LimitMB
	}

	if opts.topics {
		result, err := a.Process(cmd.Context(), pipeline.Request{
			URL:              url,
			Headless:         headless,
			MemoryLimitMB:    memoryMB,
			MaxContentLength: maxLength,
			SkipReport:       !opts.report,
		})
		if err != nil {
			return fmt.Errorf("process %s: %w", url, err)
		}
		return printJSON(cmd.OutOrStdout(), result)
	}

	out := a.Fetch(cmd.Context(), scraper.Request{
		URL:              url,
		Headless:         headless,
		MemoryLimitMB:    memoryMB,
		MaxContentLength: maxLength,
	})
	summary := fetchSummary{
		URL:          url,
		Kind:         out.Kind.String(),
		Message:      out.Message,
		Page:         out.Page,
		TextLength:   out.Content.Length,
		Truncated:    out.Content.Truncated,
		Tier:         out.Content.Tier.String(),
		PeakMemoryMB: out.PeakMemoryMB,
		DurationMS:   out.Duration.Milliseconds(),
	}
	if opts.showText {
		summary.Text = out.Content.Text
	}
	if err := printJSON(cmd.OutOrStdout(), summary); err != nil {
		return err
	}
	if !out.OK() {
		return fmt.Errorf("fetch %s: %s", url, out.Message)
	}
	return nil
}

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
