package handlers

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/spf13/cobra"

	"newsintel/internal/core"
	"newsintel/internal/dedup"
)

// NewIngestCmd creates the ingest command for scraper submissions
func NewIngestCmd() *cobra.Command {
	var process bool

	cmd := &cobra.Command{
		Use:   "ingest [file]",
		Short: "Submit scraped articles from a JSON array or JSON lines",
		Long: `Submit scraped articles to the pipeline. The input is a JSON array or a
stream of JSON objects (one per line), each shaped like
  {"url": "...", "title": "...", "body": "...", "source": "...",
   "author": "...", "published_at": "2026-04-02T08:00:00Z"}

Duplicates (same normalized URL or same body text) are reported and skipped.

Examples:
  newsintel ingest articles.jsonl
  scraper | newsintel ingest --process`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var r io.Reader = os.Stdin
			if len(args) == 1 {
				f, err := os.Open(args[0])
				if err != nil {
					return fmt.Errorf("failed to open input: %w", err)
				}
				defer f.Close()
				r = f
			}
			return withApp(cmd.Context(), process, func(ctx context.Context, a *app) error {
				return runIngest(ctx, a, r, process)
			})
		},
	}

	cmd.Flags().BoolVar(&process, "process", false, "Triage and extract each accepted article immediately")

	return cmd
}

type ingestSummary struct {
	Read       int
	Accepted   int
	Duplicates int
	Invalid    int
	Processed  int
	Failed     int
}

func runIngest(ctx context.Context, a *app, r io.Reader, process bool) error {
	start := time.Now()
	subs, err := decodeSubmissions(r)
	if err != nil {
		return err
	}

	var sum ingestSummary
	for _, sub := range subs {
		if err := ctx.Err(); err != nil {
			return err
		}
		sum.Read++
		res, err := a.pipeline.Submit(ctx, sub)
		if err != nil {
			sum.Invalid++
			a.log.Warn("Submission rejected", "url", sub.URL, "error", err)
			continue
		}
		if res.Status == dedup.StatusDuplicate {
			sum.Duplicates++
			continue
		}
		sum.Accepted++

		if process {
			if _, err := a.pipeline.ProcessArticle(ctx, res.ArticleID); err != nil {
				sum.Failed++
				a.log.Warn("Processing failed", "article_id", res.ArticleID, "error", err)
				continue
			}
			sum.Processed++
		}
	}

	fmt.Println("\n📥 Ingest Summary")
	fmt.Println("━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━")
	fmt.Printf("Duration:    %s\n", time.Since(start).Round(time.Millisecond))
	fmt.Printf("Read:        %d\n", sum.Read)
	fmt.Printf("Accepted:    %d\n", sum.Accepted)
	fmt.Printf("Duplicates:  %d\n", sum.Duplicates)
	fmt.Printf("Invalid:     %d\n", sum.Invalid)
	if process {
		fmt.Printf("Processed:   %d\n", sum.Processed)
		fmt.Printf("Failed:      %d\n", sum.Failed)
	}
	return nil
}

// decodeSubmissions accepts a JSON array or a stream of JSON objects.
func decodeSubmissions(r io.Reader) ([]core.Submission, error) {
	br := bufio.NewReader(r)
	for {
		b, err := br.Peek(1)
		if err != nil {
			if errors.Is(err, io.EOF) {
				return nil, nil
			}
			return nil, fmt.Errorf("failed to read input: %w", err)
		}
		if b[0] == ' ' || b[0] == '\n' || b[0] == '\r' || b[0] == '\t' {
			_, _ = br.ReadByte()
			continue
		}
		break
	}

	dec := json.NewDecoder(br)
	if b, _ := br.Peek(1); len(b) == 1 && b[0] == '[' {
		var subs []core.Submission
		if err := dec.Decode(&subs); err != nil {
			return nil, fmt.Errorf("failed to decode submissions: %w", err)
		}
		return subs, nil
	}

	var subs []core.Submission
	for {
		var sub core.Submission
		err := dec.Decode(&sub)
		if errors.Is(err, io.EOF) {
			return subs, nil
		}
		if err != nil {
			return nil, fmt.Errorf("failed to decode submission %d: %w", len(subs)+1, err)
		}
		subs = append(subs, sub)
	}
}
