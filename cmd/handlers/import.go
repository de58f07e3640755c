package handlers

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"driftwatch/internal/core"
	"driftwatch/internal/logger"
)

// importRecord is one article in an import file. JSON is valid YAML, so
// both formats go through the same decoder.
type importRecord struct {
	ID          string    `yaml:"id"`
	SourceID    string    `yaml:"source_id"`
	PublishedAt time.Time `yaml:"published_at"`
	Title       string    `yaml:"title"`
	RawText     string    `yaml:"raw_text"`
	Language    string    `yaml:"language"`
}

type articleInserter interface {
	InsertArticles(ctx context.Context, articles ...core.Article) error
}

// NewImportCmd creates the command that loads articles from a file.
func NewImportCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "import <file>",
		Short: "Load articles from a JSON or YAML file",
		Long: `Load a list of articles into the article store. Each record needs an id,
source_id, published_at (RFC 3339) and raw_text; title and language are
optional. Existing articles with the same id are replaced.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			articles, err := readArticles(args[0])
			if err != nil {
				return err
			}

			ctx := cmd.Context()
			a, err := newApp(ctx)
			if err != nil {
				return err
			}
			defer a.Close()

			ins, ok := a.store.(articleInserter)
			if !ok {
				return errors.New("configured store does not accept imports")
			}
			if err := ins.InsertArticles(ctx, articles...); err != nil {
				return fmt.Errorf("failed to import articles: %w", err)
			}
			logger.Info("articles imported", "file", args[0], "count", len(articles))
			fmt.Fprintf(cmd.OutOrStdout(), "Imported %d articles\n", len(articles))
			return nil
		},
	}
}

func readArticles(path string) ([]core.Article, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", path, err)
	}
	var records []importRecord
	if err := yaml.Unmarshal(data, &records); err != nil {
		return nil, fmt.Errorf("failed to parse %s: %w", path, err)
	}

	articles := make([]core.Article, 0, len(records))
	for i, r := range records {
		if r.ID == "" || r.SourceID == "" || r.PublishedAt.IsZero() {
			return nil, fmt.Errorf("record %d: id, source_id and published_at are required", i+1)
		}
		if strings.TrimSpace(r.RawText) == "" {
			return nil, fmt.Errorf("record %d (%s): raw_text is empty", i+1, r.ID)
		}
		articles = append(articles, core.Article{
			ID:          r.ID,
			SourceID:    r.SourceID,
			PublishedAt: r.PublishedAt.UTC(),
			Title:       r.Title,
			RawText:     r.RawText,
			Language:    r.Language,
			Fingerprint: core.Fingerprint(r.Title, r.RawText),
		})
	}
	return articles, nil
}
