package rag

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/cloudwego/eino/schema"
)

// MetaSource is the document metadata key holding the transcript path.
const MetaSource = "source"

// LoadCorpus reads every .txt transcript in dir as one document each,
// ordered by file name.
func LoadCorpus(dir string) ([]*schema.Document, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("failed to read corpus dir %s: %w", dir, err)
	}

	names := make([]string, 0, len(entries))
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".txt") {
			continue
		}
		names = append(names, entry.Name())
	}
	sort.Strings(names)

	docs := make([]*schema.Document, 0, len(names))
	for _, name := range names {
		path := filepath.Join(dir, name)
		content, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read transcript %s: %w", path, err)
		}

		docs = append(docs, &schema.Document{
			ID:       name,
			Content:  string(content),
			MetaData: map[string]any{MetaSource: path},
		})
	}

	return docs, nil
}
