package feed

import (
	"context"
	"os"
	"strings"
)

// FileSource reads the feed from a local CSV file. Useful for development
// and for exports dropped by another job.
type FileSource struct {
	Path       string
	SkipHeader bool
}

func (s *FileSource) ReadAllRows(ctx context.Context) ([]Row, error) {
	if s == nil || strings.TrimSpace(s.Path) == "" {
		return nil, ErrNoSource
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	f, err := os.Open(s.Path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return ParseCSV(f, s.SkipHeader)
}
