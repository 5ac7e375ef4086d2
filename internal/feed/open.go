package feed

import (
	"fmt"
	"strings"
	"time"
)

// Config selects the feed source.
//
// Driver values:
//   - "sheets": Google sheet export built from SheetID and SheetName
//   - "csv_url": any URL serving CSV
//   - "file": local CSV file at Path
type Config struct {
	Driver     string
	SheetID    string
	SheetName  string
	URL        string
	Path       string
	SkipHeader bool
	Timeout    time.Duration
}

func Open(cfg Config) (Source, error) {
	switch strings.ToLower(strings.TrimSpace(cfg.Driver)) {
	case "", "sheets":
		if strings.TrimSpace(cfg.SheetID) == "" {
			return nil, fmt.Errorf("feed: sheet_id is required for driver sheets")
		}
		return NewHTTPSource(SheetCSVURL(cfg.SheetID, cfg.SheetName), cfg.SkipHeader, cfg.Timeout), nil
	case "csv_url":
		if strings.TrimSpace(cfg.URL) == "" {
			return nil, fmt.Errorf("feed: url is required for driver csv_url")
		}
		return NewHTTPSource(cfg.URL, cfg.SkipHeader, cfg.Timeout), nil
	case "file":
		if strings.TrimSpace(cfg.Path) == "" {
			return nil, fmt.Errorf("feed: path is required for driver file")
		}
		return &FileSource{Path: cfg.Path, SkipHeader: cfg.SkipHeader}, nil
	default:
		return nil, fmt.Errorf("feed: unknown driver %q", cfg.Driver)
	}
}
