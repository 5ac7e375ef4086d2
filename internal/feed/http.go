package feed

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// SheetCSVURL builds the CSV export URL of a Google sheet tab.
func SheetCSVURL(sheetID, sheetName string) string {
	q := url.Values{}
	q.Set("tqx", "out:csv")
	if strings.TrimSpace(sheetName) != "" {
		q.Set("sheet", sheetName)
	}
	return "https://docs.google.com/spreadsheets/d/" + url.PathEscape(sheetID) + "/gviz/tq?" + q.Encode()
}

// HTTPSource downloads the feed as CSV on every read.
type HTTPSource struct {
	URL        string
	SkipHeader bool
	Client     *http.Client
}

func NewHTTPSource(rawURL string, skipHeader bool, timeout time.Duration) *HTTPSource {
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	return &HTTPSource{URL: rawURL, SkipHeader: skipHeader, Client: &http.Client{Timeout: timeout}}
}

func (s *HTTPSource) ReadAllRows(ctx context.Context) ([]Row, error) {
	if s == nil || strings.TrimSpace(s.URL) == "" {
		return nil, ErrNoSource
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.URL, http.NoBody)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "text/csv")

	client := s.Client
	if client == nil {
		client = http.DefaultClient
	}
	resp, err := client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("feed: fetch: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode/100 != 2 {
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))
		return nil, fmt.Errorf("feed: fetch: http %d", resp.StatusCode)
	}
	return ParseCSV(io.LimitReader(resp.Body, 32<<20), s.SkipHeader)
}
