package review

import (
	"context"
	"fmt"
	"net/http"
	"strings"

	"demo-reel-pipeline/types"

	"github.com/PuerkitoBio/goquery"
)

// CheckFrontend is the UI-mapping smoke test: each live segment's page must load
// and serve markup matching its wait selector. Segments without a URL are skipped.
func CheckFrontend(ctx context.Context, client *http.Client, baseURL string, segments []types.Segment) []string {
	if client == nil {
		client = http.DefaultClient
	}
	var problems []string
	for _, seg := range segments {
		if !seg.IsLive() {
			continue
		}
		url := resolveURL(baseURL, seg.URL)
		doc, err := fetch(ctx, client, url)
		if err != nil {
			problems = append(problems, fmt.Sprintf("%s: %v", seg.Name, err))
			continue
		}
		if seg.WaitSelector != "" && doc.Find(seg.WaitSelector).Length() == 0 {
			problems = append(problems, fmt.Sprintf("%s: selector %q not found at %s", seg.Name, seg.WaitSelector, url))
		}
	}
	return problems
}

// resolveURL lets segments use paths relative to the configured frontend
func resolveURL(base, u string) string {
	if strings.HasPrefix(u, "/") {
		return strings.TrimRight(base, "/") + u
	}
	return u
}

func fetch(ctx context.Context, client *http.Client, url string) (*goquery.Document, error) {
	req, err := http.NewRequestWithContext(ctx, "GET", url, nil)
	if err != nil {
		return nil, err
	}
	resp, err := client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("HTTP %d from %s", resp.StatusCode, url)
	}
	return goquery.NewDocumentFromReader(resp.Body)
}
