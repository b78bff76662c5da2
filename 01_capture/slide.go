package capture

import (
	"fmt"
	"strings"

	"demo-reel-pipeline/types"

	"github.com/PuerkitoBio/goquery"
)

// SlideInfo is what the critic and logs learn about a synthetic slide
type SlideInfo struct {
	Title    string   `json:"title"`
	Headings []string `json:"headings"`
	Text     string   `json:"text"`
}

// LintSlide parses slide HTML and checks it can actually render the beat.
// The body must have content and, when set, waitSelector must match.
func LintSlide(html, waitSelector string) (SlideInfo, error) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return SlideInfo{}, fmt.Errorf("parse slide html: %w", err)
	}
	return inspect(doc, waitSelector)
}

func inspect(doc *goquery.Document, waitSelector string) (SlideInfo, error) {
	body := doc.Find("body")
	text := strings.Join(strings.Fields(body.Text()), " ")
	if text == "" && body.Find("img,svg,canvas,video").Length() == 0 {
		return SlideInfo{}, fmt.Errorf("slide body is empty")
	}

	if waitSelector != "" && doc.Find(waitSelector).Length() == 0 {
		return SlideInfo{}, fmt.Errorf("wait selector %q matches nothing", waitSelector)
	}

	info := SlideInfo{
		Title: strings.TrimSpace(doc.Find("title").First().Text()),
		Text:  types.Truncate(text, 400),
	}
	doc.Find("h1,h2,h3").Each(func(_ int, s *goquery.Selection) {
		if h := strings.TrimSpace(s.Text()); h != "" {
			info.Headings = append(info.Headings, h)
		}
	})
	if info.Title == "" && len(info.Headings) > 0 {
		info.Title = info.Headings[0]
	}
	return info, nil
}
