package fetch

import (
	"context"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"go.uber.org/zap"

	"talent-graph/backend/internal/signals"
	"talent-graph/backend/internal/state"
	"talent-graph/backend/pkg/logger"
)

// Selectors of a saved connections page
const (
	cardSelector       = "li.mn-connection-card, div.connection-card"
	nameSelector       = ".mn-connection-card__name, .connection-card__name"
	occupationSelector = ".mn-connection-card__occupation, .connection-card__occupation"
	locationSelector   = ".mn-connection-card__location, .connection-card__location"
	mutualSelector     = ".member-insights__count, .connection-card__mutual"
	linkSelector       = "a.mn-connection-card__link, a.connection-card__link"
)

// ParseHTMLExport extracts connection records from a saved connections page.
// Cards without a name are skipped.
func ParseHTMLExport(r io.Reader, source string) ([]state.Record, error) {
	doc, err := goquery.NewDocumentFromReader(r)
	if err != nil {
		return nil, fmt.Errorf("failed to parse html export: %w", err)
	}

	var records []state.Record
	doc.Find(cardSelector).Each(func(_ int, card *goquery.Selection) {
		name := cleanText(card.Find(nameSelector).First().Text())
		if name == "" {
			return
		}
		headline := cleanText(card.Find(occupationSelector).First().Text())
		rec := state.Record{
			Name:         name,
			Headline:     headline,
			Organization: signals.OrganizationFromHeadline(headline),
			Location:     cleanText(card.Find(locationSelector).First().Text()),
			MutualCount:  leadingInt(card.Find(mutualSelector).First().Text()),
			Skills:       signals.ExtractSkills(headline),
			Source:       source,
		}
		if href, ok := card.Find(linkSelector).First().Attr("href"); ok {
			rec.ProfileURL = strings.TrimSpace(href)
		}
		if id, ok := card.Attr("data-member-id"); ok {
			rec.ExternalID = strings.TrimSpace(id)
		}
		records = append(records, rec)
	})
	return records, nil
}

// HTMLExportFetcher reads "<key>.html" saved connection pages
type HTMLExportFetcher struct {
	dir    string
	source string
	logger *zap.Logger
}

// NewHTMLExportFetcher creates a fetcher over a directory of saved pages
func NewHTMLExportFetcher(dir, source string) *HTMLExportFetcher {
	return &HTMLExportFetcher{dir: dir, source: source, logger: logger.Named("fetch.html")}
}

// FetchNeighbors implements Fetcher
func (f *HTMLExportFetcher) FetchNeighbors(ctx context.Context, person state.Person) ([]state.Record, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	path, ok := findFile(f.dir, LookupKeys(person), ".html")
	if !ok {
		return nil, nil
	}
	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open %s: %w", path, err)
	}
	defer file.Close()

	records, err := ParseHTMLExport(file, f.source)
	if err != nil {
		return nil, err
	}
	f.logger.Debug("Parsed html export",
		zap.String("person_id", person.ID),
		zap.String("file", path),
		zap.Int("records", len(records)))
	return records, nil
}

func cleanText(s string) string {
	return strings.Join(strings.Fields(s), " ")
}

// leadingInt parses "12 mutual connections" as 12; anything else is 0
func leadingInt(s string) int {
	s = strings.TrimSpace(s)
	end := 0
	for end < len(s) && (s[end] >= '0' && s[end] <= '9' || s[end] == ',') {
		end++
	}
	n, err := strconv.Atoi(strings.ReplaceAll(s[:end], ",", ""))
	if err != nil {
		return 0
	}
	return n
}
