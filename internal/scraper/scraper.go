// Package scraper fetches video pages and extracts the media URLs embedded in their scripts.
package scraper

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"regexp"
	"strconv"
	"strings"

	"mediagrab/internal/entity"
	"mediagrab/internal/errs"

	"github.com/PuerkitoBio/goquery"
)

// maxPageSize caps how much of a page is read.
const maxPageSize = 16 << 20

var (
	flashvarsDecl = regexp.MustCompile(`var\s+flashvars_\d+\s*=\s*`)
	trailingComma = regexp.MustCompile(`,\s*([}\]])`)

	fallbackPatterns = []*regexp.Regexp{
		regexp.MustCompile(`"(https://[^"]*\.mp4[^"]*)"`),
		regexp.MustCompile(`videoUrl:\s*"([^"]+\.mp4[^"]*)"`),
	}
	qualityHint = regexp.MustCompile(`(\d+)P?_`)
)

// Scraper downloads pages with a fixed header set and extracts media candidates.
type Scraper struct {
	log     *slog.Logger
	client  *http.Client
	headers map[string]string
}

// New creates a Scraper. client defaults to http.DefaultClient.
func New(log *slog.Logger, client *http.Client, headers map[string]string) *Scraper {
	if client == nil {
		client = http.DefaultClient
	}

	return &Scraper{
		log:     log.With(slog.String("package", "scraper")),
		client:  client,
		headers: headers,
	}
}

// Scrape fetches pageURL and extracts its candidates.
// An empty result is not an error.
func (s *Scraper) Scrape(ctx context.Context, pageURL string) (entity.Candidates, error) {
	html, err := s.Fetch(ctx, pageURL)
	if err != nil {
		return nil, err
	}

	return s.Extract(html), nil
}

// Fetch GETs pageURL and returns its body.
func (s *Scraper) Fetch(ctx context.Context, pageURL string) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, pageURL, nil)
	if err != nil {
		return "", fmt.Errorf("%w: new request: %w", errs.ErrFetch, err)
	}

	for k, v := range s.headers {
		req.Header.Set(k, v)
	}

	resp, err := s.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("%w: get page: %w", errs.ErrFetch, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("%w: get page: status %d", errs.ErrFetch, resp.StatusCode)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxPageSize))
	if err != nil {
		return "", fmt.Errorf("%w: read page: %w", errs.ErrFetch, err)
	}

	s.log.Debug("page fetched", slog.String("url", pageURL), slog.Int("bytes", len(body)))

	return string(body), nil
}

// Extract finds media candidates in html. Structured player config wins; the loose
// URL patterns are only tried when it yields nothing.
func (s *Scraper) Extract(html string) entity.Candidates {
	found := make(entity.Candidates)

	if blob, ok := s.findFlashvars(html); ok {
		if err := s.parseMediaDefinitions(blob, found); err != nil {
			s.log.Warn("player config not decodable", slog.Any("error", err))
		}
	}

	if len(found) == 0 {
		s.scanFallback(html, found)
	}

	for q, c := range found {
		s.log.Info("quality found", slog.String("quality", q), slog.String("format", string(c.Format)))
	}

	return found
}

// findFlashvars looks in script bodies first and then in the raw page.
func (s *Scraper) findFlashvars(html string) (string, bool) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err == nil {
		var blob string

		doc.Find("script").EachWithBreak(func(_ int, sel *goquery.Selection) bool {
			var ok bool

			blob, ok = flashvarsObject(sel.Text())

			return !ok
		})

		if blob != "" {
			return blob, true
		}
	}

	return flashvarsObject(html)
}

// flashvarsObject returns the object literal assigned to the first flashvars_<n> variable.
func flashvarsObject(src string) (string, bool) {
	loc := flashvarsDecl.FindStringIndex(src)
	if loc == nil {
		return "", false
	}

	rest := src[loc[1]:]
	if !strings.HasPrefix(rest, "{") {
		return "", false
	}

	end := matchingBrace(rest)
	if end < 0 {
		return "", false
	}

	return rest[:end+1], true
}

// matchingBrace returns the index of the brace closing s[0], skipping string literals.
func matchingBrace(s string) int {
	depth := 0
	inString := false
	escaped := false

	for i := 0; i < len(s); i++ {
		c := s[i]

		switch {
		case escaped:
			escaped = false
		case inString && c == '\\':
			escaped = true
		case c == '"':
			inString = !inString
		case inString:
		case c == '{':
			depth++
		case c == '}':
			depth--
			if depth == 0 {
				return i
			}
		}
	}

	return -1
}

type mediaDefinition struct {
	VideoURL any `json:"videoUrl"`
	Quality  any `json:"quality"`
}

func (s *Scraper) parseMediaDefinitions(blob string, found entity.Candidates) error {
	blob = trailingComma.ReplaceAllString(blob, "$1")

	var vars struct {
		MediaDefinitions []mediaDefinition `json:"mediaDefinitions"`
	}

	if err := json.Unmarshal([]byte(blob), &vars); err != nil {
		return fmt.Errorf("%w: flashvars: %w", errs.ErrParse, err)
	}

	for _, def := range vars.MediaDefinitions {
		url, ok := def.VideoURL.(string)
		if !ok || url == "" || def.Quality == nil {
			continue
		}

		quality, ok := qualityLabel(def.Quality)
		if !ok {
			continue
		}

		found.Add(entity.MediaCandidate{Quality: quality, Format: Classify(url), URL: url})
	}

	return nil
}

// qualityLabel stringifies a quality value. Lists contribute their first element.
func qualityLabel(v any) (string, bool) {
	switch q := v.(type) {
	case string:
		return q, true
	case float64:
		return strconv.FormatFloat(q, 'f', -1, 64), true
	case bool:
		return strconv.FormatBool(q), true
	case []any:
		if len(q) == 0 {
			return "", false
		}

		return qualityLabel(q[0])
	default:
		return "", false
	}
}

func (s *Scraper) scanFallback(html string, found entity.Candidates) {
	for _, re := range fallbackPatterns {
		for _, m := range re.FindAllStringSubmatch(html, -1) {
			url := strings.ReplaceAll(m[1], `\/`, "/")
			if strings.Contains(url, "seg-") {
				continue
			}

			quality := entity.QualityUnknown
			if q := qualityHint.FindStringSubmatch(url); q != nil {
				quality = q[1]
			}

			found.Add(entity.MediaCandidate{Quality: quality, Format: entity.FormatDirect, URL: url})
		}
	}
}

// Classify derives the format of a media URL from its shape.
func Classify(url string) entity.Format {
	switch {
	case strings.Contains(url, ".m3u8"), strings.Contains(url, "/hls/"):
		return entity.FormatSegmented
	case strings.Contains(url, ".mp4") && !strings.Contains(url, "seg-"):
		return entity.FormatDirect
	default:
		return entity.FormatUnknown
	}
}
