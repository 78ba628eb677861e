package importer

import (
	"context"
	"encoding/xml"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"unicode/utf8"

	"github.com/opds-community/libopds2-go/opds1"

	"bookcatalog/internal/types"
)

const (
	linkTypeCatalog  = "application/atom+xml;profile=opds-catalog"
	linkRelNext      = "next"
	linkRelAcquire   = "http://opds-spec.org/acquisition"
	defaultMaxDepth  = 3
	defaultMaxPages  = 100
	acquisitionMatch = "/acquisition"
)

// Importer walks an OPDS 1 catalog and hands the books of every acquisition feed to a Consumer.
type Importer struct {
	Client *http.Client
	Logger *slog.Logger

	// Price is assigned to every imported book, OPDS feeds rarely carry one.
	Price int
	// MaxDepth bounds how many navigation feeds deep the walk goes, 0 means the default.
	MaxDepth int
	// MaxPages bounds the total number of fetched feeds, 0 means the default.
	MaxPages int
}

type walk struct {
	*Importer
	consumer Consumer
	visited  map[string]struct{}
	pages    int
}

func (im *Importer) Import(ctx context.Context, feed *url.URL, consumer Consumer) error {
	w := &walk{Importer: im, consumer: consumer, visited: make(map[string]struct{})}
	return w.crawl(ctx, feed, 0)
}

func (w *walk) crawl(ctx context.Context, feedUrl *url.URL, depth int) error {
	maxPages := w.MaxPages
	if maxPages <= 0 {
		maxPages = defaultMaxPages
	}
	maxDepth := w.MaxDepth
	if maxDepth <= 0 {
		maxDepth = defaultMaxDepth
	}

	for feedUrl != nil {
		if _, ok := w.visited[feedUrl.String()]; ok {
			w.Logger.WarnContext(ctx, "Skipping already visited feed "+feedUrl.String())
			return nil
		}
		w.visited[feedUrl.String()] = struct{}{}

		if w.pages >= maxPages {
			w.Logger.WarnContext(ctx, fmt.Sprintf("Stopping after %d feeds", maxPages))
			return nil
		}
		w.pages++

		feed, err := w.fetch(ctx, feedUrl)
		if err != nil {
			return err
		}

		l := w.Logger.With(slog.String("feed", feedUrl.Path))

		var bks []*types.Book
		for _, entry := range feed.Entries {
			entry.ID = strings.TrimSpace(entry.ID)

			if nested := chooseLink(&entry, func(link *opds1.Link) string {
				if link.TypeLink != linkTypeCatalog {
					return "unknown type: " + link.TypeLink
				}
				return ""
			}, clLogger{logger: l.With(slog.String("entry", entry.ID)), levelSkipLink: slog.LevelDebug}); nested != nil && !isAcquisition(&entry) {
				if depth+1 > maxDepth {
					l.DebugContext(ctx, "Not following nested feed "+entry.ID+", too deep")
					continue
				}

				linkUrl, err := url.Parse(nested.Href)
				if err != nil {
					l.ErrorContext(ctx, "Failed to parse link to nested feed "+entry.ID+": "+err.Error())
					continue
				}

				l.DebugContext(ctx, "Found nested feed "+entry.ID)
				if err = w.crawl(ctx, feedUrl.ResolveReference(linkUrl), depth+1); err != nil {
					return err
				}
				continue
			}

			b, ok := entryToBook(&entry, w.Price, l)
			if !ok {
				continue
			}
			bks = append(bks, b)
		}

		if len(bks) > 0 {
			if err = w.consumer.ConsumeBooks(ctx, bks); err != nil {
				return fmt.Errorf("consuming books of %s: %w", feedUrl, err)
			}
		}

		feedUrl = nextPage(feedUrl, feed, l)
	}

	return nil
}

func (w *walk) fetch(ctx context.Context, feedUrl *url.URL) (*opds1.Feed, error) {
	w.Logger.DebugContext(ctx, "Begin processing feed "+feedUrl.String())

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, feedUrl.String(), nil)
	if err != nil {
		return nil, fmt.Errorf("building feed request: %w", err)
	}

	res, err := w.Client.Do(req)
	if err != nil {
		w.Logger.ErrorContext(ctx, "Failed to fetch feed "+feedUrl.Path+": "+err.Error())
		return nil, fmt.Errorf("fetching feed: %w", err)
	}

	var bs []byte
	func() {
		defer res.Body.Close()
		bs, err = io.ReadAll(res.Body)
	}()

	if err != nil {
		return nil, fmt.Errorf("fetching feed (reading response): %w", err)
	}

	if res.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("fetching feed %s: unexpected status %s", feedUrl, res.Status)
	}

	var feed opds1.Feed
	err = xml.Unmarshal(removeDisallowedCodepoints(bs, w.Logger), &feed)
	if err != nil {
		w.Logger.ErrorContext(ctx, "Failed to unmarshal feed "+feedUrl.Path+": "+err.Error())
		return nil, fmt.Errorf("unmarshalling feed: %w", err)
	}

	return &feed, nil
}

func nextPage(feedUrl *url.URL, feed *opds1.Feed, l *slog.Logger) *url.URL {
	link := chooseLink(&opds1.Entry{Links: feed.Links}, func(link *opds1.Link) string {
		if link.Rel != linkRelNext {
			return "unknown rel " + link.Rel
		}

		if !strings.HasPrefix(link.TypeLink, "application/atom+xml") {
			return "unknown type: " + link.TypeLink
		}

		return ""
	}, clLogger{logger: l, levelSkipLink: slog.LevelDebug})

	if link == nil {
		return nil
	}

	next, err := url.Parse(link.Href)
	if err != nil {
		l.Error("Failed to parse next page link " + link.Href + ": " + err.Error())
		return nil
	}

	l.Debug("Found link to the next page")

	return feedUrl.ResolveReference(next)
}

func isAcquisition(e *opds1.Entry) bool {
	for _, link := range e.Links {
		if strings.HasPrefix(strings.TrimSpace(link.Rel), linkRelAcquire) ||
			strings.Contains(strings.TrimSpace(link.TypeLink), acquisitionMatch) {
			return true
		}
	}

	return false
}

type clLogger struct {
	logger        *slog.Logger
	levelSkipLink slog.Leveler
}

func chooseLink(e *opds1.Entry, matcher func(link *opds1.Link) string, l clLogger) *opds1.Link {
	var ret *opds1.Link

	for _, link := range e.Links {
		link.Rel = strings.TrimSpace(link.Rel)
		link.TypeLink = strings.TrimSpace(link.TypeLink)

		if matcher != nil {
			mismatch := matcher(&link)
			if mismatch != "" {
				if l.levelSkipLink != nil {
					l.logger.LogAttrs(context.Background(), l.levelSkipLink.Level(), "Skip non-matching link: "+mismatch)
				}

				continue
			}
		}

		if ret != nil {
			l.logger.Warn("Skip duplicate matching link: " + link.Href)
			continue
		}

		ret = &link
	}

	return ret
}

// Some catalogs put characters outside the XML range into their feeds.
func removeDisallowedCodepoints(bs []byte, l *slog.Logger) []byte {
	ret := make([]byte, 0, len(bs))
	buf := bs

	for len(buf) > 0 {
		r, size := utf8.DecodeRune(buf)
		if r == utf8.RuneError && size == 1 {
			l.Warn("Going to fail XML parsing because the bytes do not represent valid UTF8")
			return bs
		}

		if isInCharacterRange(r) {
			ret = append(ret, buf[:size]...)
		} else {
			l.Warn("Removed invalid rune from XML")
		}

		buf = buf[size:]
	}

	return ret
}

// Decide whether the given rune is in the XML Character Range, per
// the Char production of https://www.xml.com/axml/testaxml.htm,
// Section 2.2 Characters.
func isInCharacterRange(r rune) (inrange bool) {
	return r == 0x09 ||
		r == 0x0A ||
		r == 0x0D ||
		r >= 0x20 && r <= 0xD7FF ||
		r >= 0xE000 && r <= 0xFFFD ||
		r >= 0x10000 && r <= 0x10FFFF
}
