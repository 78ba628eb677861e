package importer

import (
	"bytes"
	"context"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"

	"github.com/opds-community/libopds2-go/opds1"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"bookcatalog/internal/service"
	"bookcatalog/internal/storage/books"
	"bookcatalog/internal/types"
)

const rootFeed = `<?xml version="1.0" encoding="utf-8"?>
<feed xmlns="http://www.w3.org/2005/Atom">
  <id>tag:root</id>
  <title>Catalog</title>
  <entry>
    <id>tag:shelf:scifi</id>
    <title>Science fiction</title>
    <link href="/opds/scifi" type="application/atom+xml;profile=opds-catalog"/>
  </entry>
</feed>`

const scifiPage1 = `<?xml version="1.0" encoding="utf-8"?>
<feed xmlns="http://www.w3.org/2005/Atom">
  <id>tag:shelf:scifi</id>
  <title>Science fiction</title>
  <link rel="next" href="/opds/scifi?page=2" type="application/atom+xml;profile=opds-catalog"/>
  <entry>
    <id>tag:book:1</id>
    <title> Dune </title>
    <author><name>Frank Herbert</name></author>
    <issued>1965-08-01</issued>
    <category term="Science Fiction"/>
    <category term="sf"/>
    <link rel="http://opds-spec.org/acquisition" href="/b/1/epub" type="application/epub+zip"/>
  </entry>
  <entry>
    <id>tag:book:2</id>
    <title>Ancient</title>
    <author><name>Someone</name></author>
    <issued>1900</issued>
    <link rel="http://opds-spec.org/acquisition" href="/b/2/epub" type="application/epub+zip"/>
  </entry>
</feed>`

const scifiPage2 = "<?xml version=\"1.0\" encoding=\"utf-8\"?>\n" +
	"<feed xmlns=\"http://www.w3.org/2005/Atom\">\n" +
	"  <id>tag:shelf:scifi:2</id>\n" +
	"  <title>Science fiction\x01</title>\n" +
	"  <entry>\n" +
	"    <id>tag:book:3</id>\n" +
	"    <title>Foundation</title>\n" +
	"    <author><name>Isaac Asimov</name></author>\n" +
	"    <issued>1951</issued>\n" +
	"    <category term=\"NOVEL\"/>\n" +
	"    <category term=\"poetry\"/>\n" +
	"    <link rel=\"http://opds-spec.org/acquisition\" href=\"/b/3/epub\" type=\"application/epub+zip\"/>\n" +
	"  </entry>\n" +
	"  <entry>\n" +
	"    <id>tag:book:4</id>\n" +
	"    <title>dune</title>\n" +
	"    <issued>1970</issued>\n" +
	"  </entry>\n" +
	"</feed>"

func feedServer(t *testing.T) *httptest.Server {
	t.Helper()

	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/atom+xml")
		switch {
		case r.URL.Path == "/opds":
			_, _ = io.WriteString(w, rootFeed)
		case r.URL.Path == "/opds/scifi" && r.URL.Query().Get("page") == "":
			_, _ = io.WriteString(w, scifiPage1)
		case r.URL.Path == "/opds/scifi" && r.URL.Query().Get("page") == "2":
			_, _ = io.WriteString(w, scifiPage2)
		default:
			http.NotFound(w, r)
		}
	}))
	t.Cleanup(ts.Close)

	return ts
}

type collector struct {
	books []*types.Book
}

func (c *collector) ConsumeBooks(_ context.Context, books []*types.Book) error {
	c.books = append(c.books, books...)
	return nil
}

func discard() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestImport(t *testing.T) {
	t.Parallel()

	ts := feedServer(t)
	root, err := url.Parse(ts.URL + "/opds")
	require.NoError(t, err)

	im := &Importer{Client: ts.Client(), Logger: discard(), Price: 5}

	var c collector
	require.NoError(t, im.Import(context.Background(), root, &c))

	require.Len(t, c.books, 4)

	assert.Equal(t, &types.Book{Title: "Dune", Author: "Frank Herbert", Year: 1965, Price: 5,
		Genres: []types.Genre{types.GenreSciFi}}, c.books[0])
	assert.Equal(t, 1900, c.books[1].Year)
	assert.Equal(t, []types.Genre{types.GenreNovel}, c.books[2].Genres)
	assert.Empty(t, c.books[3].Author)
}

func TestImportIntoCatalog(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	ts := feedServer(t)
	root, err := url.Parse(ts.URL + "/opds")
	require.NoError(t, err)

	bs, err := service.New(ctx, service.Config{
		Primary: service.Store{Backend: types.BackendMemory, Repo: books.NewMemoryRepository()},
		Logger:  discard(),
	})
	require.NoError(t, err)

	sc := &StoringConsumer{Logger: discard(), Books: bs}
	im := &Importer{Client: ts.Client(), Logger: discard()}
	require.NoError(t, im.Import(ctx, root, sc))

	// Ancient is out of the accepted years and the second dune is a duplicate.
	assert.Equal(t, 2, sc.Created)
	assert.Equal(t, 2, sc.Skipped)

	total, err := bs.GetTotal(ctx, "")
	require.NoError(t, err)
	assert.Equal(t, 2, total)
}

func TestImportFeedErrors(t *testing.T) {
	t.Parallel()

	ts := feedServer(t)
	missing, err := url.Parse(ts.URL + "/missing")
	require.NoError(t, err)

	im := &Importer{Client: ts.Client(), Logger: discard()}
	assert.Error(t, im.Import(context.Background(), missing, &collector{}))
}

func TestMapGenre(t *testing.T) {
	t.Parallel()

	for name, tc := range map[string]struct {
		term  string
		genre types.Genre
		ok    bool
	}{
		"Exact":      {term: "MANGA", genre: types.GenreManga, ok: true},
		"Normalized": {term: "sci-fi", genre: types.GenreSciFi, ok: true},
		"Alias":      {term: "Science Fiction", genre: types.GenreSciFi, ok: true},
		"Unknown":    {term: "poetry"},
	} {
		name, tc := name, tc
		t.Run(name, func(t *testing.T) {
			t.Parallel()

			g, ok := mapGenre(tc.term)
			assert.Equal(t, tc.ok, ok)
			assert.Equal(t, tc.genre, g)
		})
	}
}

func TestNextPageLogsSkippedLinks(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	l := slog.New(slog.NewTextHandler(&buf, &slog.HandlerOptions{Level: slog.LevelDebug}))

	base, err := url.Parse("http://catalog.test/opds/scifi")
	require.NoError(t, err)

	next := nextPage(base, &opds1.Feed{Links: []opds1.Link{
		{Rel: "self", Href: "/opds/scifi", TypeLink: "application/atom+xml;profile=opds-catalog"},
		{Rel: "next", Href: "/opds/scifi?page=2", TypeLink: "application/atom+xml;profile=opds-catalog"},
	}}, l)

	require.NotNil(t, next)
	assert.Equal(t, "http://catalog.test/opds/scifi?page=2", next.String())
	assert.Contains(t, buf.String(), "Skip non-matching link: unknown rel self")
	assert.Contains(t, buf.String(), "level=DEBUG")
}
