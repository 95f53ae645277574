package nitter

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"tweetfwd/internal/source"
	logx "tweetfwd/pkg/logx"
)

const feedXML = `<?xml version="1.0" encoding="UTF-8"?>
<rss version="2.0">
  <channel>
    <title>The News / @news</title>
    <link>https://nitter.example/news</link>
    <item>
      <title>third post</title>
      <description><![CDATA[<p>third post</p><img src="https://nitter.example/pic/3.jpg" />]]></description>
      <pubDate>Wed, 10 Oct 2018 20:19:24 GMT</pubDate>
      <guid>https://nitter.example/news/status/300#m</guid>
      <link>https://nitter.example/news/status/300#m</link>
    </item>
    <item>
      <title>second post</title>
      <description><![CDATA[<p>second post</p>]]></description>
      <pubDate>Wed, 10 Oct 2018 19:00:00 GMT</pubDate>
      <link>https://nitter.example/news/status/200#m</link>
    </item>
    <item>
      <title>no id</title>
      <link>https://nitter.example/news</link>
    </item>
    <item>
      <title>first post</title>
      <pubDate>Wed, 10 Oct 2018 18:00:00 GMT</pubDate>
      <link>https://nitter.example/news/status/100#m</link>
    </item>
  </channel>
</rss>`

func newTestClient(t *testing.T, h http.HandlerFunc) *Client {
	t.Helper()
	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)
	c, err := New(source.Config{BaseURL: srv.URL}, logx.Nop())
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return c
}

func feedHandler(t *testing.T) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/news/rss" {
			http.NotFound(w, r)
			return
		}
		w.Header().Set("Content-Type", "application/rss+xml")
		_, _ = w.Write([]byte(feedXML))
	}
}

func TestFetchLatestReturnsNewest(t *testing.T) {
	t.Parallel()
	c := newTestClient(t, feedHandler(t))
	posts, err := c.FetchLatest(context.Background(), "@news")
	if err != nil {
		t.Fatalf("FetchLatest: %v", err)
	}
	if len(posts) != 1 || posts[0].ID != 300 {
		t.Fatalf("unexpected posts %+v", posts)
	}
	if posts[0].MediaURL != "https://nitter.example/pic/3.jpg" {
		t.Fatalf("unexpected media %q", posts[0].MediaURL)
	}
	if posts[0].CreatedAt.IsZero() {
		t.Fatalf("expected parsed pubDate")
	}
}

func TestFetchSinceFiltersByID(t *testing.T) {
	t.Parallel()
	c := newTestClient(t, feedHandler(t))
	posts, err := c.FetchSince(context.Background(), "news", 100)
	if err != nil {
		t.Fatalf("FetchSince: %v", err)
	}
	if len(posts) != 2 || posts[0].ID != 200 || posts[1].ID != 300 {
		t.Fatalf("unexpected posts %+v", posts)
	}
	if posts[0].Text != "second post" {
		t.Fatalf("unexpected text %q", posts[0].Text)
	}
}

func TestMissingAccountIsNotFound(t *testing.T) {
	t.Parallel()
	c := newTestClient(t, feedHandler(t))
	_, err := c.FetchLatest(context.Background(), "ghost")
	if got := source.KindOf(err); got != source.KindNotFound {
		t.Fatalf("expected not found, got %v (%v)", got, err)
	}
}

func TestLookupAccountName(t *testing.T) {
	t.Parallel()
	c := newTestClient(t, feedHandler(t))
	p, err := c.LookupAccount(context.Background(), "news")
	if err != nil {
		t.Fatalf("LookupAccount: %v", err)
	}
	if p.Name != "The News" || p.Handle != "news" {
		t.Fatalf("unexpected profile %+v", p)
	}
}
