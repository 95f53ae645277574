package twitter

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"tweetfwd/internal/source"
	logx "tweetfwd/pkg/logx"
)

func newTestClient(t *testing.T, h http.HandlerFunc) *Client {
	t.Helper()
	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)
	c, err := New(source.Config{BaseURL: srv.URL, BearerToken: "tok"}, logx.Nop())
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return c
}

func TestFetchSinceDecodesEntities(t *testing.T) {
	t.Parallel()
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/statuses/user_timeline.json" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		if got := r.Header.Get("Authorization"); got != "Bearer tok" {
			t.Errorf("unexpected auth header %q", got)
		}
		q := r.URL.Query()
		if q.Get("since_id") != "100" || q.Get("screen_name") != "news" || q.Get("tweet_mode") != "extended" {
			t.Errorf("unexpected query %v", q)
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`[{
			"id": 101,
			"full_text": "see https://t.co/x &amp; more",
			"created_at": "Wed Oct 10 20:19:24 +0000 2018",
			"entities": {
				"urls": [{"expanded_url": "https://example.com/a.png", "indices": [4, 17]}],
				"media": [{"media_url_https": "https://pbs.example/m.jpg"}]
			}
		}]`))
	})

	posts, err := c.FetchSince(context.Background(), "news", 100)
	if err != nil {
		t.Fatalf("FetchSince: %v", err)
	}
	if len(posts) != 1 {
		t.Fatalf("expected 1 post, got %d", len(posts))
	}
	p := posts[0]
	if p.ID != 101 || p.Text != "see https://t.co/x &amp; more" {
		t.Fatalf("unexpected post %+v", p)
	}
	if p.MediaURL != "https://pbs.example/m.jpg" {
		t.Fatalf("unexpected media %q", p.MediaURL)
	}
	if len(p.Links) != 1 || p.Links[0].Start != 4 || p.Links[0].End != 17 {
		t.Fatalf("unexpected links %+v", p.Links)
	}
	if p.CreatedAt.Year() != 2018 || p.CreatedAt.Hour() != 20 {
		t.Fatalf("unexpected created_at %v", p.CreatedAt)
	}
}

func TestErrorClassification(t *testing.T) {
	t.Parallel()
	cases := []struct {
		status int
		want   source.Kind
	}{
		{http.StatusTooManyRequests, source.KindRateLimited},
		{http.StatusUnauthorized, source.KindForbidden},
		{http.StatusForbidden, source.KindForbidden},
		{http.StatusNotFound, source.KindNotFound},
		{http.StatusInternalServerError, source.KindOther},
	}
	for _, tc := range cases {
		tc := tc
		t.Run(http.StatusText(tc.status), func(t *testing.T) {
			t.Parallel()
			c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
				http.Error(w, `{"errors":[]}`, tc.status)
			})
			_, err := c.FetchLatest(context.Background(), "x")
			if err == nil {
				t.Fatalf("expected error")
			}
			if got := source.KindOf(err); got != tc.want {
				t.Fatalf("status %d: got kind %v want %v", tc.status, got, tc.want)
			}
		})
	}
}

func TestLookupAccount(t *testing.T) {
	t.Parallel()
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/users/show.json" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		_, _ = w.Write([]byte(`{"screen_name":"News","name":"The News","protected":true}`))
	})
	p, err := c.LookupAccount(context.Background(), "news")
	if err != nil {
		t.Fatalf("LookupAccount: %v", err)
	}
	if p.Handle != "News" || !p.Protected {
		t.Fatalf("unexpected profile %+v", p)
	}
}

func TestNewRequiresToken(t *testing.T) {
	t.Parallel()
	if _, err := New(source.Config{}, logx.Nop()); err == nil {
		t.Fatalf("expected error without bearer token")
	}
}
