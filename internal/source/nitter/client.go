// Package nitter implements source.Client on top of a Nitter instance's
// per-account RSS feed.
package nitter

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"regexp"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/mmcdole/gofeed"

	"tweetfwd/internal/source"
	logx "tweetfwd/pkg/logx"
)

var (
	statusIDRe = regexp.MustCompile(`/status/(\d+)`)
	imgSrcRe   = regexp.MustCompile(`<img[^>]+src="([^"]+)"`)
)

type Client struct {
	base    string
	parser  *gofeed.Parser
	timeout time.Duration
	log     logx.Logger
}

func New(cfg source.Config, log logx.Logger) (*Client, error) {
	base := strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/")
	if base == "" {
		return nil, errors.New("nitter: base_url is required")
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	p := gofeed.NewParser()
	p.Client = &http.Client{Timeout: timeout}
	if cfg.UserAgent != "" {
		p.UserAgent = cfg.UserAgent
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Client{base: base, parser: p, timeout: timeout, log: log}, nil
}

var _ source.Client = (*Client)(nil)

func (c *Client) FetchLatest(ctx context.Context, handle string) ([]source.Post, error) {
	posts, _, err := c.feed(ctx, handle)
	if err != nil || len(posts) == 0 {
		return nil, err
	}
	return posts[len(posts)-1:], nil
}

func (c *Client) FetchSince(ctx context.Context, handle string, sinceID int64) ([]source.Post, error) {
	posts, _, err := c.feed(ctx, handle)
	if err != nil {
		return nil, err
	}
	i := sort.Search(len(posts), func(i int) bool { return posts[i].ID > sinceID })
	return posts[i:], nil
}

func (c *Client) LookupAccount(ctx context.Context, handle string) (source.Profile, error) {
	_, feed, err := c.feed(ctx, handle)
	if err != nil {
		return source.Profile{}, err
	}
	name := feed.Title
	if i := strings.Index(name, " / @"); i >= 0 {
		name = name[:i]
	}
	return source.Profile{Handle: handle, Name: name}, nil
}

// feed returns the parsed posts sorted by ascending ID.
func (c *Client) feed(ctx context.Context, handle string) ([]source.Post, *gofeed.Feed, error) {
	fctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	u := c.base + "/" + strings.TrimPrefix(handle, "@") + "/rss"
	feed, err := c.parser.ParseURLWithContext(u, fctx)
	if err != nil {
		return nil, nil, classify(err)
	}

	posts := make([]source.Post, 0, len(feed.Items))
	for _, it := range feed.Items {
		p, ok := convert(it)
		if !ok {
			c.log.Debug("skipping feed item without status id", logx.Handle(handle), logx.String("link", it.Link))
			continue
		}
		posts = append(posts, p)
	}
	sort.Slice(posts, func(i, j int) bool { return posts[i].ID < posts[j].ID })
	return posts, feed, nil
}

func convert(it *gofeed.Item) (source.Post, bool) {
	m := statusIDRe.FindStringSubmatch(it.Link)
	if m == nil {
		m = statusIDRe.FindStringSubmatch(it.GUID)
	}
	if m == nil {
		return source.Post{}, false
	}
	id, err := strconv.ParseInt(m[1], 10, 64)
	if err != nil {
		return source.Post{}, false
	}
	p := source.Post{ID: id, Text: it.Title}
	if it.PublishedParsed != nil {
		p.CreatedAt = *it.PublishedParsed
	}
	for _, enc := range it.Enclosures {
		if enc != nil && strings.HasPrefix(enc.Type, "image/") {
			p.MediaURL = enc.URL
			break
		}
	}
	if p.MediaURL == "" {
		if img := imgSrcRe.FindStringSubmatch(it.Description); img != nil {
			p.MediaURL = img[1]
		}
	}
	return p, true
}

func classify(err error) error {
	var he gofeed.HTTPError
	if errors.As(err, &he) {
		return &source.Error{
			Kind:   source.KindForStatus(he.StatusCode),
			Status: he.StatusCode,
			Err:    fmt.Errorf("feed: %s", he.Status),
		}
	}
	if errors.Is(err, context.Canceled) {
		return err
	}
	return &source.Error{Kind: source.KindOther, Err: err}
}
