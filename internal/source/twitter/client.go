// Package twitter implements source.Client over the REST v1.1 timeline API.
package twitter

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"tweetfwd/internal/source"
	logx "tweetfwd/pkg/logx"
)

const (
	DefaultBaseURL  = "https://api.twitter.com/1.1"
	createdAtLayout = "Mon Jan 02 15:04:05 -0700 2006"
	maxErrorBody    = 4 << 10
)

type Client struct {
	base  string
	token string
	ua    string
	http  *http.Client
	log   logx.Logger
}

func New(cfg source.Config, log logx.Logger) (*Client, error) {
	if strings.TrimSpace(cfg.BearerToken) == "" {
		return nil, errors.New("twitter: bearer token is required")
	}
	base := strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/")
	if base == "" {
		base = DefaultBaseURL
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Client{
		base:  base,
		token: cfg.BearerToken,
		ua:    cfg.UserAgent,
		http:  &http.Client{Timeout: timeout},
		log:   log,
	}, nil
}

var _ source.Client = (*Client)(nil)

type apiURL struct {
	ExpandedURL string `json:"expanded_url"`
	Indices     []int  `json:"indices"`
}

type apiMedia struct {
	MediaURLHTTPS string `json:"media_url_https"`
}

type apiEntities struct {
	URLs  []apiURL   `json:"urls"`
	Media []apiMedia `json:"media"`
}

type apiTweet struct {
	ID        int64       `json:"id"`
	FullText  string      `json:"full_text"`
	Text      string      `json:"text"`
	CreatedAt string      `json:"created_at"`
	Entities  apiEntities `json:"entities"`
}

type apiUser struct {
	ScreenName string `json:"screen_name"`
	Name       string `json:"name"`
	Protected  bool   `json:"protected"`
}

func (c *Client) FetchLatest(ctx context.Context, handle string) ([]source.Post, error) {
	q := url.Values{}
	q.Set("screen_name", handle)
	q.Set("count", "1")
	q.Set("tweet_mode", "extended")
	return c.timeline(ctx, q)
}

func (c *Client) FetchSince(ctx context.Context, handle string, sinceID int64) ([]source.Post, error) {
	q := url.Values{}
	q.Set("screen_name", handle)
	q.Set("since_id", strconv.FormatInt(sinceID, 10))
	q.Set("count", "200")
	q.Set("tweet_mode", "extended")
	return c.timeline(ctx, q)
}

func (c *Client) LookupAccount(ctx context.Context, handle string) (source.Profile, error) {
	q := url.Values{}
	q.Set("screen_name", handle)
	var u apiUser
	if err := c.get(ctx, "/users/show.json", q, &u); err != nil {
		return source.Profile{}, err
	}
	return source.Profile{Handle: u.ScreenName, Name: u.Name, Protected: u.Protected}, nil
}

func (c *Client) timeline(ctx context.Context, q url.Values) ([]source.Post, error) {
	var raw []apiTweet
	if err := c.get(ctx, "/statuses/user_timeline.json", q, &raw); err != nil {
		return nil, err
	}
	out := make([]source.Post, 0, len(raw))
	for _, t := range raw {
		out = append(out, convert(t))
	}
	return out, nil
}

func convert(t apiTweet) source.Post {
	text := t.FullText
	if text == "" {
		text = t.Text
	}
	p := source.Post{ID: t.ID, Text: text}
	if ts, err := time.Parse(createdAtLayout, t.CreatedAt); err == nil {
		p.CreatedAt = ts
	}
	if len(t.Entities.Media) > 0 {
		p.MediaURL = t.Entities.Media[0].MediaURLHTTPS
	}
	for _, u := range t.Entities.URLs {
		if len(u.Indices) != 2 {
			continue
		}
		p.Links = append(p.Links, source.Link{Expanded: u.ExpandedURL, Start: u.Indices[0], End: u.Indices[1]})
	}
	return p
}

func (c *Client) get(ctx context.Context, path string, q url.Values, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.base+path+"?"+q.Encode(), nil)
	if err != nil {
		return err
	}
	req.Header.Set("Authorization", "Bearer "+c.token)
	if c.ua != "" {
		req.Header.Set("User-Agent", c.ua)
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return &source.Error{Kind: source.KindOther, Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		return &source.Error{
			Kind:   source.KindForStatus(resp.StatusCode),
			Status: resp.StatusCode,
			Err:    fmt.Errorf("%s: %s", path, strings.TrimSpace(string(body))),
		}
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return &source.Error{Kind: source.KindOther, Status: resp.StatusCode, Err: fmt.Errorf("decode %s: %w", path, err)}
	}
	return nil
}
