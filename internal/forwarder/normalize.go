package forwarder

import (
	"html"
	"sort"
	"strings"

	"tweetfwd/internal/source"
)

var imageSuffixes = []string{".jpg", ".jpeg", ".png", ".gif"}

// normalized is a fetched post ready to store.
type normalized struct {
	Text     string
	MediaURL string
	// SkippedLinks counts link spans that were out of range or overlapped.
	SkippedLinks int
}

// normalize decodes HTML entities in the raw text, expands shortened links
// and picks the media URL.
func normalize(p source.Post) normalized {
	text, skipped := expandLinks(p.Text, p.Links)
	return normalized{
		Text:         text,
		MediaURL:     pickMedia(p),
		SkippedLinks: skipped,
	}
}

// pickMedia prefers explicit media, then the first link to an image file.
func pickMedia(p source.Post) string {
	if p.MediaURL != "" {
		return p.MediaURL
	}
	for _, l := range p.Links {
		for _, suf := range imageSuffixes {
			if strings.HasSuffix(l.Expanded, suf) {
				return l.Expanded
			}
		}
	}
	return ""
}

// expandLinks rebuilds raw with each link's rune span replaced by its
// expanded URL. Text between spans is entity-decoded; expanded URLs are
// copied as is. When spans overlap the earlier one wins.
func expandLinks(raw string, links []source.Link) (string, int) {
	ls := make([]source.Link, len(links))
	copy(ls, links)
	sort.SliceStable(ls, func(i, j int) bool { return ls[i].Start < ls[j].Start })

	rs := []rune(raw)
	var b strings.Builder
	b.Grow(len(raw))
	pos, skipped := 0, 0
	for _, l := range ls {
		if l.Expanded == "" || l.Start < pos || l.Start >= l.End || l.End > len(rs) {
			skipped++
			continue
		}
		b.WriteString(html.UnescapeString(string(rs[pos:l.Start])))
		b.WriteString(l.Expanded)
		pos = l.End
	}
	b.WriteString(html.UnescapeString(string(rs[pos:])))
	return b.String(), skipped
}
