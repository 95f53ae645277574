package forwarder

import (
	"testing"

	"tweetfwd/internal/source"
)

func TestNormalizeText(t *testing.T) {
	t.Parallel()
	cases := []struct {
		name    string
		post    source.Post
		want    string
		skipped int
	}{
		{
			name: "entities decoded",
			post: source.Post{Text: "fish &amp; chips &lt;3"},
			want: "fish & chips <3",
		},
		{
			name: "links expanded in span order",
			post: source.Post{
				Text: "a http://t/1 b http://t/2",
				Links: []source.Link{
					{Expanded: "https://one.example/long", Start: 2, End: 12},
					{Expanded: "https://two.example", Start: 15, End: 25},
				},
			},
			want: "a https://one.example/long b https://two.example",
		},
		{
			name: "rune offsets",
			post: source.Post{
				Text:  "héllo http://t/x ✓",
				Links: []source.Link{{Expanded: "https://x.example", Start: 6, End: 16}},
			},
			want: "héllo https://x.example ✓",
		},
		{
			name: "spans index the raw text, entities decoded around them",
			post: source.Post{
				Text:  "&amp; http://t/x &gt;",
				Links: []source.Link{{Expanded: "https://a.example/?q=1", Start: 6, End: 16}},
			},
			want: "& https://a.example/?q=1 >",
		},
		{
			name: "expanded url kept verbatim",
			post: source.Post{
				Text:  "see https://t.co/abcdefghij now",
				Links: []source.Link{{Expanded: "https://example.com/?lang=en&region=us&copy=1&amp=2", Start: 4, End: 27}},
			},
			want: "see https://example.com/?lang=en&region=us&copy=1&amp=2 now",
		},
		{
			name: "only the recorded occurrence is replaced",
			post: source.Post{
				Text:  "go http://t/x or http://t/x",
				Links: []source.Link{{Expanded: "https://x.example", Start: 17, End: 27}},
			},
			want: "go http://t/x or https://x.example",
		},
		{
			name: "out of range span skipped",
			post: source.Post{
				Text:  "short",
				Links: []source.Link{{Expanded: "https://x", Start: 2, End: 40}},
			},
			want:    "short",
			skipped: 1,
		},
		{
			name: "overlapping span skipped",
			post: source.Post{
				Text: "0123456789",
				Links: []source.Link{
					{Expanded: "A", Start: 2, End: 6},
					{Expanded: "B", Start: 4, End: 8},
				},
			},
			want:    "01A6789",
			skipped: 1,
		},
		{
			name: "empty span skipped",
			post: source.Post{
				Text:  "abc",
				Links: []source.Link{{Expanded: "X", Start: 1, End: 1}},
			},
			want:    "abc",
			skipped: 1,
		},
	}
	for _, tc := range cases {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			got := normalize(tc.post)
			if got.Text != tc.want {
				t.Fatalf("text=%q want %q", got.Text, tc.want)
			}
			if got.SkippedLinks != tc.skipped {
				t.Fatalf("skipped=%d want %d", got.SkippedLinks, tc.skipped)
			}
		})
	}
}

func TestPickMedia(t *testing.T) {
	t.Parallel()
	cases := []struct {
		name string
		post source.Post
		want string
	}{
		{"explicit media wins", source.Post{
			MediaURL: "https://m/explicit.jpg",
			Links:    []source.Link{{Expanded: "https://l/a.png"}},
		}, "https://m/explicit.jpg"},
		{"first image link", source.Post{Links: []source.Link{
			{Expanded: "https://l/page.html"},
			{Expanded: "https://l/a.jpeg"},
			{Expanded: "https://l/b.gif"},
		}}, "https://l/a.jpeg"},
		{"suffix match is case sensitive", source.Post{Links: []source.Link{
			{Expanded: "https://l/A.JPG"},
		}}, ""},
		{"no media", source.Post{Text: "plain"}, ""},
	}
	for _, tc := range cases {
		if got := pickMedia(tc.post); got != tc.want {
			t.Fatalf("%s: got %q want %q", tc.name, got, tc.want)
		}
	}
}
