package tgui

import (
	"strings"
	"testing"
	"time"
)

func TestTruncRunes(t *testing.T) {
	t.Parallel()
	cases := []struct {
		in   string
		n    int
		want string
	}{
		{"hello", 10, "hello"},
		{"hello", 5, "hello"},
		{"hello", 3, "hel…"},
		{"héllo", 2, "hé…"},
		{"x", 0, ""},
	}
	for _, tc := range cases {
		if got := TruncRunes(tc.in, tc.n); got != tc.want {
			t.Fatalf("TruncRunes(%q,%d)=%q want %q", tc.in, tc.n, got, tc.want)
		}
	}
}

func TestPostCardEscapesAndLocalizes(t *testing.T) {
	t.Parallel()
	loc := time.FixedZone("CET", 3600)
	at := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	got := PostCard("news", 42, "a < b & c", at, loc).String()

	if !strings.HasPrefix(got, "<b>@news</b> · ") {
		t.Fatalf("unexpected header: %q", got)
	}
	if !strings.Contains(got, `href="https://twitter.com/news/status/42"`) {
		t.Fatalf("missing post link: %q", got)
	}
	if !strings.Contains(got, "a &lt; b &amp; c") {
		t.Fatalf("text not escaped: %q", got)
	}
	if !strings.Contains(got, "<i>2024-03-01 13:00 CET</i>") {
		t.Fatalf("timestamp not localized: %q", got)
	}
}

func TestPostCardWithoutTimestamp(t *testing.T) {
	t.Parallel()
	got := PostCard("news", 1, "body", time.Time{}, nil).String()
	if strings.Contains(got, "<i>") {
		t.Fatalf("zero time should be omitted: %q", got)
	}
}

func TestBuilderSplit(t *testing.T) {
	t.Parallel()
	m := New().Title("", "Subs").Line("a & b").Split().Code("/sub x").Build()
	if m.Text != "<b>Subs</b>\na &amp; b" {
		t.Fatalf("unexpected first part %q", m.Text)
	}
	if len(m.More) != 1 || m.More[0] != "<code>/sub x</code>" {
		t.Fatalf("unexpected follow-ups %q", m.More)
	}
	if m.Opt.ParseMode != "HTML" || !m.Opt.DisablePreview {
		t.Fatalf("unexpected options %+v", m.Opt)
	}
}
