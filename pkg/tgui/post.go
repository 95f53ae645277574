package tgui

import (
	"strconv"
	"time"
)

// CaptionLimit is Telegram's photo caption limit in characters.
const CaptionLimit = 1024

const postTimeLayout = "2006-01-02 15:04 MST"

// PostCard renders a forwarded post:
//
//	<b>@handle</b> · <link>
//	text
//	<i>timestamp</i>
//
// The timestamp is shown in loc (UTC when nil) and omitted when zero.
func PostCard(handle string, postID int64, text string, at time.Time, loc *time.Location) H {
	head := JoinH(" · ", B("@"+handle), Link("open", PostURL(handle, postID)))
	var ts H
	if !at.IsZero() {
		if loc == nil {
			loc = time.UTC
		}
		ts = I(at.In(loc).Format(postTimeLayout))
	}
	return JoinH("\n", head, Esc(text), ts)
}

// PostURL is the canonical public URL of a post.
func PostURL(handle string, postID int64) string {
	return "https://twitter.com/" + handle + "/status/" + strconv.FormatInt(postID, 10)
}
