// Package tgui renders Telegram HTML messages: escaping helpers, a line
// builder for command replies and the post card used for forwarded posts.
package tgui
