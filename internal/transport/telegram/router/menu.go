package router

import (
	"strings"

	kit "tweetfwd/internal/transport"
	"tweetfwd/pkg/tgui"
)

// sanitizeCommand maps a name onto Telegram's [a-z0-9_]{1,32} command set.
func sanitizeCommand(s string) string {
	s = strings.ToLower(strings.TrimSpace(s))
	var b strings.Builder
	b.Grow(len(s))
	lastUnderscore := false
	for _, r := range s {
		switch {
		case (r >= 'a' && r <= 'z') || (r >= '0' && r <= '9'):
			b.WriteRune(r)
			lastUnderscore = false
		case r == '_' || r == '-' || r == ' ' || r == '/':
			if b.Len() > 0 && !lastUnderscore {
				b.WriteByte('_')
				lastUnderscore = true
			}
		}
	}
	out := strings.Trim(b.String(), "_")
	if len(out) > 32 {
		out = strings.TrimRight(out[:32], "_")
	}
	if out != "" && out[0] >= '0' && out[0] <= '9' {
		return ""
	}
	return out
}

// menuCommands lists public commands first, admin ones after, keeping
// registration order within each group.
func menuCommands(cmds []*Command) []kit.BotCommand {
	out := make([]kit.BotCommand, 0, len(cmds))
	for _, access := range []Access{AccessEveryone, AccessAdminOnly} {
		for _, c := range cmds {
			if c.Access != access {
				continue
			}
			desc := strings.ReplaceAll(strings.TrimSpace(c.Description), "\n", " ")
			if desc == "" {
				desc = c.Name
			}
			if access == AccessAdminOnly {
				desc = "🔒 " + desc
			}
			desc = tgui.TruncRunes(desc, 255)
			out = append(out, kit.BotCommand{Command: c.Name, Description: desc})
			if len(out) == 100 {
				return out
			}
		}
	}
	return out
}
