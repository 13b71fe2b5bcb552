package router

import (
	"html"
	"strings"
)

// HelpText renders the visible commands in Telegram HTML. Owner-only commands
// are listed only when owner is true.
func (m *CommandManager) HelpText(owner bool) string {
	cmds := m.Commands()

	var public, private []string
	for _, c := range cmds {
		if c.Hidden {
			continue
		}
		line := helpLine(c)
		if c.Access == AccessOwnerOnly {
			if owner {
				private = append(private, line)
			}
			continue
		}
		public = append(public, line)
	}

	lines := append([]string{"📚 <b>Commands</b>"}, public...)
	if len(private) > 0 {
		lines = append(lines, "", "🔒 <b>Owner</b>")
		lines = append(lines, private...)
	}
	return strings.Join(lines, "\n")
}

func helpLine(c Command) string {
	usage := strings.TrimSpace(c.Usage)
	if usage == "" {
		usage = "/" + c.Name
	}
	line := "<code>" + html.EscapeString(usage) + "</code>"
	if d := strings.TrimSpace(c.Description); d != "" {
		line += " - " + html.EscapeString(d)
	}
	return line
}
