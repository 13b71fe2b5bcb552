package router

import (
	"strings"
	"unicode"

	kit "referbot/internal/transport"
)

// sanitizeTelegramCommand maps a name onto Telegram's [a-z0-9_]{1,32}.
// Runs of other characters become one underscore; a leading digit gets a "cmd_" prefix.
func sanitizeTelegramCommand(s string) string {
	words := strings.FieldsFunc(strings.ToLower(s), func(r rune) bool {
		return (r < 'a' || r > 'z') && (r < '0' || r > '9')
	})
	out := strings.Join(words, "_")
	if out != "" && unicode.IsDigit(rune(out[0])) {
		out = "cmd_" + out
	}
	if len(out) > 32 {
		out = strings.TrimRight(out[:32], "_")
	}
	return out
}

// buildTelegramMenuCommands lists public commands first, then owner-only ones
// marked with a lock, keeping registration order within each group.
func buildTelegramMenuCommands(cmds []Command) []kit.BotCommand {
	seen := make(map[string]bool, len(cmds))
	var public, owner []kit.BotCommand
	for _, c := range cmds {
		if c.Hidden {
			continue
		}
		name := sanitizeTelegramCommand(c.Name)
		if name == "" || seen[name] {
			continue
		}
		seen[name] = true

		desc := strings.ReplaceAll(strings.TrimSpace(c.Description), "\n", " ")
		if desc == "" {
			desc = name
		}
		if c.Access == AccessOwnerOnly {
			owner = append(owner, kit.BotCommand{Command: name, Description: "🔒 " + desc})
			continue
		}
		public = append(public, kit.BotCommand{Command: name, Description: desc})
	}
	out := append(public, owner...)
	if len(out) > 100 {
		out = out[:100]
	}
	return out
}
