package router

import (
	"math/rand/v2"
	"strconv"
	"strings"
	"unicode"
)

// newReqID returns a short random id that tags one request's log lines.
func newReqID() string {
	return strconv.FormatUint(rand.Uint64()>>16, 36)
}

// parseCommand splits "/name@bot arg1 arg2" into a lower-cased name and args.
// ok is false for text that is not a command.
func parseCommand(text string) (name string, args []string, ok bool) {
	text = strings.TrimSpace(text)
	if !strings.HasPrefix(text, "/") {
		return "", nil, false
	}
	words := splitArgs(text[1:])
	if len(words) == 0 {
		return "", nil, false
	}
	name, _, _ = strings.Cut(words[0], "@")
	if name == "" {
		return "", nil, false
	}
	return strings.ToLower(name), words[1:], true
}

// splitArgs splits on whitespace. Single or double quotes group words and a
// backslash takes the next rune literally:
//
//	a "b c" 'd' e\ f  ->  [a, b c, d, e f]
func splitArgs(s string) []string {
	words := []string{}
	var (
		cur     []rune
		inWord  bool
		quote   rune
		escaped bool
	)
	for _, r := range s {
		switch {
		case escaped:
			cur, inWord, escaped = append(cur, r), true, false
		case r == '\\':
			escaped = true
		case quote != 0 && r == quote:
			quote = 0
		case quote != 0:
			cur = append(cur, r)
		case r == '"' || r == '\'':
			quote, inWord = r, true
		case unicode.IsSpace(r):
			if inWord {
				words = append(words, string(cur))
				cur, inWord = cur[:0], false
			}
		default:
			cur, inWord = append(cur, r), true
		}
	}
	if inWord {
		words = append(words, string(cur))
	}
	return words
}

// splitCallbackData splits "key:payload" into its parts.
func splitCallbackData(data string) (key, payload string) {
	key, payload, _ = strings.Cut(strings.TrimSpace(data), ":")
	return key, payload
}
