package adapter

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	tele "gopkg.in/telebot.v4"

	kit "referbot/internal/transport"
)

func TestClassifyError(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name   string
		err    error
		kind   kit.ErrorKind
		reason string
	}{
		{"flood", tele.FloodError{RetryAfter: 3}, kit.KindTransient, "flood control: retry after 3s"},
		{"blocked", fmt.Errorf("telebot: %w", &tele.Error{Code: 403, Description: "Forbidden: bot was blocked by the user"}), kit.KindPermanent, "Forbidden: bot was blocked by the user"},
		{"chat not found", &tele.Error{Code: 400, Description: "Bad Request: chat not found"}, kit.KindPermanent, "Bad Request: chat not found"},
		{"server error text", errors.New("telegram: Internal Server Error (500)"), kit.KindTransient, "Internal Server Error"},
		{"too many requests text", errors.New("telebot: telegram: Too Many Requests (429)"), kit.KindTransient, "Too Many Requests"},
		{"unknown 4xx text", errors.New("telegram: Bad Request: message text is empty (400)"), kit.KindPermanent, "Bad Request: message text is empty"},
		{"deadline", fmt.Errorf("telebot: %w", context.DeadlineExceeded), kit.KindTransient, "timeout"},
		{"network", &net.OpError{Op: "dial", Net: "tcp", Err: errors.New("connection refused")}, kit.KindTransient, "network error"},
		{"unclassified", errors.New("boom"), kit.KindPermanent, "boom"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			got := classifyError(tc.err)
			require.Error(t, got)
			assert.Equal(t, tc.kind, kit.KindOf(got))
			assert.Equal(t, tc.reason, kit.ReasonOf(got))
		})
	}
}

func TestClassifyErrorKeepsExistingClassification(t *testing.T) {
	t.Parallel()
	in := kit.Transient(errors.New("x"), "already")
	assert.Same(t, in, classifyError(in))
	assert.NoError(t, classifyError(nil))
}

func TestSplitTelegramText(t *testing.T) {
	t.Parallel()

	t.Run("short text untouched", func(t *testing.T) {
		assert.Equal(t, []string{"hello"}, splitTelegramText("hello", 10, ""))
	})

	t.Run("prefers newline", func(t *testing.T) {
		got := splitTelegramText("aaaaaa\nbbbbbbbb", 10, "")
		assert.Equal(t, []string{"aaaaaa", "bbbbbbbb"}, got)
	})

	t.Run("hard cut counts runes", func(t *testing.T) {
		s := strings.Repeat("é", 25)
		got := splitTelegramText(s, 10, "")
		require.Len(t, got, 3)
		for _, c := range got {
			assert.LessOrEqual(t, len([]rune(c)), 10)
		}
		assert.Equal(t, s, strings.Join(got, ""))
	})

	t.Run("html tag not split", func(t *testing.T) {
		got := splitTelegramText("abcdefg<b>x</b>", 9, "HTML")
		assert.Equal(t, "abcdefg", got[0])
		assert.True(t, strings.HasPrefix(got[1], "<b>"))
	})
}
