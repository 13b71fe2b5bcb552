package adapter

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"regexp"
	"strconv"

	tele "gopkg.in/telebot.v4"

	kit "referbot/internal/transport"
)

// telebot renders API failures it has no type for as "telegram: <desc> (<code>)".
var apiCodeRe = regexp.MustCompile(`^(?:telebot: )?telegram: (.*) \((\d{3})\)$`)

// classifyError maps a telebot failure onto a transient or permanent SendError.
func classifyError(err error) error {
	if err == nil {
		return nil
	}
	var se *kit.SendError
	if errors.As(err, &se) {
		return err
	}

	var flood tele.FloodError
	if errors.As(err, &flood) {
		return kit.Transient(err, fmt.Sprintf("flood control: retry after %ds", flood.RetryAfter))
	}

	var apiErr *tele.Error
	if errors.As(err, &apiErr) && apiErr != nil {
		return byCode(err, apiErr.Code, apiErr.Description)
	}
	if m := apiCodeRe.FindStringSubmatch(err.Error()); m != nil {
		code, _ := strconv.Atoi(m[2])
		return byCode(err, code, m[1])
	}

	if errors.Is(err, context.DeadlineExceeded) {
		return kit.Transient(err, "timeout")
	}
	if errors.Is(err, io.ErrUnexpectedEOF) || errors.Is(err, io.EOF) {
		return kit.Transient(err, "connection closed")
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		if netErr.Timeout() {
			return kit.Transient(err, "timeout")
		}
		return kit.Transient(err, "network error")
	}
	return kit.Permanent(err, err.Error())
}

func byCode(err error, code int, desc string) error {
	if desc == "" {
		desc = http.StatusText(code)
	}
	switch {
	case code == http.StatusTooManyRequests:
		return kit.Transient(err, desc)
	case code >= 500:
		return kit.Transient(err, desc)
	default:
		// 400 chat not found, 403 blocked/deactivated/not started, other 4xx
		return kit.Permanent(err, desc)
	}
}
