package tgui

import (
	"errors"
	"strings"
)

// MaxCallbackDataLen is Telegram's callback_data size limit in bytes.
const MaxCallbackDataLen = 64

var ErrCallbackDataTooLong = errors.New("tgui: callback_data too long")

// Data formats callback data as "key" or "key:payload".
func Data(key, payload string) string {
	key = strings.TrimSpace(key)
	if payload == "" {
		return key
	}
	return key + ":" + payload
}

// CheckData reports whether s fits Telegram's callback_data limit.
func CheckData(s string) error {
	if len(s) > MaxCallbackDataLen {
		return ErrCallbackDataTooLong
	}
	return nil
}
