package tgui

import (
	tele "gopkg.in/telebot.v4"
)

// Button is one inline keyboard button.
type Button = tele.InlineButton

// Btn is a callback button. Build data with Data.
func Btn(text, data string) Button { return Button{Text: text, Data: data} }

func URLBtn(text, url string) Button { return Button{Text: text, URL: url} }

// Inline lays out an inline keyboard row by row.
type Inline struct {
	rows [][]Button
}

func NewInline() *Inline { return &Inline{} }

func (i *Inline) Row(btns ...Button) *Inline {
	if len(btns) > 0 {
		i.rows = append(i.rows, btns)
	}
	return i
}

// Column puts each button on its own row.
func (i *Inline) Column(btns ...Button) *Inline { return i.Grid(1, btns...) }

// Grid fills rows of cols buttons; the last row may be shorter.
func (i *Inline) Grid(cols int, btns ...Button) *Inline {
	cols = max(cols, 1)
	for len(btns) > 0 {
		n := min(cols, len(btns))
		i.Row(btns[:n:n]...)
		btns = btns[n:]
	}
	return i
}

// Markup returns nil for an empty keyboard.
func (i *Inline) Markup() *tele.ReplyMarkup {
	if i == nil || len(i.rows) == 0 {
		return nil
	}
	return &tele.ReplyMarkup{InlineKeyboard: i.rows}
}
