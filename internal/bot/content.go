package bot

import (
	"math/rand/v2"
	"strconv"
	"strings"

	"referbot/internal/broadcast"
	"referbot/pkg/tgui"
)

// Callback keys of the inline menu.
const (
	CBFreeBets        = "free_bets"
	CBEarnMoney       = "earn_money"
	CBOfficialChannel = "official_channel"
	CBHowToUse        = "how_to_use"
	CBMainMenu        = "main_menu"
)

// Content is the static copy of the bot. Empty fields use DefaultContent.
type Content struct {
	BotTitle   string
	ChannelURL string
	Contact    string
	Tips       []string
}

func DefaultContent() Content {
	return Content{
		BotTitle:   "MR AMBIUS PREDICTIONS",
		ChannelURL: "https://t.me/+tJ5HBX3pXA5MWVk",
		Contact:    "@Honorable_Hunter_5G",
		Tips: []string{
			"⚽ Over 2.5 goals in Manchester United vs. Arsenal (Odds: 2.10)",
			"🏀 Lakers to win against Celtics (Odds: 1.85)",
			"🎾 Nadal to win in straight sets (Odds: 3.50)",
			"⚽ Both teams to score in Liverpool vs. Chelsea (Odds: 1.75)",
			"🏈 Chiefs to cover the spread (-6.5) vs. Raiders (Odds: 2.00)",
		},
	}
}

func (c Content) withDefaults() Content {
	d := DefaultContent()
	if strings.TrimSpace(c.BotTitle) == "" {
		c.BotTitle = d.BotTitle
	}
	if strings.TrimSpace(c.ChannelURL) == "" {
		c.ChannelURL = d.ChannelURL
	}
	if strings.TrimSpace(c.Contact) == "" {
		c.Contact = d.Contact
	}
	tips := make([]string, 0, len(c.Tips))
	for _, t := range c.Tips {
		if t = strings.TrimSpace(t); t != "" {
			tips = append(tips, t)
		}
	}
	if len(tips) == 0 {
		tips = d.Tips
	}
	c.Tips = tips
	return c
}

// MainMenu is the keyboard shown under welcome, help and broadcast messages.
func MainMenu() *tgui.Inline {
	return tgui.NewInline().Column(
		tgui.Btn("FREE BETS", tgui.Data(CBFreeBets, "")),
		tgui.Btn("EARN MONEY FOR FREE", tgui.Data(CBEarnMoney, "")),
		tgui.Btn("Official Channel", tgui.Data(CBOfficialChannel, "")),
		tgui.Btn("How To Use This Bot ?", tgui.Data(CBHowToUse, "")),
	)
}

func backMenu() *tgui.Inline {
	return tgui.NewInline().Row(tgui.Btn("Back to Menu", tgui.Data(CBMainMenu, "")))
}

// money renders whole amounts without decimals ("$10") and others with two ("$2.50").
func money(v float64) string {
	if v == float64(int64(v)) {
		return "$" + strconv.FormatInt(int64(v), 10)
	}
	return "$" + strconv.FormatFloat(v, 'f', 2, 64)
}

// Composer builds the daily broadcast message.
type Composer struct {
	Content func() Content
	Bonus   func() float64
	// Pick returns an index in [0, n). Defaults to math/rand.
	Pick func(n int) int
}

func (c Composer) Compose() broadcast.Message {
	content := c.Content().withDefaults()
	pick := c.Pick
	if pick == nil {
		pick = rand.IntN
	}
	bonus := referralBonus(c.Bonus)

	m := tgui.New().Plain().DisablePreview(false).
		Line("🌟 " + content.BotTitle + " Daily Update! 🌟").
		Blank().
		Line("Today's Betting Tip: " + content.Tips[pick(len(content.Tips))]).
		Blank().
		Line("Earn " + money(bonus) + " per friend invited! Use /balance to check your earnings.").
		Line("Join our channel for more tips: " + content.ChannelURL).
		Line("Contact " + content.Contact + " for questions.").
		Inline(MainMenu()).
		Build()
	return broadcast.Message{Text: m.Text, Options: m.Opt}
}

func referralBonus(f func() float64) float64 {
	if f == nil {
		return 0
	}
	return f()
}
