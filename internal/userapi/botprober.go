package userapi

import (
	"context"
	"strings"

	tele "gopkg.in/telebot.v4"
)

// BotProber checks channel membership through the bot API. The bot must be an
// admin of (or at least present in) the probed channels for lookups to work;
// lookup failures are reported as errors so the caller can stay fail-closed.
type BotProber struct {
	bot *tele.Bot
}

func NewBotProber(b *tele.Bot) *BotProber { return &BotProber{bot: b} }

func (p *BotProber) IsMember(ctx context.Context, channel string, userID int64) (bool, error) {
	chat, err := p.bot.ChatByUsername(normalizeChannel(channel))
	if err != nil {
		return false, err
	}
	m, err := p.bot.ChatMemberOf(chat, &tele.User{ID: userID})
	if err != nil {
		return false, err
	}
	switch m.Role {
	case tele.Left, tele.Kicked:
		return false, nil
	default:
		return true, nil
	}
}

// normalizeChannel reduces the stored channel reference to the @username form
// the bot API expects. Link forms (t.me/...) are accepted for operator
// convenience.
func normalizeChannel(ch string) string {
	ch = strings.TrimSpace(ch)
	for _, prefix := range []string{"https://t.me/", "http://t.me/", "t.me/"} {
		if strings.HasPrefix(ch, prefix) {
			ch = strings.TrimPrefix(ch, prefix)
			break
		}
	}
	if !strings.HasPrefix(ch, "@") && ch != "" {
		ch = "@" + ch
	}
	return ch
}
