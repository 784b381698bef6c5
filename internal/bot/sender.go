package bot

import (
	"context"

	tele "gopkg.in/telebot.v4"
)

// Sender adapts the bot to notify.TextSender.
type Sender struct {
	B *tele.Bot
}

func (s Sender) SendText(_ context.Context, chatID int64, text string) error {
	_, err := s.B.Send(tele.ChatID(chatID), text)
	return err
}
