// Package notify delivers best-effort operator and user messages. Delivery
// failures are logged and swallowed: a dead notification channel must never
// turn into an allocation or policy failure upstream.
package notify

import (
	"context"

	"github.com/mahdimizabiself-rgb/Self/pkg/logx"
)

// TextSender is the minimal outbound messaging surface (implemented by the
// bot transport).
type TextSender interface {
	SendText(ctx context.Context, chatID int64, text string) error
}

type Service struct {
	sender TextSender
	owner  int64
	log    logx.Logger
}

func New(sender TextSender, owner int64, log logx.Logger) *Service {
	return &Service{sender: sender, owner: owner, log: log}
}

// Owner sends text to the operator. Errors are swallowed.
func (s *Service) Owner(ctx context.Context, text string) {
	if s == nil || s.sender == nil {
		return
	}
	if err := s.sender.SendText(ctx, s.owner, text); err != nil {
		s.log.Warn("operator notification failed", logx.Err(err))
		return
	}
	s.log.Debug("operator notified")
}

// User sends text to one user chat; the error is returned for callers that
// track delivery (broadcast), but most callers ignore it.
func (s *Service) User(ctx context.Context, chatID int64, text string) error {
	if s == nil || s.sender == nil {
		return nil
	}
	err := s.sender.SendText(ctx, chatID, text)
	if err != nil {
		s.log.Debug("user notification failed", logx.Int64("chat_id", chatID), logx.Err(err))
	}
	return err
}
