package bot

import (
	"context"
	"fmt"
	"strings"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"voice-transcriber-bot/internal/service/delivery"
)

// API is the subset of *tgbotapi.BotAPI used by the bot.
type API interface {
	GetMe() (tgbotapi.User, error)
	GetUpdatesChan(config tgbotapi.UpdateConfig) tgbotapi.UpdatesChannel
	StopReceivingUpdates()
	Send(c tgbotapi.Chattable) (tgbotapi.Message, error)
	Request(c tgbotapi.Chattable) (*tgbotapi.APIResponse, error)
	GetFileDirectURL(fileID string) (string, error)
	GetChatAdministrators(config tgbotapi.ChatAdministratorsConfig) ([]tgbotapi.ChatMember, error)
}

// HTMLSink sends HTML formatted messages through the Bot API. It implements
// delivery.Sink.
type HTMLSink struct {
	api API
}

// NewHTMLSink creates a sink writing through api.
func NewHTMLSink(api API) *HTMLSink {
	return &HTMLSink{api: api}
}

// Send implements delivery.Sink.
func (s *HTMLSink) Send(ctx context.Context, chatID int64, text string) (delivery.MessageRef, error) {
	return s.send(ctx, newHTMLMessage(chatID, text))
}

// Reply implements delivery.Sink. Replies are sent without notification.
func (s *HTMLSink) Reply(ctx context.Context, to delivery.MessageRef, text string) (delivery.MessageRef, error) {
	msg := newHTMLMessage(to.ChatID, text)
	msg.ReplyToMessageID = to.MessageID
	msg.AllowSendingWithoutReply = true
	msg.DisableNotification = true
	return s.send(ctx, msg)
}

// Edit implements delivery.Sink. Editing a message to its current text is
// not an error.
func (s *HTMLSink) Edit(ctx context.Context, ref delivery.MessageRef, text string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	edit := tgbotapi.NewEditMessageText(ref.ChatID, ref.MessageID, text)
	edit.ParseMode = tgbotapi.ModeHTML
	edit.DisableWebPagePreview = true
	if _, err := s.api.Request(edit); err != nil && !notModified(err) {
		return fmt.Errorf("edit message %d in chat %d: %w", ref.MessageID, ref.ChatID, err)
	}
	return nil
}

// Delete implements delivery.Sink.
func (s *HTMLSink) Delete(ctx context.Context, ref delivery.MessageRef) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if _, err := s.api.Request(tgbotapi.NewDeleteMessage(ref.ChatID, ref.MessageID)); err != nil {
		return fmt.Errorf("delete message %d in chat %d: %w", ref.MessageID, ref.ChatID, err)
	}
	return nil
}

// MaxMessageLength implements delivery.Sink.
func (s *HTMLSink) MaxMessageLength() int {
	return delivery.MaxMessageLength
}

func (s *HTMLSink) send(ctx context.Context, msg tgbotapi.MessageConfig) (delivery.MessageRef, error) {
	if err := ctx.Err(); err != nil {
		return delivery.MessageRef{}, err
	}
	sent, err := s.api.Send(msg)
	if err != nil {
		return delivery.MessageRef{}, fmt.Errorf("send message to chat %d: %w", msg.ChatID, err)
	}
	return delivery.MessageRef{ChatID: msg.ChatID, MessageID: sent.MessageID}, nil
}

func newHTMLMessage(chatID int64, text string) tgbotapi.MessageConfig {
	msg := tgbotapi.NewMessage(chatID, text)
	msg.ParseMode = tgbotapi.ModeHTML
	msg.DisableWebPagePreview = true
	return msg
}

func notModified(err error) bool {
	return strings.Contains(err.Error(), "message is not modified")
}
