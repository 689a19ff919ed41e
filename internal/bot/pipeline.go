package bot

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/rs/zerolog"

	"voice-transcriber-bot/internal/observability/logging"
	"voice-transcriber-bot/internal/observability/metrics"
	"voice-transcriber-bot/internal/service/delivery"
	"voice-transcriber-bot/internal/service/eligibility"
	"voice-transcriber-bot/internal/store"
)

// Event is one update flowing through a handler pipeline. Stages fill in the
// fields below Decision as they run.
type Event struct {
	Update  tgbotapi.Update
	Message *tgbotapi.Message
	Chat    *tgbotapi.Chat
	From    *tgbotapi.User
	Logger  zerolog.Logger

	// Set by SessionStage.
	User     *store.User
	ChatInfo *store.Chat

	// Set by EligibilityStage.
	Decision eligibility.Decision
}

// NewEvent extracts the message, chat and sender of an update.
func NewEvent(u tgbotapi.Update) *Event {
	ev := &Event{Update: u}
	switch {
	case u.Message != nil:
		ev.Message = u.Message
		ev.Chat = u.Message.Chat
		ev.From = u.Message.From
	case u.CallbackQuery != nil:
		ev.Message = u.CallbackQuery.Message
		ev.From = u.CallbackQuery.From
		if ev.Message != nil {
			ev.Chat = ev.Message.Chat
		}
	case u.MyChatMember != nil:
		ev.Chat = &u.MyChatMember.Chat
		ev.From = &u.MyChatMember.From
	case u.ChatMember != nil:
		ev.Chat = &u.ChatMember.Chat
		ev.From = &u.ChatMember.From
	}

	var chatID, userID int64
	var messageID int
	if ev.Chat != nil {
		chatID = ev.Chat.ID
	}
	if ev.Message != nil {
		messageID = ev.Message.MessageID
	}
	if ev.From != nil {
		userID = ev.From.ID
	}
	ev.Logger = logging.WithUpdate(u.UpdateID, chatID, messageID, userID)
	return ev
}

// Private reports whether the update comes from a private chat.
func (e *Event) Private() bool {
	return e.Chat != nil && e.Chat.IsPrivate()
}

// Ref returns a reference to the event's message.
func (e *Event) Ref() delivery.MessageRef {
	if e.Message == nil || e.Message.Chat == nil {
		return delivery.MessageRef{}
	}
	return delivery.MessageRef{ChatID: e.Message.Chat.ID, MessageID: e.Message.MessageID}
}

// Provenance returns where a message originally came from.
func Provenance(m *tgbotapi.Message) eligibility.Provenance {
	switch {
	case m.ForwardFrom != nil && m.ForwardFrom.IsBot:
		return eligibility.Provenance{Origin: eligibility.OriginBot}
	case m.ForwardFrom != nil:
		return eligibility.Provenance{Origin: eligibility.OriginUser, OriginUserID: m.ForwardFrom.ID}
	case m.ForwardSenderName != "", m.ForwardFromChat != nil:
		return eligibility.Provenance{Origin: eligibility.OriginHidden}
	default:
		return eligibility.Provenance{Origin: eligibility.OriginDirect}
	}
}

// HandlerFunc handles one event.
type HandlerFunc func(ctx context.Context, ev *Event) error

// Stage wraps a handler with a cross-cutting concern.
type Stage func(next HandlerFunc) HandlerFunc

// Chain composes stages around h. The first stage is the outermost.
func Chain(h HandlerFunc, stages ...Stage) HandlerFunc {
	for i := len(stages) - 1; i >= 0; i-- {
		h = stages[i](h)
	}
	return h
}

// ChatActionStage shows action (e.g. typing) in the chat before the handler runs.
func ChatActionStage(api API, action string) Stage {
	return func(next HandlerFunc) HandlerFunc {
		return func(ctx context.Context, ev *Event) error {
			if ev.Chat != nil {
				if _, err := api.Request(tgbotapi.NewChatAction(ev.Chat.ID, action)); err != nil {
					ev.Logger.Debug().Err(err).Msg("Failed to send chat action")
				}
			}
			return next(ctx, ev)
		}
	}
}

// ErrorPolicy decides which chats see handler errors.
type ErrorPolicy struct {
	SilencePrivate bool
	SilenceGroup   bool
}

// ErrorTranslationStage recovers panics and turns handler errors into a reply
// to the triggering message, unless the policy silences the chat type. The
// error is always logged and never returned.
func ErrorTranslationStage(name string, sink delivery.Sink, policy ErrorPolicy, m *metrics.Metrics) Stage {
	return func(next HandlerFunc) HandlerFunc {
		return func(ctx context.Context, ev *Event) (err error) {
			defer func() {
				if r := recover(); r != nil {
					m.RecordHandlerPanic()
					ev.Logger.Error().Str("stack", string(debug.Stack())).Msgf("Handler panic: %v", r)
					err = fmt.Errorf("panic: %v", r)
				}
				if err == nil {
					return
				}
				if errors.Is(err, context.Canceled) {
					err = nil
					return
				}

				m.RecordHandlerError(name)
				ev.Logger.Error().Err(err).Str("handler", name).Msg("Handler failed")

				silenced := policy.SilenceGroup
				if ev.Private() {
					silenced = policy.SilencePrivate
				}
				if !silenced && ev.Message != nil {
					if _, rerr := sink.Reply(ctx, ev.Ref(), ErrorText(err)); rerr != nil {
						ev.Logger.Warn().Err(rerr).Msg("Failed to report handler error")
					}
				}
				err = nil
			}()
			return next(ctx, ev)
		}
	}
}

// Sessions loads and records the users and chats an update refers to.
// *store.Store implements it.
type Sessions interface {
	UpdateUser(id int64, fn func(u *store.User)) (*store.User, error)
	UpdateChat(id int64, fn func(c *store.Chat)) (*store.Chat, error)
}

// SessionStage loads the sender and the chat, creating or refreshing their
// records, and attaches them to the event.
func SessionStage(sessions Sessions) Stage {
	return func(next HandlerFunc) HandlerFunc {
		return func(ctx context.Context, ev *Event) error {
			if ev.From != nil {
				from := ev.From
				u, err := sessions.UpdateUser(from.ID, func(u *store.User) {
					u.Name = displayName(from)
					u.Username = from.UserName
				})
				if err != nil {
					return fmt.Errorf("load user %d: %w", from.ID, err)
				}
				ev.User = u
			}
			if ev.Chat != nil {
				chat := ev.Chat
				c, err := sessions.UpdateChat(chat.ID, func(c *store.Chat) {
					c.Type = chat.Type
					if chat.Title != "" {
						c.Title = chat.Title
					}
				})
				if err != nil {
					return fmt.Errorf("load chat %d: %w", chat.ID, err)
				}
				ev.ChatInfo = c
			}
			return next(ctx, ev)
		}
	}
}

// EligibilityStage evaluates whether the event's voice message may be
// transcribed. Allowed events continue down the pipeline; denied ones go to
// denied, which may be nil to drop them silently. It must run after
// SessionStage.
func EligibilityStage(eval *eligibility.Evaluator, isAdmin func(userID int64) bool, denied HandlerFunc, m *metrics.Metrics) Stage {
	return func(next HandlerFunc) HandlerFunc {
		return func(ctx context.Context, ev *Event) error {
			d, scope, err := evaluate(ctx, eval, isAdmin, ev)
			if err != nil {
				return fmt.Errorf("evaluate eligibility: %w", err)
			}
			m.RecordEligibility(scope, d.Allow, d.Reason.String())
			ev.Decision = d

			if !d.Allow {
				ev.Logger.Info().Str("scope", scope).Str("reason", d.Reason.String()).Msg("Voice message not eligible")
				if denied == nil {
					return nil
				}
				return denied(ctx, ev)
			}
			return next(ctx, ev)
		}
	}
}

func evaluate(ctx context.Context, eval *eligibility.Evaluator, isAdmin func(int64) bool, ev *Event) (eligibility.Decision, string, error) {
	var subject eligibility.Subject
	if ev.User != nil {
		subject = ev.User.Subject()
	}
	prov := Provenance(ev.Message)

	if ev.Private() {
		scope := eligibility.ScopePrivate
		if prov.Origin.Forwarded() {
			scope = eligibility.ScopePrivateForward
		}
		admin := ev.From != nil && isAdmin(ev.From.ID)
		d, err := eval.Private(ctx, eligibility.PrivateInput{Admin: admin, Requester: subject, Provenance: prov})
		return d, scope, err
	}

	ignore := ev.ChatInfo != nil && ev.ChatInfo.IgnoreConsent
	d, err := eval.Group(ctx, eligibility.GroupInput{IgnoreConsent: ignore, Sender: subject, Provenance: prov})
	return d, eligibility.ScopeGroup, err
}

func displayName(u *tgbotapi.User) string {
	if u.LastName == "" {
		return u.FirstName
	}
	return u.FirstName + " " + u.LastName
}
