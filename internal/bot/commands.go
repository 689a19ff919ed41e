package bot

import (
	"context"
	"errors"
	"fmt"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"voice-transcriber-bot/internal/store"
)

func (b *Bot) buildCommands(session Stage) map[string]HandlerFunc {
	typing := ChatActionStage(b.api, tgbotapi.ChatTyping)
	user := func(name string, h HandlerFunc) HandlerFunc {
		return Chain(h, b.errorStage(name), privateOnly, typing, session)
	}
	admin := func(name string, h HandlerFunc) HandlerFunc {
		return Chain(h, b.errorStage(name), b.requireBotAdmin, session)
	}
	chatAdmin := func(name string, h HandlerFunc, needChangeInfo bool) HandlerFunc {
		return Chain(h, b.errorStage(name), b.requireChatAdmin(needChangeInfo), session)
	}

	tos := user("tos", b.onTOS)
	tips := user("tips", b.onTips)
	superuser := admin("superuser", b.onSuperuser)
	parse := admin("parse", b.onParse)

	return map[string]HandlerFunc{
		"start":      user("start", b.onStart),
		"tips":       tips,
		"help":       tips,
		"tos":        tos,
		"disclaimer": tos,
		"optin":      user("optin", b.onOptIn),
		"optout":     user("optout", b.onOptOut),
		"opt":        user("opt", b.onOpt),

		"ignoretos":     chatAdmin("ignoretos", b.onIgnoreTOS, true),
		"refreshadmins": chatAdmin("refreshadmins", b.onRefreshAdmins, false),

		"superuser":  superuser,
		"su":         superuser,
		"superusers": admin("superusers", b.onSuperusers),
		"cleandl":    admin("cleandl", b.onCleanDownloads),
		"parse":      parse,
		"p":          parse,
		"r":          admin("r", b.onRecognize),
		"testignore": admin("testignore", b.onTestIgnore),
	}
}

func privateOnly(next HandlerFunc) HandlerFunc {
	return func(ctx context.Context, ev *Event) error {
		if !ev.Private() {
			return nil
		}
		return next(ctx, ev)
	}
}

func (b *Bot) requireBotAdmin(next HandlerFunc) HandlerFunc {
	return func(ctx context.Context, ev *Event) error {
		if ev.From == nil || !b.isAdmin(ev.From.ID) {
			ev.Logger.Debug().Msg("Ignoring admin command from non-admin")
			return nil
		}
		return next(ctx, ev)
	}
}

// requireChatAdmin lets bot administrators and chat administrators through.
// With needChangeInfo the chat administrator must be allowed to change the
// chat info.
func (b *Bot) requireChatAdmin(needChangeInfo bool) Stage {
	return func(next HandlerFunc) HandlerFunc {
		return func(ctx context.Context, ev *Event) error {
			if ev.From == nil {
				return nil
			}
			if b.isAdmin(ev.From.ID) {
				return next(ctx, ev)
			}
			if ev.Private() {
				return nil
			}
			admin, err := b.chatAdministrator(ev.Chat.ID, ev.From.ID)
			if err != nil {
				return err
			}
			if admin == nil || (needChangeInfo && !admin.CanChangeInfo) {
				ev.Logger.Debug().Msg("Ignoring chat admin command from unauthorized user")
				return nil
			}
			return next(ctx, ev)
		}
	}
}

func (b *Bot) onStart(ctx context.Context, ev *Event) error {
	_, err := b.sink.Send(ctx, ev.Chat.ID, StartText)
	return err
}

func (b *Bot) onTips(ctx context.Context, ev *Event) error {
	_, err := b.sink.Send(ctx, ev.Chat.ID, TipsText)
	return err
}

// onTOS shows the disclaimer with an accept button, or the revoke prompt
// once the terms are accepted.
func (b *Bot) onTOS(_ context.Context, ev *Event) error {
	if ev.User != nil && ev.User.TOSAccepted {
		return b.sendWithKeyboard(ev.Chat.ID, 0, RevokePromptText, revokeKeyboard())
	}
	return b.sendWithKeyboard(ev.Chat.ID, 0, DisclaimerText, agreeKeyboard())
}

func (b *Bot) onOptOut(ctx context.Context, ev *Event) error {
	if _, err := b.store.UpdateUser(ev.From.ID, func(u *store.User) { u.OptedOut = true }); err != nil {
		return err
	}
	_, err := b.sink.Send(ctx, ev.Chat.ID, OptOutText)
	return err
}

func (b *Bot) onOptIn(ctx context.Context, ev *Event) error {
	if _, err := b.store.UpdateUser(ev.From.ID, func(u *store.User) { u.OptedOut = false }); err != nil {
		return err
	}
	_, err := b.sink.Send(ctx, ev.Chat.ID, OptInText)
	return err
}

func (b *Bot) onOpt(ctx context.Context, ev *Event) error {
	text := OptedInStatusText
	if ev.User != nil && ev.User.OptedOut {
		text = OptedOutStatusText
	}
	_, err := b.sink.Send(ctx, ev.Chat.ID, text)
	return err
}

// onCallback handles the consent keyboards.
func (b *Bot) onCallback(ctx context.Context, ev *Event) error {
	q := ev.Update.CallbackQuery
	if _, err := b.api.Request(tgbotapi.NewCallback(q.ID, "")); err != nil {
		ev.Logger.Debug().Err(err).Msg("Failed to answer callback query")
	}
	if ev.Message == nil {
		return nil
	}

	chatID, messageID := ev.Message.Chat.ID, ev.Message.MessageID
	switch q.Data {
	case CallbackShowTOS:
		return b.editWithKeyboard(chatID, messageID, DisclaimerText, agreeKeyboard())
	case CallbackAgreeTOS:
		now := time.Now().UTC()
		if _, err := b.store.UpdateUser(q.From.ID, func(u *store.User) {
			u.TOSAccepted = true
			u.TOSAcceptedAt = &now
			u.OptedOut = false
		}); err != nil {
			return err
		}
		ev.Logger.Info().Msg("Terms of service accepted")
		return b.edit(ctx, chatID, messageID, AgreedText)
	case CallbackRevokeTOS:
		if _, err := b.store.UpdateUser(q.From.ID, func(u *store.User) {
			u.TOSAccepted = false
			u.TOSAcceptedAt = nil
		}); err != nil {
			return err
		}
		ev.Logger.Info().Msg("Terms of service revoked")
		return b.edit(ctx, chatID, messageID, RevokedText)
	default:
		return fmt.Errorf("unknown callback data %q", q.Data)
	}
}

func (b *Bot) edit(ctx context.Context, chatID int64, messageID int, text string) error {
	return b.sink.Edit(ctx, refOf(chatID, messageID), text)
}

func (b *Bot) editWithKeyboard(chatID int64, messageID int, text string, kb tgbotapi.InlineKeyboardMarkup) error {
	edit := tgbotapi.NewEditMessageTextAndMarkup(chatID, messageID, text, kb)
	edit.ParseMode = tgbotapi.ModeHTML
	if _, err := b.api.Request(edit); err != nil && !notModified(err) {
		return fmt.Errorf("edit message %d in chat %d: %w", messageID, chatID, err)
	}
	return nil
}

func (b *Bot) onIgnoreTOS(ctx context.Context, ev *Event) error {
	if ev.Private() {
		_, err := b.sink.Reply(ctx, ev.Ref(), GroupOnlyText)
		return err
	}
	chat, err := b.store.UpdateChat(ev.Chat.ID, func(c *store.Chat) { c.IgnoreConsent = !c.IgnoreConsent })
	if err != nil {
		return err
	}
	ev.Logger.Info().Bool("ignoreConsent", chat.IgnoreConsent).Msg("Chat consent policy changed")
	text := IgnoreConsentOffText
	if chat.IgnoreConsent {
		text = IgnoreConsentOnText
	}
	_, err = b.sink.Reply(ctx, ev.Ref(), text)
	return err
}

func (b *Bot) onRefreshAdmins(ctx context.Context, ev *Event) error {
	if ev.Private() {
		_, err := b.sink.Reply(ctx, ev.Ref(), GroupOnlyText)
		return err
	}
	admins, err := b.refreshAdministrators(ev.Chat.ID)
	if err != nil {
		return err
	}
	_, err = b.sink.Reply(ctx, ev.Ref(), adminsSavedText(len(admins)))
	return err
}

func isNotFound(err error) bool {
	return errors.Is(err, store.ErrNotFound)
}
