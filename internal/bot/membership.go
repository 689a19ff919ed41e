package bot

import (
	"context"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"voice-transcriber-bot/internal/store"
)

// onNewMembers reacts to the bot being added to a group. Unknown groups are
// left when configured, unless a bot administrator added the bot.
func (b *Bot) onNewMembers(_ context.Context, ev *Event) error {
	added := false
	for _, m := range ev.Message.NewChatMembers {
		if m.ID == b.self.ID {
			added = true
			break
		}
	}
	if !added {
		return nil
	}

	chatID := ev.Chat.ID
	if b.cfg.ExitUnknownGroups && (ev.From == nil || !b.isAdmin(ev.From.ID)) {
		ev.Logger.Info().Msg("Added to a group by an unknown user, leaving")
		if _, err := b.api.Request(tgbotapi.LeaveChatConfig{ChatID: chatID}); err != nil {
			return err
		}
		_, err := b.store.UpdateChat(chatID, func(c *store.Chat) { c.Left = true })
		return err
	}

	if _, err := b.store.UpdateChat(chatID, func(c *store.Chat) { c.Left = false }); err != nil {
		return err
	}
	ev.Logger.Info().Str("title", ev.Chat.Title).Msg("Added to group")
	if _, err := b.refreshAdministrators(chatID); err != nil {
		ev.Logger.Warn().Err(err).Msg("Failed to fetch administrators of new group")
	}
	return nil
}

// onChatMember keeps the stored administrators of a chat in sync with
// promotions and demotions.
func (b *Bot) onChatMember(_ context.Context, ev *Event) error {
	u := ev.Update.ChatMember
	chatID := u.Chat.ID
	old, cur := u.OldChatMember, u.NewChatMember
	if cur.User == nil {
		return nil
	}

	switch {
	case cur.IsAdministrator() || cur.IsCreator():
		a := administratorFrom(chatID, cur)
		if err := b.store.SaveAdministrator(&a); err != nil {
			return err
		}
		ev.Logger.Debug().Int64("targetId", cur.User.ID).Str("status", cur.Status).Msg("Administrator saved")
	case old.IsAdministrator() || old.IsCreator():
		if err := b.store.DeleteAdministrator(chatID, cur.User.ID); err != nil {
			return err
		}
		ev.Logger.Debug().Int64("targetId", cur.User.ID).Str("status", cur.Status).Msg("Administrator removed")
	default:
		return nil
	}
	b.admins.Remove(chatID)
	return nil
}

// onMyChatMember records whether the bot is still part of a chat.
func (b *Bot) onMyChatMember(_ context.Context, ev *Event) error {
	cur := ev.Update.MyChatMember.NewChatMember
	left := cur.HasLeft() || cur.WasKicked()
	_, err := b.store.UpdateChat(ev.Chat.ID, func(c *store.Chat) {
		c.Left = left
		c.Type = ev.Chat.Type
		if ev.Chat.Title != "" {
			c.Title = ev.Chat.Title
		}
	})
	if err != nil {
		return err
	}
	ev.Logger.Info().Str("status", cur.Status).Bool("left", left).Msg("Bot membership changed")
	return nil
}
