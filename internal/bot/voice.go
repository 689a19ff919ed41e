package bot

import (
	"context"
	"fmt"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"voice-transcriber-bot/internal/service/audio"
	"voice-transcriber-bot/internal/service/eligibility"
	"voice-transcriber-bot/internal/service/stt"
	"voice-transcriber-bot/internal/service/transcription"
	"voice-transcriber-bot/internal/store"
)

// transcribeVoice downloads an eligible voice message and hands it to the
// transcriber. Transcription failures are reported by the transcriber itself
// through the placeholder, so only download errors reach the error stage.
func (b *Bot) transcribeVoice(ctx context.Context, ev *Event) error {
	msg := ev.Message
	voice := msg.Voice
	if !ev.Private() && ev.ChatInfo != nil && ev.ChatInfo.IgnoresDuration(voice.Duration) {
		ev.Logger.Debug().Int("duration", voice.Duration).Msg("Voice message outside chat duration bounds")
		return nil
	}

	path, err := b.downloader.Download(ctx, voice.FileID, msg.Chat.ID, msg.MessageID)
	if err != nil {
		return fmt.Errorf("download voice: %w", err)
	}
	defer b.downloader.Release(path)

	asset := audio.NewAsset(assetID(msg), path, voice.Duration, b.source)
	asset.ForcedSampleRate = b.cfg.ForceSampleRate

	mode := transcription.FailureEdit
	if !ev.Private() {
		mode = transcription.FailureDelete
	}
	_, err = b.transcriber.Transcribe(ctx, transcription.Request{
		ChatID:    msg.Chat.ID,
		MessageID: msg.MessageID,
		Asset:     asset,
		Options:   chatOptions(ev.ChatInfo),
		OnFailure: mode,
	})
	if err != nil {
		ev.Logger.Warn().Err(err).Msg("Voice message not transcribed")
	}
	return nil
}

// askConsent answers a private voice message from a user who has not accepted
// the terms with the consent prompt.
func (b *Bot) askConsent(_ context.Context, ev *Event) error {
	return b.sendWithKeyboard(ev.Chat.ID, ev.Message.MessageID, ConsentPromptText, showTOSKeyboard())
}

// explainDenied tells a private requester why a forwarded voice message was
// not transcribed.
func (b *Bot) explainDenied(ctx context.Context, ev *Event) error {
	text := NotConsentedText
	if ev.Decision.Reason == eligibility.ReasonHiddenSender {
		text = HiddenSenderText
	}
	_, err := b.sink.Reply(ctx, ev.Ref(), text)
	return err
}

func (b *Bot) onVoiceTooLarge(ctx context.Context, ev *Event) error {
	_, err := b.sink.Reply(ctx, ev.Ref(), TooLargeText)
	return err
}

func (b *Bot) onFallback(ctx context.Context, ev *Event) error {
	_, err := b.sink.Reply(ctx, ev.Ref(), FallbackText)
	return err
}

func (b *Bot) sendWithKeyboard(chatID int64, replyTo int, text string, kb tgbotapi.InlineKeyboardMarkup) error {
	msg := newHTMLMessage(chatID, text)
	msg.ReplyToMessageID = replyTo
	msg.AllowSendingWithoutReply = true
	msg.ReplyMarkup = kb
	if _, err := b.api.Send(msg); err != nil {
		return fmt.Errorf("send message to chat %d: %w", chatID, err)
	}
	return nil
}

func assetID(msg *tgbotapi.Message) string {
	return fmt.Sprintf("%d_%d", msg.Chat.ID, msg.MessageID)
}

func chatOptions(c *store.Chat) stt.Options {
	if c == nil {
		return stt.Options{}
	}
	return stt.Options{LanguageCode: c.Language, Punctuation: c.Punctuation}
}
