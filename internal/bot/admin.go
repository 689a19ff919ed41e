package bot

import (
	"context"
	"fmt"
	"html"
	"os"
	"strconv"
	"strings"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"voice-transcriber-bot/internal/service/audio"
	"voice-transcriber-bot/internal/service/delivery"
	"voice-transcriber-bot/internal/service/eligibility"
	"voice-transcriber-bot/internal/service/ogg"
	"voice-transcriber-bot/internal/service/transcription"
	"voice-transcriber-bot/internal/store"
)

func refOf(chatID int64, messageID int) delivery.MessageRef {
	return delivery.MessageRef{ChatID: chatID, MessageID: messageID}
}

// superuserTarget finds whom /superuser refers to: the author of the replied
// message in groups, its original sender in private chats. It returns the
// text to answer with when there is no valid target.
func (b *Bot) superuserTarget(ev *Event) (*tgbotapi.User, string) {
	reply := ev.Message.ReplyToMessage
	if !ev.Private() {
		if reply == nil || reply.From == nil || reply.From.IsBot {
			return nil, ReplyToUserText
		}
		if b.isAdmin(reply.From.ID) {
			return nil, AdminAlreadySuperText
		}
		return reply.From, ""
	}

	if reply == nil {
		return nil, ReplyToForwardedUserText
	}
	switch {
	case Provenance(reply).Origin == eligibility.OriginHidden:
		return nil, SenderHiddenText
	case reply.ForwardFrom == nil || reply.ForwardFrom.IsBot:
		return nil, ReplyToForwardedUserText
	case b.isAdmin(reply.ForwardFrom.ID):
		return nil, AdminAlreadySuperText
	default:
		return reply.ForwardFrom, ""
	}
}

// onSuperuser toggles the superuser flag of the target user.
func (b *Bot) onSuperuser(ctx context.Context, ev *Event) error {
	target, text := b.superuserTarget(ev)
	if target == nil {
		_, err := b.sink.Reply(ctx, ev.Ref(), text)
		return err
	}

	u, err := b.store.UpdateUser(target.ID, func(u *store.User) {
		u.Name = displayName(target)
		u.Username = target.UserName
		u.Superuser = !u.Superuser
	})
	if err != nil {
		return err
	}
	ev.Logger.Info().Int64("targetId", u.ID).Bool("superuser", u.Superuser).Msg("Superuser flag changed")
	_, err = b.sink.Reply(ctx, ev.Ref(), superuserText(u.Name, u.Superuser))
	return err
}

func (b *Bot) onSuperusers(ctx context.Context, ev *Event) error {
	users, err := b.store.Superusers()
	if err != nil {
		return err
	}
	if len(users) == 0 {
		_, err = b.sink.Reply(ctx, ev.Ref(), NoSuperusersText)
		return err
	}
	names := make([]string, len(users))
	for i, u := range users {
		names[i] = html.EscapeString(u.Name)
	}
	_, err = b.sink.Reply(ctx, ev.Ref(), superusersText(names))
	return err
}

func (b *Bot) onCleanDownloads(ctx context.Context, ev *Event) error {
	n, err := b.downloader.Clean()
	if err != nil {
		return err
	}
	ev.Logger.Info().Int("files", n).Msg("Download directory cleaned")
	_, err = b.sink.Reply(ctx, ev.Ref(), cleanedText(n))
	return err
}

func repliedVoice(msg *tgbotapi.Message) (*tgbotapi.Message, *tgbotapi.Voice) {
	if msg.ReplyToMessage == nil || msg.ReplyToMessage.Voice == nil {
		return nil, nil
	}
	return msg.ReplyToMessage, msg.ReplyToMessage.Voice
}

func (b *Bot) estimate(duration int) string {
	est, ok, err := b.store.EstimatedDuration(duration, store.DefaultEstimateWindow)
	if err != nil || !ok {
		return "n/a"
	}
	return fmt.Sprintf("%.1f s", est)
}

// onParse dumps the header of the replied voice message along with what the
// database and Telegram know about it.
func (b *Bot) onParse(ctx context.Context, ev *Event) error {
	_, voice := repliedVoice(ev.Message)
	if voice == nil {
		_, err := b.sink.Reply(ctx, ev.Ref(), ReplyToVoiceText)
		return err
	}

	path, err := b.downloader.Download(ctx, voice.FileID, ev.Chat.ID, ev.Message.MessageID)
	if err != nil {
		return err
	}
	defer b.downloader.Release(path)
	defer os.Remove(path)

	var sb strings.Builder
	sb.WriteString("<code>[DB]\n")
	fmt.Fprintf(&sb, "estimated time: %s\n\n[HEADER DATA]\n", b.estimate(voice.Duration))
	head, err := ogg.ReadFile(path)
	if err != nil {
		fmt.Fprintf(&sb, "error: %s\n", html.EscapeString(err.Error()))
	} else {
		for _, f := range head.Fields() {
			fmt.Fprintf(&sb, "%s: %s\n", f[0], html.EscapeString(f[1]))
		}
	}
	fmt.Fprintf(&sb, "\n[TG]\nsize: %d\nmime type: %s</code>", voice.FileSize, html.EscapeString(voice.MimeType))

	_, err = b.sink.Reply(ctx, ev.Ref(), sb.String())
	return err
}

// onRecognize transcribes the replied voice message, optionally forcing the
// sample rate given as argument, and reports diagnostics.
func (b *Bot) onRecognize(ctx context.Context, ev *Event) error {
	reply, voice := repliedVoice(ev.Message)
	if voice == nil {
		_, err := b.sink.Reply(ctx, ev.Ref(), ReplyToVoiceText)
		return err
	}

	forced := b.cfg.ForceSampleRate
	if args := strings.Fields(ev.Message.CommandArguments()); len(args) > 0 {
		n, err := strconv.ParseUint(args[0], 10, 32)
		if err != nil {
			return fmt.Errorf("invalid sample rate %q", args[0])
		}
		forced = uint32(n)
	}

	path, err := b.downloader.Download(ctx, voice.FileID, ev.Chat.ID, ev.Message.MessageID)
	if err != nil {
		return err
	}
	defer b.downloader.Release(path)
	asset := audio.NewAsset(assetID(ev.Message), path, voice.Duration, b.source)
	asset.ForcedSampleRate = forced

	detected := "n/a"
	if head, err := asset.ParseHeader(); err == nil {
		detected = strconv.FormatUint(uint64(head.SampleRate), 10)
	}
	forcedText := "no"
	if forced > 0 {
		forcedText = strconv.FormatUint(uint64(forced), 10)
	}
	expected := b.estimate(voice.Duration)

	out, err := b.transcriber.Transcribe(ctx, transcription.Request{
		ChatID:    ev.Chat.ID,
		MessageID: reply.MessageID,
		Asset:     asset,
		Options:   chatOptions(ev.ChatInfo),
		OnFailure: transcription.FailureEdit,
		Placeholder: fmt.Sprintf("Inizio la trascrizione\n<code>sample rate: %s\nforced sample rate: %s\nexpected time: %s</code>",
			detected, forcedText, expected),
	})
	if err != nil {
		ev.Logger.Warn().Err(err).Msg("Diagnostic transcription failed")
		return nil
	}

	r := out.Result
	diag := fmt.Sprintf("<code>confidence: %.2f\nsample rate: %s\nforced sample rate: %s\nestimated time: %s\nelapsed time: %.1f s\nstrategy: %s</code>",
		r.Confidence, detected, forcedText, expected, r.Elapsed.Seconds(), r.Strategy)
	_, err = b.sink.Reply(ctx, out.Placeholder, diag)
	return err
}

// onTestIgnore reports whether the replied message would be transcribed in
// this chat, and why.
func (b *Bot) onTestIgnore(ctx context.Context, ev *Event) error {
	reply := ev.Message.ReplyToMessage
	if reply == nil {
		_, err := b.sink.Reply(ctx, ev.Ref(), ReplyToVoiceText)
		return err
	}

	target := &Event{
		Message:  reply,
		Chat:     ev.Chat,
		From:     reply.From,
		ChatInfo: ev.ChatInfo,
		Logger:   ev.Logger,
	}
	if reply.From != nil {
		u, err := b.store.User(reply.From.ID)
		if err != nil && !isNotFound(err) {
			return err
		}
		target.User = u
	}

	d, _, err := evaluate(ctx, b.eval, b.isAdmin, target)
	if err != nil {
		return err
	}
	verdict := "Ignore"
	if d.Allow {
		verdict = "Ok"
	}
	_, err = b.sink.Reply(ctx, ev.Ref(), fmt.Sprintf("<b>%s</b> &gt; %s", verdict, d.Reason))
	return err
}
