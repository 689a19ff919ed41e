// Package bot is the Telegram surface of the service: it polls updates,
// routes them through handler pipelines and talks back to chats.
package bot

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/hashicorp/go-multierror"
	"github.com/hashicorp/golang-lru/v2/expirable"
	"github.com/rs/zerolog"

	"voice-transcriber-bot/internal/observability/logging"
	"voice-transcriber-bot/internal/observability/metrics"
	"voice-transcriber-bot/internal/service/audio"
	"voice-transcriber-bot/internal/service/delivery"
	"voice-transcriber-bot/internal/service/eligibility"
	"voice-transcriber-bot/internal/service/transcription"
	"voice-transcriber-bot/internal/store"
)

const adminCacheSize = 512

// Store is the persistence the bot needs. *store.Store implements it.
type Store interface {
	Sessions
	User(id int64) (*store.User, error)
	Superusers() ([]store.User, error)
	Chat(id int64) (*store.Chat, error)
	ReplaceAdministrators(chatID int64, admins []store.Administrator) error
	SaveAdministrator(a *store.Administrator) error
	DeleteAdministrator(chatID, userID int64) error
	Administrators(chatID int64) ([]store.Administrator, error)
	EstimatedDuration(duration, window int) (float64, bool, error)
}

// Transcriber runs one transcription. *transcription.Service implements it.
type Transcriber interface {
	Transcribe(ctx context.Context, req transcription.Request) (*transcription.Outcome, error)
}

// Config holds bot behavior settings.
type Config struct {
	// Admins are the bot administrators' user IDs.
	Admins               []int64
	VoiceMaxSize         int64
	ExitUnknownGroups    bool
	Errors               ErrorPolicy
	PollTimeout          int
	MaxConcurrentUpdates int
	AdminCacheTTL        time.Duration
	DownloadDir          string
	ForceSampleRate      uint32
}

// Deps are the collaborators of a Bot.
type Deps struct {
	API         API
	Store       Store
	Evaluator   *eligibility.Evaluator
	Transcriber Transcriber
	// Source decides how downloaded audio reaches the backend. Nil means inline.
	Source audio.Source
	// Sink defaults to an HTMLSink over API.
	Sink    delivery.Sink
	Metrics *metrics.Metrics
}

// Bot dispatches Telegram updates.
type Bot struct {
	api         API
	cfg         Config
	store       Store
	eval        *eligibility.Evaluator
	transcriber Transcriber
	source      audio.Source
	sink        delivery.Sink
	downloader  *Downloader
	metrics     *metrics.Metrics
	logger      zerolog.Logger

	self   tgbotapi.User
	admins *expirable.LRU[int64, []store.Administrator]

	privateVoice   HandlerFunc
	forwardedVoice HandlerFunc
	groupVoice     HandlerFunc
	tooLarge       HandlerFunc
	fallback       HandlerFunc
	callback       HandlerFunc
	newMembers     HandlerFunc
	chatMember     HandlerFunc
	myChatMember   HandlerFunc
	commands       map[string]HandlerFunc

	mu    sync.RWMutex
	ready bool
	sem   chan struct{}
	wg    sync.WaitGroup
}

// New creates a bot. It asks Telegram who the bot is.
func New(cfg Config, deps Deps) (*Bot, error) {
	if cfg.MaxConcurrentUpdates <= 0 {
		cfg.MaxConcurrentUpdates = 16
	}
	if cfg.AdminCacheTTL <= 0 {
		cfg.AdminCacheTTL = 10 * time.Minute
	}
	if deps.Metrics == nil {
		deps.Metrics = metrics.DefaultMetrics
	}
	if deps.Sink == nil {
		deps.Sink = NewHTMLSink(deps.API)
	}

	self, err := deps.API.GetMe()
	if err != nil {
		return nil, fmt.Errorf("get bot identity: %w", err)
	}

	b := &Bot{
		api:         deps.API,
		cfg:         cfg,
		store:       deps.Store,
		eval:        deps.Evaluator,
		transcriber: deps.Transcriber,
		source:      deps.Source,
		sink:        deps.Sink,
		downloader:  NewDownloader(deps.API, cfg.DownloadDir, deps.Metrics),
		metrics:     deps.Metrics,
		logger:      logging.WithComponent("bot"),
		self:        self,
		admins:      expirable.NewLRU[int64, []store.Administrator](adminCacheSize, nil, cfg.AdminCacheTTL),
		sem:         make(chan struct{}, cfg.MaxConcurrentUpdates),
	}
	b.buildHandlers()
	return b, nil
}

// Self returns the bot's own account.
func (b *Bot) Self() tgbotapi.User {
	return b.self
}

// Ready reports whether the bot is polling for updates.
func (b *Bot) Ready() bool {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.ready
}

func (b *Bot) setReady(ready bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.ready = ready
}

func (b *Bot) isAdmin(userID int64) bool {
	for _, id := range b.cfg.Admins {
		if id == userID {
			return true
		}
	}
	return false
}

func (b *Bot) errorStage(name string) Stage {
	return ErrorTranslationStage(name, b.sink, b.cfg.Errors, b.metrics)
}

func (b *Bot) buildHandlers() {
	session := SessionStage(b.store)

	b.privateVoice = Chain(b.transcribeVoice,
		b.errorStage("voice_private"), session, EligibilityStage(b.eval, b.isAdmin, b.askConsent, b.metrics))
	b.forwardedVoice = Chain(b.transcribeVoice,
		b.errorStage("voice_forwarded"), session, EligibilityStage(b.eval, b.isAdmin, b.explainDenied, b.metrics))
	b.groupVoice = Chain(b.transcribeVoice,
		b.errorStage("voice_group"), session, EligibilityStage(b.eval, b.isAdmin, nil, b.metrics))
	b.tooLarge = Chain(b.onVoiceTooLarge, b.errorStage("voice_too_large"))
	b.fallback = Chain(b.onFallback, b.errorStage("fallback"), session)
	b.callback = Chain(b.onCallback, b.errorStage("callback"), session)
	b.newMembers = Chain(b.onNewMembers, b.errorStage("new_chat_members"), session)
	b.chatMember = Chain(b.onChatMember, b.errorStage("chat_member"))
	b.myChatMember = Chain(b.onMyChatMember, b.errorStage("my_chat_member"))
	b.commands = b.buildCommands(session)
}

// Run polls updates until ctx is canceled, handling each one in its own
// goroutine. In-flight handlers are not canceled; Run returns once they finish.
func (b *Bot) Run(ctx context.Context) error {
	if err := b.SetCommands(); err != nil {
		b.logger.Warn().Err(err).Msg("Failed to set command menus")
	}

	u := tgbotapi.NewUpdate(0)
	u.Timeout = b.cfg.PollTimeout
	u.AllowedUpdates = []string{"message", "callback_query", "my_chat_member", "chat_member"}
	updates := b.api.GetUpdatesChan(u)

	b.setReady(true)
	defer b.setReady(false)
	b.logger.Info().Str("username", b.self.UserName).Msg("Polling for updates")

	handlerCtx := context.WithoutCancel(ctx)
	for {
		select {
		case <-ctx.Done():
			b.api.StopReceivingUpdates()
			b.logger.Info().Msg("Waiting for in-flight updates")
			b.wg.Wait()
			return nil
		case update, ok := <-updates:
			if !ok {
				b.wg.Wait()
				return nil
			}
			select {
			case b.sem <- struct{}{}:
			case <-ctx.Done():
				continue
			}
			b.wg.Add(1)
			go func() {
				defer b.wg.Done()
				defer func() { <-b.sem }()
				b.Handle(handlerCtx, update)
			}()
		}
	}
}

// Handle routes one update to its handler and runs it.
func (b *Bot) Handle(ctx context.Context, update tgbotapi.Update) {
	b.metrics.RecordHandlerStart()
	defer b.metrics.RecordHandlerEnd()

	ev := NewEvent(update)
	kind, h := b.route(ev)
	b.metrics.RecordUpdate(kind)
	if h == nil {
		ev.Logger.Debug().Str("kind", kind).Msg("Ignoring update")
		return
	}
	ev.Logger.Debug().Str("kind", kind).Msg("Handling update")
	if err := h(ctx, ev); err != nil {
		ev.Logger.Error().Err(err).Str("kind", kind).Msg("Update handler failed")
	}
}

func (b *Bot) route(ev *Event) (string, HandlerFunc) {
	u := ev.Update
	switch {
	case u.CallbackQuery != nil:
		return "callback_query", b.callback
	case u.MyChatMember != nil:
		return "my_chat_member", b.myChatMember
	case u.ChatMember != nil:
		return "chat_member", b.chatMember
	case u.Message == nil:
		return "other", nil
	}

	msg := u.Message
	switch {
	case len(msg.NewChatMembers) > 0:
		return "new_chat_members", b.newMembers
	case msg.Voice != nil:
		return b.routeVoice(ev)
	case msg.IsCommand():
		if h, ok := b.commands[msg.Command()]; ok {
			return "command", h
		}
		if ev.Private() {
			return "unknown_command", b.fallback
		}
		return "unknown_command", nil
	case ev.Private():
		return "text", b.fallback
	default:
		return "group_message", nil
	}
}

func (b *Bot) routeVoice(ev *Event) (string, HandlerFunc) {
	voice := ev.Message.Voice
	if b.cfg.VoiceMaxSize > 0 && int64(voice.FileSize) > b.cfg.VoiceMaxSize {
		if ev.Private() {
			return "voice_too_large", b.tooLarge
		}
		return "voice_too_large", nil
	}
	switch {
	case !ev.Private():
		return "voice_group", b.groupVoice
	case Provenance(ev.Message).Origin.Forwarded():
		return "voice_forwarded", b.forwardedVoice
	default:
		return "voice_private", b.privateVoice
	}
}

// SetCommands publishes the command menus: user commands in private chats,
// user and admin commands in each bot administrator's chat, none in groups.
func (b *Bot) SetCommands() error {
	requests := []tgbotapi.Chattable{
		tgbotapi.NewSetMyCommandsWithScope(tgbotapi.NewBotCommandScopeAllPrivateChats(), userCommands...),
		tgbotapi.NewDeleteMyCommandsWithScope(tgbotapi.NewBotCommandScopeAllGroupChats()),
	}
	all := append(append([]tgbotapi.BotCommand{}, userCommands...), adminCommands...)
	for _, id := range b.cfg.Admins {
		requests = append(requests, tgbotapi.NewSetMyCommandsWithScope(tgbotapi.NewBotCommandScopeChat(id), all...))
	}

	var result *multierror.Error
	for _, r := range requests {
		if _, err := b.api.Request(r); err != nil {
			result = multierror.Append(result, err)
		}
	}
	return result.ErrorOrNil()
}

// chatAdministrators returns the administrators of a chat from the cache,
// then the store, then Telegram.
func (b *Bot) chatAdministrators(chatID int64) ([]store.Administrator, error) {
	if admins, ok := b.admins.Get(chatID); ok {
		return admins, nil
	}

	chat, err := b.store.Chat(chatID)
	if err != nil && !errors.Is(err, store.ErrNotFound) {
		return nil, err
	}
	if chat != nil && time.Since(chat.AdministratorsFetchedAt) < b.cfg.AdminCacheTTL {
		admins, err := b.store.Administrators(chatID)
		if err != nil {
			return nil, err
		}
		if len(admins) > 0 {
			b.admins.Add(chatID, admins)
			return admins, nil
		}
	}
	return b.refreshAdministrators(chatID)
}

// refreshAdministrators fetches the administrators of a chat from Telegram
// and stores them.
func (b *Bot) refreshAdministrators(chatID int64) ([]store.Administrator, error) {
	members, err := b.api.GetChatAdministrators(tgbotapi.ChatAdministratorsConfig{
		ChatConfig: tgbotapi.ChatConfig{ChatID: chatID},
	})
	if err != nil {
		return nil, fmt.Errorf("get administrators of chat %d: %w", chatID, err)
	}

	admins := make([]store.Administrator, 0, len(members))
	for _, m := range members {
		if m.User == nil {
			continue
		}
		admins = append(admins, administratorFrom(chatID, m))
	}
	if err := b.store.ReplaceAdministrators(chatID, admins); err != nil {
		return nil, err
	}
	b.admins.Add(chatID, admins)
	b.logger.Debug().Int64("chatId", chatID).Int("administrators", len(admins)).Msg("Administrators refreshed")
	return admins, nil
}

func (b *Bot) chatAdministrator(chatID, userID int64) (*store.Administrator, error) {
	admins, err := b.chatAdministrators(chatID)
	if err != nil {
		return nil, err
	}
	for i := range admins {
		if admins[i].UserID == userID {
			return &admins[i], nil
		}
	}
	return nil, nil
}

func administratorFrom(chatID int64, m tgbotapi.ChatMember) store.Administrator {
	creator := m.IsCreator()
	return store.Administrator{
		ChatID:             chatID,
		UserID:             m.User.ID,
		Status:             m.Status,
		IsAnonymous:        m.IsAnonymous,
		IsBot:              m.User.IsBot,
		CanChangeInfo:      creator || m.CanChangeInfo,
		CanDeleteMessages:  creator || m.CanDeleteMessages,
		CanManageChat:      creator || m.CanManageChat,
		CanPinMessages:     creator || m.CanPinMessages,
		CanPromoteMembers:  creator || m.CanPromoteMembers,
		CanRestrictMembers: creator || m.CanRestrictMembers,
		CanInviteUsers:     creator || m.CanInviteUsers,
	}
}
