// Package bot is the Telegram front end: it turns updates into dialogue
// steps, menu lookups and status transitions.
package bot

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"sync"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/facilitydesk/repair-bot/internal/conversation"
	"github.com/facilitydesk/repair-bot/internal/lifecycle"
	"github.com/facilitydesk/repair-bot/internal/models"
	"github.com/facilitydesk/repair-bot/internal/notify"
	"github.com/facilitydesk/repair-bot/pkg/logger"
	"github.com/facilitydesk/repair-bot/pkg/metrics"
)

// WebhookPath is the prefix of the webhook route; the secret follows it.
const WebhookPath = "/telegram/"

type botAPI interface {
	Send(c tgbotapi.Chattable) (tgbotapi.Message, error)
	Request(c tgbotapi.Chattable) (*tgbotapi.APIResponse, error)
	GetUpdatesChan(config tgbotapi.UpdateConfig) tgbotapi.UpdatesChannel
	StopReceivingUpdates()
}

// Store is the read side and user registration the bot needs.
type Store interface {
	AddUser(ctx context.Context, telegramID int64, fullName, username string, role models.Role) error
	GetUserRequests(ctx context.Context, telegramID int64) ([]models.Request, error)
	GetAllRequests(ctx context.Context, limit int) ([]models.Request, error)
	GetRequestsByStatus(ctx context.Context, status models.RequestStatus) ([]models.Request, error)
}

// Transitioner applies operator actions.
type Transitioner interface {
	Transition(ctx context.Context, id int64, target models.RequestStatus, actor lifecycle.Actor) (*lifecycle.Transitioned, error)
}

type Config struct {
	Token         string
	WebhookURL    string // webhook mode when set
	WebhookSecret string
}

type Bot struct {
	api         botAPI
	cfg         Config
	store       Store
	transitions Transitioner
	tracker     *conversation.Tracker
	sessions    *conversation.SessionStore
	roster      *models.Roster
	routing     notify.Routing
	logger      *logger.Logger

	mu     sync.Mutex
	closed bool // set once Run has stopped taking background work
	wg     sync.WaitGroup
}

func New(cfg Config, store Store, transitions Transitioner, tracker *conversation.Tracker, roster *models.Roster, routing notify.Routing, log *logger.Logger) (*Bot, error) {
	api, err := tgbotapi.NewBotAPI(cfg.Token)
	if err != nil {
		return nil, fmt.Errorf("failed to create bot: %w", err)
	}

	log.Info("authorized on account", zap.String("username", api.Self.UserName))

	return newBot(api, cfg, store, transitions, tracker, roster, routing, log), nil
}

func newBot(api botAPI, cfg Config, store Store, transitions Transitioner, tracker *conversation.Tracker, roster *models.Roster, routing notify.Routing, log *logger.Logger) *Bot {
	return &Bot{
		api:         api,
		cfg:         cfg,
		store:       store,
		transitions: transitions,
		tracker:     tracker,
		sessions:    conversation.NewSessionStore(),
		roster:      roster,
		routing:     routing,
		logger:      log,
	}
}

// Run receives updates until ctx is cancelled, then waits for the updates
// still being handled. In webhook mode the HTTP server should be shut down
// before ctx is cancelled; updates that still arrive later are handled
// inline by ServeWebhook.
func (b *Bot) Run(ctx context.Context) error {
	defer b.drain()

	if b.cfg.WebhookURL != "" {
		return b.runWebhook(ctx)
	}
	return b.runPolling(ctx)
}

func (b *Bot) runPolling(ctx context.Context) error {
	if _, err := b.api.Request(tgbotapi.DeleteWebhookConfig{}); err != nil {
		b.logger.Warn("failed to delete webhook", zap.Error(err))
	}

	u := tgbotapi.NewUpdate(0)
	u.Timeout = 60
	updates := b.api.GetUpdatesChan(u)

	b.logger.Info("polling for updates")

	for {
		select {
		case <-ctx.Done():
			b.api.StopReceivingUpdates()
			return nil
		case update, ok := <-updates:
			if !ok {
				return nil
			}
			b.dispatch(update)
		}
	}
}

func (b *Bot) runWebhook(ctx context.Context) error {
	link := strings.TrimRight(b.cfg.WebhookURL, "/") + WebhookPath + b.cfg.WebhookSecret
	wh, err := tgbotapi.NewWebhook(link)
	if err != nil {
		return fmt.Errorf("invalid webhook url: %w", err)
	}
	if _, err := b.api.Request(wh); err != nil {
		return fmt.Errorf("failed to set webhook: %w", err)
	}

	b.logger.Info("webhook registered", zap.String("url", strings.TrimRight(b.cfg.WebhookURL, "/")+WebhookPath))
	<-ctx.Done()
	return nil
}

// ServeWebhook accepts one update pushed by Telegram. The secret has been
// checked by the HTTP layer already.
func (b *Bot) ServeWebhook(w http.ResponseWriter, r *http.Request) {
	var update tgbotapi.Update
	if err := json.NewDecoder(r.Body).Decode(&update); err != nil {
		b.logger.Warn("failed to decode webhook update", zap.Error(err))
		http.Error(w, "bad update", http.StatusBadRequest)
		return
	}
	w.WriteHeader(http.StatusOK)
	b.dispatch(update)
}

// dispatch handles every update in its own goroutine. In-flight handling
// is not cancelled on shutdown; Run waits for it instead. Once Run has
// returned, updates are handled on the caller's goroutine.
func (b *Bot) dispatch(update tgbotapi.Update) {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		b.HandleUpdate(context.Background(), update)
		return
	}
	b.wg.Add(1)
	b.mu.Unlock()

	go func() {
		defer b.wg.Done()
		b.HandleUpdate(context.Background(), update)
	}()
}

func (b *Bot) drain() {
	b.mu.Lock()
	b.closed = true
	b.mu.Unlock()
	b.wg.Wait()
}

// HandleUpdate processes a single update synchronously.
func (b *Bot) HandleUpdate(ctx context.Context, update tgbotapi.Update) {
	eventID := uuid.NewString()

	defer func() {
		if r := recover(); r != nil {
			b.logger.Error("panic while handling update",
				zap.String("event_id", eventID),
				zap.Any("panic", r),
			)
		}
	}()

	switch {
	case update.Message != nil && update.Message.From != nil:
		msg := update.Message
		log := b.logger.ForEvent(eventID, msg.Chat.ID, msg.From.ID)
		if msg.IsCommand() {
			metrics.Updates.WithLabelValues("command").Inc()
			b.handleCommand(ctx, log, msg)
			return
		}
		metrics.Updates.WithLabelValues("message").Inc()
		b.handleMessage(ctx, log, msg)

	case update.CallbackQuery != nil && update.CallbackQuery.From != nil:
		q := update.CallbackQuery
		var chatID int64
		if q.Message != nil {
			chatID = q.Message.Chat.ID
		}
		metrics.Updates.WithLabelValues("callback").Inc()
		b.handleCallback(ctx, b.logger.ForEvent(eventID, chatID, q.From.ID), q)

	default:
		metrics.Updates.WithLabelValues("other").Inc()
	}
}

func (b *Bot) handleCommand(ctx context.Context, log *logger.Logger, msg *tgbotapi.Message) {
	s := b.sessions.Get(msg.Chat.ID)
	s.Lock()
	defer s.Unlock()

	switch msg.Command() {
	case "start":
		b.register(ctx, log, msg.From)
		s.Reset()
		s.Mode = conversation.ModeUser
		if b.roster.IsOperator(msg.From.ID) {
			s.Mode = conversation.ModeOperator
		}
		b.send(log, msg.Chat.ID, welcomeText(displayName(msg.From), s.Mode), menuFor(s.Mode))

	case "help":
		b.send(log, msg.Chat.ID, helpText, keyboardFor(s))

	default:
		b.send(log, msg.Chat.ID, "Unknown command. Use /help to see what I can do.", keyboardFor(s))
	}
}

func (b *Bot) handleMessage(ctx context.Context, log *logger.Logger, msg *tgbotapi.Message) {
	s := b.sessions.Get(msg.Chat.ID)
	s.Lock()
	defer s.Unlock()

	b.register(ctx, log, msg.From)

	in := conversation.Input{Text: msg.Text}
	if len(msg.Photo) > 0 {
		in.PhotoRef = largestPhoto(msg.Photo)
	}

	if !s.Active() && in.PhotoRef == "" && b.handleMenu(ctx, log, s, msg) {
		return
	}

	reply, err := b.tracker.Handle(ctx, s, msg.From.ID, in)
	if err != nil {
		log.Error("failed to finalize request", zap.Error(err))
	}

	text := promptTexts[reply.Prompt]
	if reply.Prompt == conversation.PromptCreated && reply.Request != nil {
		text = notify.FormatConfirmation(reply.Request, b.routing.ResponsibleFor(reply.Request.Category))
		if reply.Notified.Delivered == 0 {
			log.Warn("request created but no operator was reached",
				zap.Int64("request_id", reply.Request.ID),
				zap.Int("attempted", reply.Notified.Attempted),
			)
		}
	}
	b.send(log, msg.Chat.ID, text, keyboardFor(s))
}

// handleMenu serves the menu buttons. It reports whether the text was one.
func (b *Bot) handleMenu(ctx context.Context, log *logger.Logger, s *conversation.Session, msg *tgbotapi.Message) bool {
	text := strings.TrimSpace(msg.Text)
	chatID := msg.Chat.ID

	if b.roster.IsOperator(msg.From.ID) {
		switch text {
		case LabelAllRequests:
			s.Mode = conversation.ModeOperator
			requests, err := b.store.GetAllRequests(ctx, operatorListLimit)
			b.sendList(log, s, chatID, "📋 ALL REQUESTS", requests, err)
			return true
		case LabelNewRequests:
			b.sendStatusList(ctx, log, s, chatID, "🆕 NEW REQUESTS", models.StatusNew)
			return true
		case LabelInProgress:
			b.sendStatusList(ctx, log, s, chatID, "🛠️ IN PROGRESS", models.StatusInProgress)
			return true
		case LabelCompleted:
			b.sendStatusList(ctx, log, s, chatID, "✅ COMPLETED", models.StatusCompleted)
			return true
		case LabelStatistics:
			s.Mode = conversation.ModeOperator
			b.send(log, chatID, "📊 Statistics are not available yet.", operatorKeyboard)
			return true
		case LabelMainMenu:
			s.Mode = conversation.ModeUser
			b.send(log, chatID, "Main menu", mainKeyboard)
			return true
		}
	}

	switch text {
	case LabelMyRequests:
		requests, err := b.store.GetUserRequests(ctx, msg.From.ID)
		if err != nil {
			log.Error("failed to load user requests", zap.Error(err))
			b.send(log, chatID, "⚠️ Could not load your requests. Please try again later.", menuFor(s.Mode))
			return true
		}
		b.send(log, chatID, userRequestsText(requests), menuFor(s.Mode))
		return true
	case LabelHelp:
		b.send(log, chatID, helpText, menuFor(s.Mode))
		return true
	case LabelContacts:
		b.send(log, chatID, contactsText(b.routing), menuFor(s.Mode))
		return true
	}
	return false
}

func (b *Bot) sendStatusList(ctx context.Context, log *logger.Logger, s *conversation.Session, chatID int64, title string, status models.RequestStatus) {
	s.Mode = conversation.ModeOperator
	requests, err := b.store.GetRequestsByStatus(ctx, status)
	b.sendList(log, s, chatID, title, requests, err)
}

func (b *Bot) sendList(log *logger.Logger, s *conversation.Session, chatID int64, title string, requests []models.Request, err error) {
	if err != nil {
		log.Error("failed to load requests", zap.String("list", title), zap.Error(err))
		b.send(log, chatID, "⚠️ Could not load requests. Please try again later.", menuFor(s.Mode))
		return
	}
	b.send(log, chatID, operatorRequestsText(title, requests), menuFor(s.Mode))
}

func (b *Bot) handleCallback(ctx context.Context, log *logger.Logger, q *tgbotapi.CallbackQuery) {
	if _, err := b.api.Request(tgbotapi.NewCallback(q.ID, "")); err != nil {
		log.Warn("failed to answer callback", zap.Error(err))
	}

	if !b.roster.IsOperator(q.From.ID) {
		log.Warn("callback from non-operator ignored", zap.String("data", q.Data))
		return
	}

	target, id, ok := parseCallbackData(q.Data)
	if !ok {
		log.Warn("invalid callback data", zap.String("data", q.Data))
		return
	}

	actor := lifecycle.Actor{TelegramID: q.From.ID, Name: displayName(q.From)}
	res, err := b.transitions.Transition(ctx, id, target, actor)
	if err != nil {
		if errors.Is(err, lifecycle.ErrInvalidStatus) || errors.Is(err, lifecycle.ErrNotOperator) {
			log.Warn("transition rejected", zap.Int64("request_id", id), zap.Error(err))
			return
		}
		log.Error("transition failed", zap.Int64("request_id", id), zap.Error(err))
		return
	}
	if res.Request == nil || q.Message == nil {
		return
	}

	b.updateOperatorMessage(log, q.Message, res, actor.Name)
}

// updateOperatorMessage rewrites the notification the operator acted on.
// A photo notification carries its text as caption. When the edit is
// refused the update is sent as a new message.
func (b *Bot) updateOperatorMessage(log *logger.Logger, msg *tgbotapi.Message, res *lifecycle.Transitioned, actorName string) {
	text := notify.FormatOperatorUpdate(res.Request.ID, res.Request.Status, actorName)
	markup := inlineKeyboard(res.Request.ID, res.Actions)

	var edit tgbotapi.Chattable
	if len(msg.Photo) > 0 {
		e := tgbotapi.NewEditMessageCaption(msg.Chat.ID, msg.MessageID, text)
		e.ReplyMarkup = markup
		edit = e
	} else {
		e := tgbotapi.NewEditMessageText(msg.Chat.ID, msg.MessageID, text)
		e.ReplyMarkup = markup
		edit = e
	}

	if _, err := b.api.Send(edit); err != nil {
		log.Warn("failed to edit operator message, sending a new one",
			zap.Int64("request_id", res.Request.ID),
			zap.Error(err),
		)
		if markup != nil {
			b.send(log, msg.Chat.ID, text, *markup)
			return
		}
		b.send(log, msg.Chat.ID, text, nil)
	}
}

func (b *Bot) register(ctx context.Context, log *logger.Logger, u *tgbotapi.User) {
	if err := b.store.AddUser(ctx, u.ID, displayName(u), u.UserName, b.roster.RoleOf(u.ID)); err != nil {
		log.Error("failed to register user", zap.Error(err))
	}
}

func (b *Bot) send(log *logger.Logger, chatID int64, text string, markup interface{}) {
	msg := tgbotapi.NewMessage(chatID, text)
	if markup != nil {
		msg.ReplyMarkup = markup
	}
	if _, err := b.api.Send(msg); err != nil {
		log.Warn("failed to send message", zap.Int64("recipient", chatID), zap.Error(err))
	}
}
