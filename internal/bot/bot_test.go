package bot

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/stretchr/testify/require"

	"github.com/facilitydesk/repair-bot/internal/conversation"
	"github.com/facilitydesk/repair-bot/internal/lifecycle"
	"github.com/facilitydesk/repair-bot/internal/models"
	"github.com/facilitydesk/repair-bot/internal/notify"
	"github.com/facilitydesk/repair-bot/pkg/logger"
)

const (
	operatorID = int64(100)
	reporterID = int64(42)
)

type fakeAPI struct {
	mu        sync.Mutex
	sent      []tgbotapi.Chattable
	requested []tgbotapi.Chattable
	failEdits bool
	updates   chan tgbotapi.Update
	stopped   bool
}

func (f *fakeAPI) Send(c tgbotapi.Chattable) (tgbotapi.Message, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	switch c.(type) {
	case tgbotapi.EditMessageTextConfig, tgbotapi.EditMessageCaptionConfig:
		if f.failEdits {
			return tgbotapi.Message{}, errors.New("message can't be edited")
		}
	}
	f.sent = append(f.sent, c)
	return tgbotapi.Message{}, nil
}

func (f *fakeAPI) Request(c tgbotapi.Chattable) (*tgbotapi.APIResponse, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.requested = append(f.requested, c)
	return &tgbotapi.APIResponse{Ok: true}, nil
}

func (f *fakeAPI) GetUpdatesChan(tgbotapi.UpdateConfig) tgbotapi.UpdatesChannel {
	return f.updates
}

func (f *fakeAPI) StopReceivingUpdates() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.stopped = true
}

func (f *fakeAPI) lastMessage(t *testing.T) tgbotapi.MessageConfig {
	t.Helper()
	f.mu.Lock()
	defer f.mu.Unlock()
	require.NotEmpty(t, f.sent)
	msg, ok := f.sent[len(f.sent)-1].(tgbotapi.MessageConfig)
	require.True(t, ok, "last chattable is %T", f.sent[len(f.sent)-1])
	return msg
}

type fakeStore struct {
	mu     sync.Mutex
	users  map[int64]models.Role
	byUser []models.Request
	all    []models.Request
	status models.RequestStatus
}

func (f *fakeStore) AddUser(_ context.Context, telegramID int64, _, _ string, role models.Role) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.users[telegramID]; !ok {
		f.users[telegramID] = role
	}
	return nil
}

func (f *fakeStore) GetUserRequests(context.Context, int64) ([]models.Request, error) {
	return f.byUser, nil
}

func (f *fakeStore) GetAllRequests(_ context.Context, limit int) ([]models.Request, error) {
	if len(f.all) > limit {
		return f.all[:limit], nil
	}
	return f.all, nil
}

func (f *fakeStore) GetRequestsByStatus(_ context.Context, status models.RequestStatus) ([]models.Request, error) {
	f.status = status
	var out []models.Request
	for _, r := range f.all {
		if r.Status == status {
			out = append(out, r)
		}
	}
	return out, nil
}

type transitionCall struct {
	id     int64
	target models.RequestStatus
	actor  lifecycle.Actor
}

type fakeTransitioner struct {
	calls   []transitionCall
	missing bool
}

func (f *fakeTransitioner) Transition(_ context.Context, id int64, target models.RequestStatus, actor lifecycle.Actor) (*lifecycle.Transitioned, error) {
	f.calls = append(f.calls, transitionCall{id, target, actor})
	if f.missing {
		return &lifecycle.Transitioned{}, nil
	}
	return &lifecycle.Transitioned{
		Request: &models.Request{ID: id, Status: target},
		Actions: models.ActionsFor(target),
	}, nil
}

type fakeCreator struct{}

func (fakeCreator) Create(_ context.Context, _ int64, d models.Draft) (*lifecycle.Created, error) {
	return &lifecycle.Created{
		Request:  &models.Request{ID: 7, Category: d.Category, Location: d.Location, Description: d.Description, Status: models.StatusNew},
		Notified: notify.Result{Attempted: 1, Delivered: 1},
	}, nil
}

type fixture struct {
	bot         *Bot
	api         *fakeAPI
	store       *fakeStore
	transitions *fakeTransitioner
}

func newFixture(cfg Config) *fixture {
	api := &fakeAPI{updates: make(chan tgbotapi.Update)}
	store := &fakeStore{users: map[int64]models.Role{}}
	transitions := &fakeTransitioner{}
	routing := notify.Routing{Responsible: map[models.Category]string{models.CategoryPlumbing: "Ivan, ext. 12"}}
	b := newBot(api, cfg, store, transitions,
		conversation.NewTracker(fakeCreator{}, logger.Nop()),
		models.NewRoster([]int64{operatorID}), routing, logger.Nop())
	return &fixture{bot: b, api: api, store: store, transitions: transitions}
}

func textUpdate(from int64, text string) tgbotapi.Update {
	msg := &tgbotapi.Message{
		MessageID: 1,
		From:      &tgbotapi.User{ID: from, FirstName: "Anna"},
		Chat:      &tgbotapi.Chat{ID: from},
		Text:      text,
	}
	if strings.HasPrefix(text, "/") {
		msg.Entities = []tgbotapi.MessageEntity{{Type: "bot_command", Offset: 0, Length: len(text)}}
	}
	return tgbotapi.Update{Message: msg}
}

func callbackUpdate(from int64, data string, photo bool) tgbotapi.Update {
	msg := &tgbotapi.Message{MessageID: 55, Chat: &tgbotapi.Chat{ID: from}, Text: "🚨 NEW REQUEST #9"}
	if photo {
		msg.Photo = []tgbotapi.PhotoSize{{FileID: "p", Width: 10, Height: 10}}
	}
	return tgbotapi.Update{CallbackQuery: &tgbotapi.CallbackQuery{
		ID:      "cb-1",
		From:    &tgbotapi.User{ID: from, FirstName: "Oleg", LastName: "Smirnov"},
		Message: msg,
		Data:    data,
	}}
}

func TestCallbackDataRoundTrip(t *testing.T) {
	data := callbackData(models.StatusInProgress, 123)
	require.Equal(t, "status_in_progress_123", data)

	target, id, ok := parseCallbackData(data)
	require.True(t, ok)
	require.Equal(t, models.StatusInProgress, target)
	require.Equal(t, int64(123), id)

	for _, bad := range []string{"", "status_", "status_completed", "status_completed_", "status__5", "other_completed_5", "status_completed_x", "status_bogus_5", "status_done_5"} {
		_, _, ok := parseCallbackData(bad)
		require.False(t, ok, bad)
	}
}

func TestInlineKeyboard(t *testing.T) {
	require.Nil(t, inlineKeyboard(1, nil))

	kb := inlineKeyboard(9, models.ActionsFor(models.StatusNew))
	require.NotNil(t, kb)
	require.Len(t, kb.InlineKeyboard, 1)
	require.Len(t, kb.InlineKeyboard[0], 2)
	require.Equal(t, "status_in_progress_9", *kb.InlineKeyboard[0][0].CallbackData)
	require.Equal(t, "status_completed_9", *kb.InlineKeyboard[0][1].CallbackData)
}

func TestChattable(t *testing.T) {
	photo, ok := chattable(5, notify.Message{
		Text:      "caption",
		PhotoRef:  "file-1",
		RequestID: 3,
		Actions:   models.ActionsFor(models.StatusNew),
	}).(tgbotapi.PhotoConfig)
	require.True(t, ok)
	require.Equal(t, int64(5), photo.ChatID)
	require.Equal(t, "caption", photo.Caption)
	require.Equal(t, tgbotapi.FileID("file-1"), photo.File)
	require.IsType(t, tgbotapi.InlineKeyboardMarkup{}, photo.ReplyMarkup)

	text, ok := chattable(5, notify.Message{Text: "hello"}).(tgbotapi.MessageConfig)
	require.True(t, ok)
	require.Equal(t, "hello", text.Text)
	require.Nil(t, text.ReplyMarkup)
}

func TestLargestPhoto(t *testing.T) {
	require.Equal(t, "big", largestPhoto([]tgbotapi.PhotoSize{
		{FileID: "small", Width: 90, Height: 90},
		{FileID: "big", Width: 1280, Height: 960},
		{FileID: "mid", Width: 320, Height: 240},
	}))
	require.Empty(t, largestPhoto(nil))
}

func TestStartShowsMenuByRole(t *testing.T) {
	f := newFixture(Config{})

	f.bot.HandleUpdate(context.Background(), textUpdate(reporterID, "/start"))
	require.Equal(t, mainKeyboard, f.api.lastMessage(t).ReplyMarkup)
	require.Equal(t, models.RoleUser, f.store.users[reporterID])

	f.bot.HandleUpdate(context.Background(), textUpdate(operatorID, "/start"))
	require.Equal(t, operatorKeyboard, f.api.lastMessage(t).ReplyMarkup)
	require.Equal(t, models.RoleOperator, f.store.users[operatorID])
}

func TestCreationDialogue(t *testing.T) {
	f := newFixture(Config{})
	ctx := context.Background()

	f.bot.HandleUpdate(ctx, textUpdate(reporterID, conversation.LabelStart))
	require.Equal(t, categoryKeyboard, f.api.lastMessage(t).ReplyMarkup)

	f.bot.HandleUpdate(ctx, textUpdate(reporterID, models.CategoryPlumbing.Label()))
	require.Equal(t, backKeyboard, f.api.lastMessage(t).ReplyMarkup)

	f.bot.HandleUpdate(ctx, textUpdate(reporterID, "Room 204"))
	f.bot.HandleUpdate(ctx, textUpdate(reporterID, "leaking pipe"))
	require.Equal(t, photoChoiceKeyboard, f.api.lastMessage(t).ReplyMarkup)

	f.bot.HandleUpdate(ctx, textUpdate(reporterID, conversation.LabelSkipPhoto))
	last := f.api.lastMessage(t)
	require.Contains(t, last.Text, "#7")
	require.Contains(t, last.Text, "Room 204")
	require.Contains(t, last.Text, "Ivan, ext. 12")
	require.Equal(t, mainKeyboard, last.ReplyMarkup)
}

func TestMenus(t *testing.T) {
	f := newFixture(Config{})
	ctx := context.Background()
	now := time.Now()
	f.store.all = []models.Request{
		{ID: 2, Category: models.CategoryElectrical, Location: "Hall", Status: models.StatusInProgress, CreatedAt: now},
		{ID: 1, Category: models.CategoryPlumbing, Location: "Room 1", Status: models.StatusNew, CreatedAt: now},
	}
	f.store.byUser = f.store.all

	f.bot.HandleUpdate(ctx, textUpdate(reporterID, LabelMyRequests))
	require.Contains(t, f.api.lastMessage(t).Text, "#2")

	f.bot.HandleUpdate(ctx, textUpdate(reporterID, LabelContacts))
	require.Contains(t, f.api.lastMessage(t).Text, "Ivan, ext. 12")
	require.Contains(t, f.api.lastMessage(t).Text, notify.DefaultResponsible)

	// Operator lists are not available to regular users.
	f.bot.HandleUpdate(ctx, textUpdate(reporterID, LabelNewRequests))
	require.Equal(t, promptTexts[conversation.PromptNone], f.api.lastMessage(t).Text)

	f.bot.HandleUpdate(ctx, textUpdate(operatorID, LabelNewRequests))
	last := f.api.lastMessage(t)
	require.Equal(t, models.StatusNew, f.store.status)
	require.Contains(t, last.Text, "#1")
	require.NotContains(t, last.Text, "#2")
	require.Equal(t, operatorKeyboard, last.ReplyMarkup)

	f.bot.HandleUpdate(ctx, textUpdate(operatorID, LabelMainMenu))
	require.Equal(t, mainKeyboard, f.api.lastMessage(t).ReplyMarkup)
}

func TestCallbackFromNonOperatorIsIgnored(t *testing.T) {
	f := newFixture(Config{})

	f.bot.HandleUpdate(context.Background(), callbackUpdate(reporterID, "status_completed_9", false))

	require.Len(t, f.api.requested, 1)
	require.IsType(t, tgbotapi.CallbackConfig{}, f.api.requested[0])
	require.Empty(t, f.transitions.calls)
	require.Empty(t, f.api.sent)
}

func TestCallbackWithInvalidDataIsIgnored(t *testing.T) {
	f := newFixture(Config{})

	f.bot.HandleUpdate(context.Background(), callbackUpdate(operatorID, "status_bogus", false))

	require.Len(t, f.api.requested, 1)
	require.Empty(t, f.transitions.calls)
	require.Empty(t, f.api.sent)
}

func TestCallbackEditsCaption(t *testing.T) {
	f := newFixture(Config{})

	f.bot.HandleUpdate(context.Background(), callbackUpdate(operatorID, "status_in_progress_9", true))

	require.Equal(t, []transitionCall{{
		id:     9,
		target: models.StatusInProgress,
		actor:  lifecycle.Actor{TelegramID: operatorID, Name: "Oleg Smirnov"},
	}}, f.transitions.calls)

	require.Len(t, f.api.sent, 1)
	edit, ok := f.api.sent[0].(tgbotapi.EditMessageCaptionConfig)
	require.True(t, ok)
	require.Equal(t, 55, edit.MessageID)
	require.Contains(t, edit.Caption, "Oleg Smirnov")
	require.NotNil(t, edit.ReplyMarkup)
	require.Len(t, edit.ReplyMarkup.InlineKeyboard[0], 1)
	require.Equal(t, "status_completed_9", *edit.ReplyMarkup.InlineKeyboard[0][0].CallbackData)
}

func TestCallbackCompletedRemovesControls(t *testing.T) {
	f := newFixture(Config{})

	f.bot.HandleUpdate(context.Background(), callbackUpdate(operatorID, "status_completed_9", false))

	require.Len(t, f.api.sent, 1)
	edit, ok := f.api.sent[0].(tgbotapi.EditMessageTextConfig)
	require.True(t, ok)
	require.Contains(t, edit.Text, "completed")
	require.Nil(t, edit.ReplyMarkup)
}

func TestCallbackEditFailureSendsNewMessage(t *testing.T) {
	f := newFixture(Config{})
	f.api.failEdits = true

	f.bot.HandleUpdate(context.Background(), callbackUpdate(operatorID, "status_in_progress_9", false))

	msg := f.api.lastMessage(t)
	require.Equal(t, operatorID, msg.ChatID)
	require.Contains(t, msg.Text, "taken in progress")
	require.IsType(t, tgbotapi.InlineKeyboardMarkup{}, msg.ReplyMarkup)
}

func TestCallbackForMissingRequestChangesNothing(t *testing.T) {
	f := newFixture(Config{})
	f.transitions.missing = true

	f.bot.HandleUpdate(context.Background(), callbackUpdate(operatorID, "status_completed_404", false))

	require.Len(t, f.transitions.calls, 1)
	require.Empty(t, f.api.sent)
}

func TestServeWebhook(t *testing.T) {
	f := newFixture(Config{})

	body := `{"update_id":1,"message":{"message_id":1,"from":{"id":42,"first_name":"Anna"},"chat":{"id":42,"type":"private"},"date":0,"text":"📞 Contacts"}}`
	rec := httptest.NewRecorder()
	f.bot.ServeWebhook(rec, httptest.NewRequest(http.MethodPost, "/telegram/s", strings.NewReader(body)))
	require.Equal(t, http.StatusOK, rec.Code)

	f.bot.wg.Wait()
	require.Contains(t, f.api.lastMessage(t).Text, "CONTACTS")

	rec = httptest.NewRecorder()
	f.bot.ServeWebhook(rec, httptest.NewRequest(http.MethodPost, "/telegram/s", strings.NewReader("{")))
	require.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestRunPollingStopsOnCancel(t *testing.T) {
	f := newFixture(Config{})
	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan error, 1)
	go func() { done <- f.bot.Run(ctx) }()

	f.api.updates <- textUpdate(reporterID, LabelHelp)
	cancel()

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not return after cancel")
	}

	require.True(t, f.api.stopped)
	require.Contains(t, f.api.lastMessage(t).Text, "HELP")
	require.IsType(t, tgbotapi.DeleteWebhookConfig{}, f.api.requested[0])
}

func TestRunWebhookRegistersSecretPath(t *testing.T) {
	f := newFixture(Config{WebhookURL: "https://bot.example.com/", WebhookSecret: "s3cret"})
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	require.NoError(t, f.bot.Run(ctx))
	require.Len(t, f.api.requested, 1)
	wh, ok := f.api.requested[0].(tgbotapi.WebhookConfig)
	require.True(t, ok)
	require.Equal(t, "https://bot.example.com/telegram/s3cret", wh.URL.String())
}

func TestOperatorListFitsMessageLimit(t *testing.T) {
	var requests []models.Request
	for i := 1; i <= 12; i++ {
		requests = append(requests, models.Request{
			ID:          int64(i),
			Category:    models.CategoryOther,
			Location:    strings.Repeat("🚪", 300),
			Description: strings.Repeat("🔥", 2000),
			Status:      models.StatusNew,
		})
	}

	text := operatorRequestsText("📋 ALL REQUESTS", requests)
	require.LessOrEqual(t, notify.TextLen(text), notify.MaxMessageUnits)
	require.Contains(t, text, "#1 ")
	require.LessOrEqual(t, notify.TextLen(userRequestsText(requests)), notify.MaxMessageUnits)
}

func TestWebhookUpdateAfterRunIsHandledInline(t *testing.T) {
	f := newFixture(Config{WebhookURL: "https://bot.example.com", WebhookSecret: "s3cret"})
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	require.NoError(t, f.bot.Run(ctx))

	body := `{"update_id":2,"message":{"message_id":1,"from":{"id":42,"first_name":"Anna"},"chat":{"id":42,"type":"private"},"date":0,"text":"` + LabelHelp + `"}}`
	rec := httptest.NewRecorder()
	f.bot.ServeWebhook(rec, httptest.NewRequest(http.MethodPost, "/telegram/s3cret", strings.NewReader(body)))

	require.Equal(t, http.StatusOK, rec.Code)
	require.Contains(t, f.api.lastMessage(t).Text, "HELP")
}
