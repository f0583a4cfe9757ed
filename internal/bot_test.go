package internal

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"referral-bot/config"
	"referral-bot/db"
	"referral-bot/models"
)

const adminID = 42

type fakeAPI struct {
	mu       sync.Mutex
	sent     []tgbotapi.Chattable
	requests []tgbotapi.Chattable
	updates  chan tgbotapi.Update
	stopped  bool
}

func (f *fakeAPI) Send(c tgbotapi.Chattable) (tgbotapi.Message, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sent = append(f.sent, c)
	return tgbotapi.Message{}, nil
}

func (f *fakeAPI) Request(c tgbotapi.Chattable) (*tgbotapi.APIResponse, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.requests = append(f.requests, c)
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

// messages returns the texts of plain messages sent to chatID
func (f *fakeAPI) messages(chatID int64) []tgbotapi.MessageConfig {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []tgbotapi.MessageConfig
	for _, c := range f.sent {
		if msg, ok := c.(tgbotapi.MessageConfig); ok && msg.ChatID == chatID {
			out = append(out, msg)
		}
	}
	return out
}

func (f *fakeAPI) documents(chatID int64) []tgbotapi.DocumentConfig {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []tgbotapi.DocumentConfig
	for _, c := range f.sent {
		if doc, ok := c.(tgbotapi.DocumentConfig); ok && doc.ChatID == chatID {
			out = append(out, doc)
		}
	}
	return out
}

func (f *fakeAPI) photos(chatID int64) []tgbotapi.PhotoConfig {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []tgbotapi.PhotoConfig
	for _, c := range f.sent {
		if photo, ok := c.(tgbotapi.PhotoConfig); ok && photo.ChatID == chatID {
			out = append(out, photo)
		}
	}
	return out
}

func (f *fakeAPI) lastText(t *testing.T, chatID int64) string {
	t.Helper()
	msgs := f.messages(chatID)
	require.NotEmpty(t, msgs)
	return msgs[len(msgs)-1].Text
}

func (f *fakeAPI) reset() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sent = nil
	f.requests = nil
}

type exporterStub struct {
	mu       sync.Mutex
	appended []models.Referral
	exported int
	err      error
}

func (e *exporterStub) AppendReferral(ctx context.Context, ref models.Referral) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.appended = append(e.appended, ref)
	return e.err
}

func (e *exporterStub) ExportReferrals(ctx context.Context, refs []models.Referral) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.exported = len(refs)
	return e.err
}

type botFixture struct {
	bot *Bot
	api *fakeAPI
	db  *db.DB
}

func newBotFixture(t *testing.T, opts ...Option) *botFixture {
	database := newTestDB(t)
	api := &fakeAPI{updates: make(chan tgbotapi.Update)}
	cfg := &config.Config{
		BotToken:    "test",
		BotUsername: "@ref_bot",
		Admins:      []int64{adminID},
		WelcomeText: "Привет!",
		Referral:    config.ReferralConfig{RequireKnownReferrer: true, RequireKnownBank: true},
	}
	bot := NewBot(api, database, cfg, zaptest.NewLogger(t), opts...)
	return &botFixture{bot: bot, api: api, db: database}
}

func commandUpdate(userID int64, username, text string) tgbotapi.Update {
	cmd, _, _ := strings.Cut(text, " ")
	return tgbotapi.Update{
		Message: &tgbotapi.Message{
			MessageID: 1,
			From:      &tgbotapi.User{ID: userID, UserName: username},
			Chat:      &tgbotapi.Chat{ID: userID},
			Text:      text,
			Entities:  []tgbotapi.MessageEntity{{Type: "bot_command", Offset: 0, Length: len(cmd)}},
		},
	}
}

func textUpdate(userID int64, text string) tgbotapi.Update {
	return tgbotapi.Update{
		Message: &tgbotapi.Message{
			MessageID: 2,
			From:      &tgbotapi.User{ID: userID},
			Chat:      &tgbotapi.Chat{ID: userID},
			Text:      text,
		},
	}
}

func callbackUpdate(userID int64, data string) tgbotapi.Update {
	return tgbotapi.Update{
		CallbackQuery: &tgbotapi.CallbackQuery{
			ID:      "cb",
			From:    &tgbotapi.User{ID: userID},
			Message: &tgbotapi.Message{MessageID: 10, Chat: &tgbotapi.Chat{ID: userID}},
			Data:    data,
		},
	}
}

func (f *botFixture) handle(updates ...tgbotapi.Update) {
	for _, u := range updates {
		f.bot.HandleUpdate(context.Background(), u)
	}
}

func callbackData(msg tgbotapi.MessageConfig) []string {
	markup, ok := msg.ReplyMarkup.(tgbotapi.InlineKeyboardMarkup)
	if !ok {
		return nil
	}
	var out []string
	for _, row := range markup.InlineKeyboard {
		for _, btn := range row {
			if btn.CallbackData != nil {
				out = append(out, *btn.CallbackData)
			}
		}
	}
	return out
}

func TestStartRegistersAndWelcomes(t *testing.T) {
	ctx := context.Background()
	f := newBotFixture(t)

	f.handle(commandUpdate(111, "alice", "/start"))

	user, err := f.db.GetUser(ctx, 111)
	require.NoError(t, err)
	require.NotNil(t, user)
	assert.Equal(t, "alice", user.Username)

	msgs := f.api.messages(111)
	require.Len(t, msgs, 1)
	assert.Equal(t, "Привет!", msgs[0].Text)
	assert.Equal(t, []string{"bl:alfa", "bl:gazprom", "bl:tbank"}, callbackData(msgs[0]))
}

func TestStartWithReferral(t *testing.T) {
	ctx := context.Background()
	journal := &recorderStub{}
	sheets := &exporterStub{}
	f := newBotFixture(t, WithJournal(journal), WithSheets(sheets))

	f.handle(commandUpdate(111, "alice", "/start"))
	f.handle(commandUpdate(999, "bob", "/start ref_111_alfa"))
	f.bot.Wait()

	ref, err := f.db.GetReferral(ctx, 999)
	require.NoError(t, err)
	require.NotNil(t, ref)
	assert.Equal(t, int64(111), ref.ReferrerID)
	assert.Equal(t, "alfa", ref.BankKey)

	inviteeMsgs := f.api.messages(999)
	require.Len(t, inviteeMsgs, 2)
	assert.Contains(t, inviteeMsgs[0].Text, "alfa")
	assert.Equal(t, "Привет!", inviteeMsgs[1].Text)

	assert.Contains(t, f.api.lastText(t, 111), "@bob")
	assert.Equal(t, []string{models.EventReferralCreated}, journal.types())
	require.Len(t, sheets.appended, 1)
	assert.Equal(t, int64(999), sheets.appended[0].ReferredID)

	// the second link changes nothing
	f.handle(commandUpdate(222, "carol", "/start"))
	f.handle(commandUpdate(999, "bob", "/start ref_222_tbank"))
	f.bot.Wait()

	ref, err = f.db.GetReferral(ctx, 999)
	require.NoError(t, err)
	assert.Equal(t, int64(111), ref.ReferrerID)
	assert.Empty(t, f.api.messages(222)[1:])
	assert.Len(t, sheets.appended, 1)
}

func TestStartSelfReferral(t *testing.T) {
	ctx := context.Background()
	f := newBotFixture(t)

	f.handle(commandUpdate(111, "alice", "/start ref_111_alfa"))

	ref, err := f.db.GetReferral(ctx, 111)
	require.NoError(t, err)
	assert.Nil(t, ref)
	assert.Len(t, f.api.messages(111), 1)
}

func TestConcurrentStartSingleReferral(t *testing.T) {
	ctx := context.Background()
	f := newBotFixture(t)

	referrers := []int64{101, 102, 103, 104, 105}
	for _, id := range referrers {
		f.handle(commandUpdate(id, "", "/start"))
	}

	var wg sync.WaitGroup
	for _, id := range referrers {
		wg.Add(1)
		go func(referrer int64) {
			defer wg.Done()
			f.bot.HandleUpdate(ctx, commandUpdate(999, "", "/start "+Payload{ReferrerID: referrer, BankKey: "alfa"}.String()))
		}(id)
	}
	wg.Wait()

	refs, err := f.db.ListReferrals(ctx)
	require.NoError(t, err)
	require.Len(t, refs, 1)
	assert.Equal(t, int64(999), refs[0].ReferredID)
	assert.Contains(t, referrers, refs[0].ReferrerID)
}

func TestStatsAccess(t *testing.T) {
	f := newBotFixture(t)

	f.handle(commandUpdate(111, "", "/stats csv"))
	assert.Equal(t, textAccessDenied, f.api.lastText(t, 111))
	assert.Empty(t, f.api.documents(111))
}

func TestStatsCSV(t *testing.T) {
	f := newBotFixture(t)

	f.handle(commandUpdate(111, "alice", "/start"))
	f.handle(commandUpdate(999, "bob", "/start ref_111_alfa"))
	f.handle(commandUpdate(adminID, "boss", "/stats csv"))

	assert.Contains(t, f.api.lastText(t, adminID), "Всего приглашений: 1")

	docs := f.api.documents(adminID)
	require.Len(t, docs, 1)
	file, ok := docs[0].File.(tgbotapi.FileBytes)
	require.True(t, ok)
	assert.Equal(t, "referrals.csv", file.Name)

	lines := strings.Split(strings.TrimSpace(string(file.Bytes)), "\n")
	require.Len(t, lines, 2)
	assert.Equal(t, "referred_id,referrer_id,bank_key,created_at", lines[0])
	assert.True(t, strings.HasPrefix(lines[1], "999,111,alfa,"))
}

func TestStatsWithoutArgumentSendsNoFile(t *testing.T) {
	f := newBotFixture(t)
	f.handle(commandUpdate(adminID, "", "/admin_stats"))
	assert.Contains(t, f.api.lastText(t, adminID), "Всего пользователей: 1")
	assert.Empty(t, f.api.documents(adminID))
}

func TestStatsSheetExport(t *testing.T) {
	f := newBotFixture(t)
	f.handle(commandUpdate(adminID, "", "/stats sheet"))
	assert.Contains(t, f.api.lastText(t, adminID), "не настроен")

	sheets := &exporterStub{}
	f = newBotFixture(t, WithSheets(sheets))
	f.handle(commandUpdate(adminID, "", "/stats sheet"))
	assert.Contains(t, f.api.lastText(t, adminID), "Google Sheets: 0")

	sheets.err = errors.New("quota")
	f.handle(commandUpdate(adminID, "", "/stats sheet"))
	assert.Contains(t, f.api.lastText(t, adminID), "Ошибка")
}

func TestAdminDenied(t *testing.T) {
	f := newBotFixture(t)

	f.handle(commandUpdate(111, "", "/admin"))
	assert.Equal(t, textAccessDenied, f.api.lastText(t, 111))

	f.api.reset()
	f.handle(callbackUpdate(111, MenuItem(MenuEditWelcome).Encode()))
	assert.Empty(t, f.api.messages(111))
	// the callback is still answered
	assert.Len(t, f.api.requests, 1)
}

func TestAdminEditWelcomeFlow(t *testing.T) {
	f := newBotFixture(t)

	f.handle(commandUpdate(adminID, "", "/admin"))
	assert.Equal(t, textMenu, f.api.lastText(t, adminID))

	f.handle(callbackUpdate(adminID, MenuItem(MenuEditWelcome).Encode()))
	assert.Contains(t, f.api.lastText(t, adminID), "Привет!")

	// a command does not leak out of the step
	f.handle(commandUpdate(adminID, "", "/stats"))
	assert.Contains(t, f.api.lastText(t, adminID), textFinishOrCancel)

	f.handle(textUpdate(adminID, "Новое приветствие"))
	assert.Equal(t, textMenu, f.api.lastText(t, adminID))

	f.handle(commandUpdate(111, "", "/start"))
	assert.Equal(t, "Новое приветствие", f.api.lastText(t, 111))
}

func TestAdminCancelCommand(t *testing.T) {
	f := newBotFixture(t)

	f.handle(commandUpdate(adminID, "", "/admin"))
	f.handle(callbackUpdate(adminID, MenuItem(MenuAddBank).Encode()))
	f.handle(textUpdate(adminID, "sber"))
	f.handle(commandUpdate(adminID, "", "/cancel"))
	assert.Equal(t, textMenu, f.api.lastText(t, adminID))

	sess, ok := f.bot.sessions.Get(adminID)
	require.True(t, ok)
	assert.Equal(t, StateMenu, sess.State)

	f.handle(callbackUpdate(adminID, Cancel().Encode()))
	_, ok = f.bot.sessions.Get(adminID)
	assert.False(t, ok)

	bank, err := f.db.GetBank(context.Background(), "sber")
	require.NoError(t, err)
	assert.Nil(t, bank)
}

func TestAdminCallbackWithoutSession(t *testing.T) {
	f := newBotFixture(t)
	f.handle(callbackUpdate(adminID, MenuItem(MenuAddBank).Encode()))
	assert.Equal(t, textNoSession, f.api.lastText(t, adminID))
}

func TestAdminRemoveBankFlow(t *testing.T) {
	ctx := context.Background()
	f := newBotFixture(t)

	f.handle(commandUpdate(adminID, "", "/admin"))
	f.handle(callbackUpdate(adminID, MenuItem(MenuRemoveBank).Encode()))
	f.handle(callbackUpdate(adminID, SelectBank("gazprom").Encode()))
	f.handle(callbackUpdate(adminID, ConfirmDelete("gazprom").Encode()))

	bank, err := f.db.GetBank(ctx, "gazprom")
	require.NoError(t, err)
	assert.Nil(t, bank)

	f.handle(commandUpdate(111, "", "/start"))
	msgs := f.api.messages(111)
	assert.Equal(t, []string{"bl:alfa", "bl:tbank"}, callbackData(msgs[len(msgs)-1]))
}

func TestBankLinkCallback(t *testing.T) {
	f := newBotFixture(t)

	f.handle(commandUpdate(111, "", "/start"))
	f.handle(callbackUpdate(111, BankLink("alfa").Encode()))

	text := f.api.lastText(t, 111)
	assert.Contains(t, text, "https://example.com/alfa?ref=111")
	assert.Contains(t, text, "https://t.me/ref_bot?start=ref_111_alfa")

	photos := f.api.photos(111)
	require.Len(t, photos, 1)
	assert.Equal(t, "referral.png", photos[0].File.(tgbotapi.FileBytes).Name)

	f.handle(callbackUpdate(111, BankLink("nobank").Encode()))
	assert.Contains(t, f.api.lastText(t, 111), "больше недоступен")
}

func TestBankLinkDuringAdminMenu(t *testing.T) {
	f := newBotFixture(t)

	f.handle(commandUpdate(adminID, "", "/admin"))
	f.handle(callbackUpdate(adminID, BankLink("tbank").Encode()))
	assert.Contains(t, f.api.lastText(t, adminID), "https://example.com/tbank?ref=42")
}

func TestUnknownCommand(t *testing.T) {
	f := newBotFixture(t)
	f.handle(commandUpdate(111, "", "/help"))
	assert.Contains(t, f.api.lastText(t, 111), "/start")
}

func TestPlainTextIgnored(t *testing.T) {
	f := newBotFixture(t)
	f.handle(textUpdate(111, "hello"))
	assert.Empty(t, f.api.messages(111))

	exists, err := f.db.UserExists(context.Background(), 111)
	require.NoError(t, err)
	assert.True(t, exists)
}

func TestDeepLink(t *testing.T) {
	f := newBotFixture(t)
	assert.Equal(t, "https://t.me/ref_bot?start=ref_5_alfa", f.bot.DeepLink(5, "alfa"))

	f.bot.Config.BotUsername = ""
	assert.Empty(t, f.bot.DeepLink(5, "alfa"))
}

func TestStartProcessesUpdates(t *testing.T) {
	f := newBotFixture(t)

	done := make(chan error, 1)
	go func() { done <- f.bot.Start(context.Background()) }()

	f.api.updates <- commandUpdate(111, "", "/start")
	close(f.api.updates)
	require.NoError(t, <-done)

	assert.Len(t, f.api.messages(111), 1)
}

func TestStartStopsOnCancel(t *testing.T) {
	f := newBotFixture(t)
	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan error, 1)
	go func() { done <- f.bot.Start(ctx) }()
	cancel()
	require.NoError(t, <-done)

	f.api.mu.Lock()
	defer f.api.mu.Unlock()
	assert.True(t, f.api.stopped)
}

func TestStartKeepsUserOrder(t *testing.T) {
	ctx := context.Background()
	f := newBotFixture(t)

	done := make(chan error, 1)
	go func() { done <- f.bot.Start(ctx) }()

	// handing over an update does not wait for the previous one to finish
	f.api.updates <- commandUpdate(adminID, "", "/admin")
	f.api.updates <- callbackUpdate(adminID, MenuItem(MenuAddBank).Encode())
	f.api.updates <- textUpdate(adminID, "sber")
	f.api.updates <- commandUpdate(adminID, "", "/cancel")
	close(f.api.updates)
	require.NoError(t, <-done)

	sess, ok := f.bot.sessions.Get(adminID)
	require.True(t, ok)
	assert.Equal(t, StateMenu, sess.State)
	assert.Equal(t, textMenu, f.api.lastText(t, adminID))

	bank, err := f.db.GetBank(ctx, "sber")
	require.NoError(t, err)
	assert.Nil(t, bank)
}

func TestStartPayloadWithoutReferral(t *testing.T) {
	ctx := context.Background()
	f := newBotFixture(t)
	f.handle(commandUpdate(111, "alice", "/start"))

	cases := []struct {
		name    string
		userID  int64
		payload string
	}{
		{"not a referral", 201, "garbage"},
		{"non numeric referrer", 202, "ref_abc_bank"},
		{"missing bank", 203, "ref_123"},
		{"zero referrer", 204, "ref_0_alfa"},
		{"unknown bank", 205, "ref_111_nobank"},
		{"unknown referrer", 206, "ref_777_alfa"},
		{"self referral", 207, "ref_207_alfa"},
		{"extra part", 208, "ref_111_alfa_x"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			f.handle(commandUpdate(tc.userID, "", "/start "+tc.payload))

			ref, err := f.db.GetReferral(ctx, tc.userID)
			require.NoError(t, err)
			assert.Nil(t, ref)

			exists, err := f.db.UserExists(ctx, tc.userID)
			require.NoError(t, err)
			assert.True(t, exists)

			// only the welcome is sent
			msgs := f.api.messages(tc.userID)
			require.Len(t, msgs, 1)
			assert.Equal(t, "Привет!", msgs[0].Text)
		})
	}

	refs, err := f.db.ListReferrals(ctx)
	require.NoError(t, err)
	assert.Empty(t, refs)
}

func contactUpdate(userID, ownerID int64, phone string) tgbotapi.Update {
	return tgbotapi.Update{
		Message: &tgbotapi.Message{
			MessageID: 3,
			From:      &tgbotapi.User{ID: userID, UserName: "alice", FirstName: "Alice"},
			Chat:      &tgbotapi.Chat{ID: userID},
			Contact: &tgbotapi.Contact{
				PhoneNumber: phone,
				FirstName:   "Alice",
				LastName:    "Smith",
				UserID:      ownerID,
			},
		},
	}
}

func lastMessage(t *testing.T, f *fakeAPI, chatID int64) tgbotapi.MessageConfig {
	t.Helper()
	msgs := f.messages(chatID)
	require.NotEmpty(t, msgs)
	return msgs[len(msgs)-1]
}

func TestRewardRequestFlow(t *testing.T) {
	ctx := context.Background()
	journal := &recorderStub{}
	f := newBotFixture(t, WithJournal(journal))

	f.handle(commandUpdate(111, "alice", "/reward"))
	assert.Equal(t, []string{"rw:alfa", "rw:gazprom", "rw:tbank"}, callbackData(lastMessage(t, f.api, 111)))

	f.handle(callbackUpdate(111, RewardBank("alfa").Encode()))
	keyboard, ok := lastMessage(t, f.api, 111).ReplyMarkup.(tgbotapi.ReplyKeyboardMarkup)
	require.True(t, ok)
	assert.True(t, keyboard.Keyboard[0][0].RequestContact)
	assert.True(t, keyboard.OneTimeKeyboard)

	// plain text is not a contact
	f.handle(textUpdate(111, "+79990000000"))
	_, ok = lastMessage(t, f.api, 111).ReplyMarkup.(tgbotapi.ReplyKeyboardMarkup)
	assert.True(t, ok)

	// someone else's contact is refused
	f.handle(contactUpdate(111, 555, "+75550000000"))
	msgs := f.api.messages(111)
	assert.Contains(t, msgs[len(msgs)-2].Text, "собственный")

	f.handle(contactUpdate(111, 111, "+79990000000"))
	done := lastMessage(t, f.api, 111)
	assert.Contains(t, done.Text, "Заявка #1")
	_, ok = done.ReplyMarkup.(tgbotapi.ReplyKeyboardRemove)
	assert.True(t, ok)

	req, err := f.db.GetRewardRequest(ctx, 1)
	require.NoError(t, err)
	require.NotNil(t, req)
	assert.Equal(t, "alfa", req.BankKey)
	assert.Equal(t, "+79990000000", req.Phone)
	assert.Equal(t, "Alice Smith", req.FullName())
	assert.Equal(t, models.RewardPending, req.Status)

	notice := lastMessage(t, f.api, adminID)
	assert.Contains(t, notice.Text, "@alice")
	assert.Equal(t, []string{"rwa:1", "rwr:1"}, callbackData(notice))

	// one pending request per user
	f.handle(commandUpdate(111, "alice", "/reward"))
	assert.Equal(t, textRewardPending, f.api.lastText(t, 111))

	// the draft is gone, a second contact creates nothing
	f.handle(contactUpdate(111, 111, "+79990000001"))
	assert.Equal(t, textRewardPending, f.api.lastText(t, 111))

	f.handle(callbackUpdate(adminID, ApproveReward(1).Encode()))
	assert.Equal(t, "Заявка #1 одобрена.", f.api.lastText(t, adminID))
	assert.Contains(t, f.api.lastText(t, 111), "одобрена")

	req, err = f.db.GetRewardRequest(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, models.RewardApproved, req.Status)

	// a second decision is refused
	f.handle(callbackUpdate(adminID, RejectReward(1).Encode()))
	assert.Contains(t, f.api.lastText(t, adminID), "уже рассмотрена")

	f.bot.Wait()
	assert.Equal(t, []string{models.EventRewardRequested, models.EventRewardDecided}, journal.types())
}

func TestRewardDecisionDenied(t *testing.T) {
	ctx := context.Background()
	f := newBotFixture(t)

	_, err := f.db.CreateRewardRequest(ctx, &models.RewardRequest{UserID: 111, BankKey: "alfa", Phone: "+7999", FirstName: "Alice"})
	require.NoError(t, err)

	f.handle(callbackUpdate(111, ApproveReward(1).Encode()))
	assert.Equal(t, textAccessDenied, f.api.lastText(t, 111))

	req, err := f.db.GetRewardRequest(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, models.RewardPending, req.Status)
}

func TestRewardCancel(t *testing.T) {
	ctx := context.Background()
	f := newBotFixture(t)

	f.handle(commandUpdate(111, "", "/reward"))
	f.handle(callbackUpdate(111, RewardBank("tbank").Encode()))
	f.handle(commandUpdate(111, "", "/cancel"))
	assert.Equal(t, "Заявка отменена.", f.api.lastText(t, 111))

	f.api.reset()
	f.handle(contactUpdate(111, 111, "+79990000000"))
	assert.Empty(t, f.api.messages(111))

	pending, err := f.db.HasPendingRewardRequest(ctx, 111)
	require.NoError(t, err)
	assert.False(t, pending)
}

func TestRewardUnknownBank(t *testing.T) {
	f := newBotFixture(t)
	f.handle(callbackUpdate(111, RewardBank("nobank").Encode()))
	assert.Contains(t, f.api.lastText(t, 111), "больше недоступен")

	_, ok := f.bot.rewardDrafts.get(111)
	assert.False(t, ok)
}

func TestRewardsListing(t *testing.T) {
	ctx := context.Background()
	f := newBotFixture(t)

	f.handle(commandUpdate(111, "", "/rewards"))
	assert.Equal(t, textAccessDenied, f.api.lastText(t, 111))

	f.handle(commandUpdate(adminID, "", "/rewards"))
	assert.Contains(t, f.api.lastText(t, adminID), "Нет заявок")

	for _, userID := range []int64{111, 222} {
		_, err := f.db.CreateRewardRequest(ctx, &models.RewardRequest{UserID: userID, BankKey: "alfa", Phone: "+7999", FirstName: "User"})
		require.NoError(t, err)
	}

	f.api.reset()
	f.handle(commandUpdate(adminID, "", "/rewards"))
	msgs := f.api.messages(adminID)
	require.Len(t, msgs, 2)
	assert.Equal(t, []string{"rwa:2", "rwr:2"}, callbackData(msgs[0]))
	assert.Equal(t, []string{"rwa:1", "rwr:1"}, callbackData(msgs[1]))

	f.handle(callbackUpdate(adminID, RejectReward(2).Encode()))
	assert.Contains(t, f.api.lastText(t, 222), "отклонена")

	f.handle(commandUpdate(adminID, "", "/rewards history"))
	history := f.api.lastText(t, adminID)
	assert.Contains(t, history, "#2 alfa")
	assert.Contains(t, history, "отклонена")
	assert.NotContains(t, history, "#1 ")

	f.handle(commandUpdate(adminID, "", "/stats"))
	assert.Contains(t, f.api.lastText(t, adminID), "ожидают 1, одобрены 0, отклонены 1")
}

func TestRewardDecisionDuringAdminStep(t *testing.T) {
	ctx := context.Background()
	f := newBotFixture(t)

	_, err := f.db.CreateRewardRequest(ctx, &models.RewardRequest{UserID: 111, BankKey: "alfa", Phone: "+7999", FirstName: "Alice"})
	require.NoError(t, err)

	f.handle(commandUpdate(adminID, "", "/admin"))
	f.handle(callbackUpdate(adminID, MenuItem(MenuEditWelcome).Encode()))
	f.handle(callbackUpdate(adminID, ApproveReward(1).Encode()))
	assert.Equal(t, "Заявка #1 одобрена.", f.api.lastText(t, adminID))

	// the open step is untouched
	sess, ok := f.bot.sessions.Get(adminID)
	require.True(t, ok)
	assert.Equal(t, StateEditWelcome, sess.State)
}

func TestAdminWelcomeWithSlash(t *testing.T) {
	f := newBotFixture(t)

	f.handle(commandUpdate(adminID, "", "/admin"))
	f.handle(callbackUpdate(adminID, MenuItem(MenuEditWelcome).Encode()))
	// text starting with a slash but without a command entity is a welcome text
	f.handle(textUpdate(adminID, "/start, чтобы начать"))
	assert.Equal(t, textMenu, f.api.lastText(t, adminID))

	f.handle(commandUpdate(111, "", "/start"))
	assert.Equal(t, "/start, чтобы начать", f.api.lastText(t, 111))
}
