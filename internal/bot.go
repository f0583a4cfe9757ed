package internal

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"go.uber.org/zap"

	"referral-bot/config"
	"referral-bot/db"
	"referral-bot/models"
)

const (
	textAccessDenied = "Доступ запрещён."
	textTryLater     = "Произошла ошибка, попробуйте позже."
	textNoSession    = "Админ-панель закрыта. Отправьте /admin, чтобы открыть её снова."

	sideEffectTimeout = 15 * time.Second
)

// Sender is the part of tgbotapi.BotAPI the bot uses
type Sender interface {
	Send(c tgbotapi.Chattable) (tgbotapi.Message, error)
	Request(c tgbotapi.Chattable) (*tgbotapi.APIResponse, error)
	GetUpdatesChan(config tgbotapi.UpdateConfig) tgbotapi.UpdatesChannel
	StopReceivingUpdates()
}

// ReferralExporter mirrors referrals to an external sheet
type ReferralExporter interface {
	AppendReferral(ctx context.Context, ref models.Referral) error
	ExportReferrals(ctx context.Context, refs []models.Referral) error
}

// Bot represents the Telegram bot and its dependencies
type Bot struct {
	API    Sender
	DB     *db.DB
	Config *config.Config
	Log    *zap.Logger

	// Journal and Sheets are optional
	Journal Recorder
	Sheets  ReferralExporter

	sessions     *SessionStore
	rewardDrafts *rewardDrafts
	admin        *AdminPanel
	attributor   *Attributor
	locks        userLocks
	background   sync.WaitGroup
}

// Option configures optional Bot dependencies
type Option func(*Bot)

// WithJournal records attributions and admin commits
func WithJournal(r Recorder) Option {
	return func(b *Bot) { b.Journal = r }
}

// WithSheets mirrors referrals to Google Sheets
func WithSheets(e ReferralExporter) Option {
	return func(b *Bot) { b.Sheets = e }
}

// NewBot creates a new Bot instance
func NewBot(api Sender, database *db.DB, cfg *config.Config, log *zap.Logger, opts ...Option) *Bot {
	bot := &Bot{
		API:          api,
		DB:           database,
		Config:       cfg,
		Log:          log,
		sessions:     NewSessionStore(cfg.SessionTTL),
		rewardDrafts: newRewardDrafts(cfg.SessionTTL),
	}
	for _, opt := range opts {
		opt(bot)
	}

	bot.attributor = NewAttributor(database, database, database,
		cfg.Referral.RequireKnownReferrer, cfg.Referral.RequireKnownBank)
	bot.admin = NewAdminPanel(database, database, recorderFunc(bot.recordEvent), cfg.WelcomeText)
	return bot
}

type recorderFunc func(ctx context.Context, event models.Event) error

func (f recorderFunc) Record(ctx context.Context, event models.Event) error { return f(ctx, event) }

// Start listens for updates until ctx is cancelled, then waits for in-flight handlers
func (b *Bot) Start(ctx context.Context) error {
	u := tgbotapi.NewUpdate(0)
	u.Timeout = b.Config.Telegram.Timeout

	updates := b.API.GetUpdatesChan(u)

	var queue updateQueue
	defer func() {
		queue.wait()
		b.Wait()
	}()

	for {
		select {
		case <-ctx.Done():
			b.API.StopReceivingUpdates()
			return nil
		case update, ok := <-updates:
			if !ok {
				return nil
			}
			from := updateSender(update)
			if from == nil {
				continue
			}
			// users are handled concurrently, each user's updates in arrival order
			queue.push(from.ID, func() { b.HandleUpdate(ctx, update) })
		}
	}
}

// Wait blocks until fire-and-forget side effects have finished
func (b *Bot) Wait() {
	b.background.Wait()
}

// HandleUpdate processes one update. Updates of the same user never run concurrently.
func (b *Bot) HandleUpdate(ctx context.Context, update tgbotapi.Update) {
	from := updateSender(update)
	if from == nil {
		return
	}

	unlock := b.locks.lock(from.ID)
	defer unlock()

	user, err := b.DB.RegisterUser(ctx, &models.User{
		ID:        from.ID,
		Username:  from.UserName,
		FirstName: from.FirstName,
		LastName:  from.LastName,
	})
	if err != nil {
		b.Log.Error("error registering user", zap.Int64("user_id", from.ID), zap.Error(err))
		user = &models.User{ID: from.ID, Username: from.UserName, FirstName: from.FirstName, LastName: from.LastName}
	}

	if update.Message != nil {
		b.handleMessage(ctx, update.Message, user)
	} else {
		b.handleCallback(ctx, update.CallbackQuery, user)
	}
}

// updateSender returns the author of a message or callback update
func updateSender(update tgbotapi.Update) *tgbotapi.User {
	switch {
	case update.Message != nil:
		return update.Message.From
	case update.CallbackQuery != nil:
		return update.CallbackQuery.From
	}
	return nil
}

// handleMessage handles incoming messages
func (b *Bot) handleMessage(ctx context.Context, message *tgbotapi.Message, user *models.User) {
	b.Log.Debug("message", zap.Int64("user_id", user.ID), zap.String("text", message.Text))
	chatID := message.Chat.ID

	if message.IsCommand() {
		switch message.Command() {
		case "admin":
			b.handleAdmin(ctx, chatID, user)
			return
		case "cancel":
			if sess, ok := b.sessions.Get(user.ID); ok {
				b.runAdminToken(ctx, chatID, sess, Cancel())
				return
			}
		}
	}

	// an unfinished admin step captures everything the admin sends
	if sess, ok := b.sessions.Get(user.ID); ok && sess.State != StateMenu {
		b.sessions.Touch(sess)
		var rep Reply
		var err error
		if message.IsCommand() {
			rep, err = b.admin.HandleCommand(ctx, sess)
		} else {
			rep, err = b.admin.HandleText(ctx, sess, message.Text)
		}
		b.deliverAdminReply(chatID, sess, rep, err)
		return
	}

	if message.IsCommand() {
		b.handleCommand(ctx, message, user)
		return
	}

	if bankKey, ok := b.rewardDrafts.get(user.ID); ok {
		b.handleRewardContact(ctx, message, user, bankKey)
	}
}

// handleCommand handles bot commands
func (b *Bot) handleCommand(ctx context.Context, message *tgbotapi.Message, user *models.User) {
	switch message.Command() {
	case "start":
		b.handleStart(ctx, message, user)
	case "stats", "admin_stats":
		b.handleStats(ctx, message, user)
	case "reward":
		b.handleReward(ctx, message.Chat.ID, user)
	case "rewards":
		b.handleRewards(ctx, message, user)
	case "cancel":
		b.cancelReward(message.Chat.ID, user)
	default:
		b.send(tgbotapi.NewMessage(message.Chat.ID, "Извините, такой команды не существует. Используйте /start."))
	}
}

func (b *Bot) handleStart(ctx context.Context, message *tgbotapi.Message, user *models.User) {
	chatID := message.Chat.ID
	payload := message.CommandArguments()

	outcome, err := b.attributor.Attribute(ctx, user.ID, payload)
	if err != nil {
		b.Log.Error("error attributing referral", zap.Int64("user_id", user.ID), zap.String("payload", payload), zap.Error(err))
	}
	switch outcome.Kind {
	case OutcomeAttributed:
		b.Log.Info("referral attributed",
			zap.Int64("referred_id", outcome.Referral.ReferredID),
			zap.Int64("referrer_id", outcome.Referral.ReferrerID),
			zap.String("bank_key", outcome.Referral.BankKey))
		b.send(tgbotapi.NewMessage(chatID, fmt.Sprintf("Спасибо! Вас пригласили по реферальной ссылке банка %s.", outcome.Referral.BankKey)))
		b.onReferral(ctx, *outcome.Referral, user)
	case OutcomeAlreadyAttributed:
		b.Log.Debug("referral already attributed", zap.Int64("user_id", user.ID), zap.String("payload", payload))
	case OutcomeSkipped:
		if outcome.Reason != "" && outcome.Reason != SkipNoPayload {
			b.Log.Debug("referral skipped", zap.Int64("user_id", user.ID), zap.String("reason", string(outcome.Reason)))
		}
	}

	welcome, err := b.DB.WelcomeText(ctx, b.Config.WelcomeText)
	if err != nil {
		b.Log.Error("error getting welcome text", zap.Error(err))
		welcome = b.Config.WelcomeText
	}
	banks, err := b.DB.ListBanks(ctx)
	if err != nil {
		b.Log.Error("error listing banks", zap.Error(err))
	}

	msg := tgbotapi.NewMessage(chatID, welcome)
	if len(banks) > 0 {
		rows := make([][]tgbotapi.InlineKeyboardButton, 0, len(banks))
		for _, bank := range banks {
			rows = append(rows, tgbotapi.NewInlineKeyboardRow(
				tgbotapi.NewInlineKeyboardButtonData(bank.Key, BankLink(bank.Key).Encode()),
			))
		}
		msg.ReplyMarkup = tgbotapi.NewInlineKeyboardMarkup(rows...)
	}
	b.send(msg)
}

// onReferral runs the side effects of a new referral without blocking the handler
func (b *Bot) onReferral(ctx context.Context, ref models.Referral, invitee *models.User) {
	b.recordEvent(ctx, models.Event{
		Type:    models.EventReferralCreated,
		ActorID: ref.ReferredID,
		Data: map[string]string{
			"referrer_id": fmt.Sprintf("%d", ref.ReferrerID),
			"bank_key":    ref.BankKey,
		},
	})

	if b.Sheets != nil {
		b.goBackground(ctx, func(ctx context.Context) {
			if err := b.Sheets.AppendReferral(ctx, ref); err != nil {
				b.Log.Warn("error logging referral to Google Sheets", zap.Int64("referred_id", ref.ReferredID), zap.Error(err))
			}
		})
	}

	name := invitee.DisplayName()
	if name == "" {
		name = "новый пользователь"
	}
	b.send(tgbotapi.NewMessage(ref.ReferrerID, fmt.Sprintf("🎉 По вашей ссылке банка %s присоединился %s.", ref.BankKey, name)))
}

func (b *Bot) handleStats(ctx context.Context, message *tgbotapi.Message, user *models.User) {
	chatID := message.Chat.ID
	if !b.Config.IsAdmin(user.ID) {
		b.send(tgbotapi.NewMessage(chatID, textAccessDenied))
		return
	}

	stats, err := b.DB.Summary(ctx)
	if err != nil {
		b.Log.Error("error building stats", zap.Error(err))
		b.send(tgbotapi.NewMessage(chatID, textTryLater))
		return
	}
	b.send(tgbotapi.NewMessage(chatID, FormatSummary(stats)))

	arg := strings.ToLower(strings.TrimSpace(message.CommandArguments()))
	if arg != "csv" && arg != "sheet" {
		return
	}

	refs, err := b.DB.ListReferrals(ctx)
	if err != nil {
		b.Log.Error("error listing referrals", zap.Error(err))
		b.send(tgbotapi.NewMessage(chatID, textTryLater))
		return
	}

	switch arg {
	case "csv":
		data, err := ReferralsCSV(refs)
		if err != nil {
			b.Log.Error("error rendering csv", zap.Error(err))
			b.send(tgbotapi.NewMessage(chatID, textTryLater))
			return
		}
		doc := tgbotapi.NewDocument(chatID, tgbotapi.FileBytes{Name: "referrals.csv", Bytes: data})
		doc.Caption = "CSV статистика"
		b.send(doc)
	case "sheet":
		if b.Sheets == nil {
			b.send(tgbotapi.NewMessage(chatID, "Экспорт в Google Sheets не настроен."))
			return
		}
		if err := b.Sheets.ExportReferrals(ctx, refs); err != nil {
			b.Log.Error("error exporting to Google Sheets", zap.Error(err))
			b.send(tgbotapi.NewMessage(chatID, "Ошибка выгрузки в Google Sheets."))
			return
		}
		b.send(tgbotapi.NewMessage(chatID, fmt.Sprintf("Выгружено в Google Sheets: %d строк.", len(refs))))
	}
}

func (b *Bot) handleAdmin(ctx context.Context, chatID int64, user *models.User) {
	if !b.Config.IsAdmin(user.ID) {
		b.send(tgbotapi.NewMessage(chatID, textAccessDenied))
		return
	}
	b.sessions.Open(user.ID)
	b.sendPrompt(chatID, b.admin.Menu())
}

// handleCallback handles callback queries from inline keyboards
func (b *Bot) handleCallback(ctx context.Context, callback *tgbotapi.CallbackQuery, user *models.User) {
	b.Log.Debug("callback", zap.Int64("user_id", user.ID), zap.String("data", callback.Data))
	defer b.request(tgbotapi.NewCallback(callback.ID, ""))

	if callback.Message == nil {
		return
	}
	chatID := callback.Message.Chat.ID

	tok, err := ParseToken(callback.Data)
	if err != nil {
		b.Log.Warn("unknown callback data", zap.Int64("user_id", user.ID), zap.Error(err))
		return
	}

	// reward decisions do not depend on the admin panel session
	if tok.Kind == TokenApproveReward || tok.Kind == TokenRejectReward {
		b.decideReward(ctx, callback, user, tok)
		return
	}

	sess, ok := b.sessions.Get(user.ID)
	switch {
	case ok && (sess.State != StateMenu || tok.IsPanel()):
		// drop the buttons of the pressed message so it cannot be pressed twice
		b.request(tgbotapi.NewEditMessageReplyMarkup(chatID, callback.Message.MessageID,
			tgbotapi.InlineKeyboardMarkup{InlineKeyboard: [][]tgbotapi.InlineKeyboardButton{}}))
		b.runAdminToken(ctx, chatID, sess, tok)
	case tok.Kind == TokenBankLink:
		b.sendBankLink(ctx, chatID, user, tok.Arg)
	case tok.Kind == TokenRewardBank:
		b.selectRewardBank(ctx, chatID, user, tok.Arg)
	case tok.IsPanel() && b.Config.IsAdmin(user.ID):
		b.send(tgbotapi.NewMessage(chatID, textNoSession))
	}
}

func (b *Bot) runAdminToken(ctx context.Context, chatID int64, sess *Session, tok Token) {
	b.sessions.Touch(sess)
	rep, err := b.admin.HandleToken(ctx, sess, tok)
	b.deliverAdminReply(chatID, sess, rep, err)
}

func (b *Bot) deliverAdminReply(chatID int64, sess *Session, rep Reply, err error) {
	if err != nil {
		b.Log.Error("admin panel error", zap.Int64("admin_id", sess.AdminID), zap.Stringer("state", sess.State), zap.Error(err))
		b.send(tgbotapi.NewMessage(chatID, textTryLater))
		return
	}
	if rep.Closed {
		b.sessions.Close(sess.AdminID)
	}
	for _, p := range rep.Prompts {
		b.sendPrompt(chatID, p)
	}
}

// sendBankLink renders the stateless bank link of the user together with a QR code
// and the deep link for inviting friends into the bot
func (b *Bot) sendBankLink(ctx context.Context, chatID int64, user *models.User, key string) {
	bank, err := b.DB.GetBank(ctx, key)
	if err != nil {
		b.Log.Error("error getting bank", zap.String("bank_key", key), zap.Error(err))
		b.send(tgbotapi.NewMessage(chatID, textTryLater))
		return
	}
	if bank == nil {
		b.send(tgbotapi.NewMessage(chatID, "Этот банк больше недоступен. Отправьте /start, чтобы обновить список."))
		return
	}

	link := bank.ReferralURL(user.ID)
	text := fmt.Sprintf("Ваша ссылка для банка %s:\n%s", bank.Key, link)
	if deepLink := b.DeepLink(user.ID, bank.Key); deepLink != "" {
		text += "\n\nПригласите друга в бота:\n" + deepLink
	}

	msg := tgbotapi.NewMessage(chatID, text)
	msg.ReplyMarkup = tgbotapi.NewInlineKeyboardMarkup(
		tgbotapi.NewInlineKeyboardRow(tgbotapi.NewInlineKeyboardButtonURL("Открыть "+bank.Key, link)),
	)
	msg.DisableWebPagePreview = true
	b.send(msg)

	png, err := ReferralQRCode(link)
	if err != nil {
		b.Log.Warn("error rendering qr code", zap.String("bank_key", bank.Key), zap.Error(err))
		return
	}
	photo := tgbotapi.NewPhoto(chatID, tgbotapi.FileBytes{Name: "referral.png", Bytes: png})
	photo.Caption = "QR-код вашей ссылки " + bank.Key
	b.send(photo)
}

// DeepLink returns the t.me link that attributes new users to referrerID, empty
// when the bot username is unknown
func (b *Bot) DeepLink(referrerID int64, bankKey string) string {
	username := strings.TrimPrefix(b.Config.BotUsername, "@")
	if username == "" {
		return ""
	}
	return fmt.Sprintf("https://t.me/%s?start=%s", username, Payload{ReferrerID: referrerID, BankKey: bankKey})
}

func (b *Bot) sendPrompt(chatID int64, p Prompt) {
	msg := tgbotapi.NewMessage(chatID, p.Text)
	if len(p.Buttons) > 0 {
		rows := make([][]tgbotapi.InlineKeyboardButton, 0, len(p.Buttons))
		for _, row := range p.Buttons {
			buttons := make([]tgbotapi.InlineKeyboardButton, 0, len(row))
			for _, btn := range row {
				buttons = append(buttons, tgbotapi.NewInlineKeyboardButtonData(btn.Text, btn.Token.Encode()))
			}
			rows = append(rows, buttons)
		}
		msg.ReplyMarkup = tgbotapi.NewInlineKeyboardMarkup(rows...)
	}
	b.send(msg)
}

// send delivers a message. Delivery is fire-and-forget: failures are only logged.
func (b *Bot) send(c tgbotapi.Chattable) {
	if _, err := b.API.Send(c); err != nil {
		b.Log.Warn("error sending message", zap.Error(err))
	}
}

func (b *Bot) request(c tgbotapi.Chattable) {
	if _, err := b.API.Request(c); err != nil {
		b.Log.Warn("error sending request", zap.Error(err))
	}
}

func (b *Bot) recordEvent(ctx context.Context, event models.Event) error {
	if b.Journal == nil {
		return nil
	}
	b.goBackground(ctx, func(ctx context.Context) {
		if err := b.Journal.Record(ctx, event); err != nil {
			b.Log.Warn("error recording event", zap.String("type", event.Type), zap.Error(err))
		}
	})
	return nil
}

// goBackground runs fn detached from the handler's cancellation
func (b *Bot) goBackground(ctx context.Context, fn func(ctx context.Context)) {
	b.background.Add(1)
	go func() {
		defer b.background.Done()
		ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), sideEffectTimeout)
		defer cancel()
		fn(ctx)
	}()
}
