package internal

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"go.uber.org/zap"

	"referral-bot/db"
	"referral-bot/models"
)

const (
	textRewardPending  = "У вас уже есть заявка на вознаграждение, она ожидает рассмотрения."
	textShareContact   = "Поделиться номером телефона"
	rewardHistoryLimit = 20
)

// rewardDrafts remembers users who picked a bank for a reward request and still owe their contact
type rewardDrafts struct {
	mu     sync.Mutex
	ttl    time.Duration
	drafts map[int64]rewardDraft
	now    func() time.Time
}

type rewardDraft struct {
	BankKey   string
	UpdatedAt time.Time
}

func newRewardDrafts(ttl time.Duration) *rewardDrafts {
	return &rewardDrafts{
		ttl:    ttl,
		drafts: make(map[int64]rewardDraft),
		now:    time.Now,
	}
}

func (d *rewardDrafts) put(userID int64, bankKey string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.drafts[userID] = rewardDraft{BankKey: bankKey, UpdatedAt: d.now()}
}

// get returns the bank of a live draft, dropping expired ones
func (d *rewardDrafts) get(userID int64) (string, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	draft, ok := d.drafts[userID]
	if !ok {
		return "", false
	}
	if d.ttl > 0 && d.now().Sub(draft.UpdatedAt) > d.ttl {
		delete(d.drafts, userID)
		return "", false
	}
	return draft.BankKey, true
}

func (d *rewardDrafts) drop(userID int64) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	_, ok := d.drafts[userID]
	delete(d.drafts, userID)
	return ok
}

// handleReward starts a reward request by asking for the bank
func (b *Bot) handleReward(ctx context.Context, chatID int64, user *models.User) {
	pending, err := b.DB.HasPendingRewardRequest(ctx, user.ID)
	if err != nil {
		b.Log.Error("error checking reward requests", zap.Int64("user_id", user.ID), zap.Error(err))
		b.send(tgbotapi.NewMessage(chatID, textTryLater))
		return
	}
	if pending {
		b.send(tgbotapi.NewMessage(chatID, textRewardPending))
		return
	}

	banks, err := b.DB.ListBanks(ctx)
	if err != nil {
		b.Log.Error("error listing banks", zap.Error(err))
		b.send(tgbotapi.NewMessage(chatID, textTryLater))
		return
	}
	if len(banks) == 0 {
		b.send(tgbotapi.NewMessage(chatID, "Сейчас нет банков для заявки."))
		return
	}

	rows := make([][]tgbotapi.InlineKeyboardButton, 0, len(banks))
	for _, bank := range banks {
		rows = append(rows, tgbotapi.NewInlineKeyboardRow(
			tgbotapi.NewInlineKeyboardButtonData(bank.Key, RewardBank(bank.Key).Encode()),
		))
	}
	msg := tgbotapi.NewMessage(chatID, "Выберите банк, по которому хотите получить вознаграждение:")
	msg.ReplyMarkup = tgbotapi.NewInlineKeyboardMarkup(rows...)
	b.send(msg)
}

// selectRewardBank stores the chosen bank and asks for the phone number
func (b *Bot) selectRewardBank(ctx context.Context, chatID int64, user *models.User, key string) {
	bank, err := b.DB.GetBank(ctx, key)
	if err != nil {
		b.Log.Error("error getting bank", zap.String("bank_key", key), zap.Error(err))
		b.send(tgbotapi.NewMessage(chatID, textTryLater))
		return
	}
	if bank == nil {
		b.send(tgbotapi.NewMessage(chatID, "Этот банк больше недоступен. Отправьте /reward, чтобы выбрать другой."))
		return
	}

	b.rewardDrafts.put(user.ID, bank.Key)
	b.requestPhoneNumber(chatID, bank.Key)
}

// requestPhoneNumber asks the user for their phone number
func (b *Bot) requestPhoneNumber(chatID int64, bankKey string) {
	keyboard := tgbotapi.NewReplyKeyboard(
		tgbotapi.NewKeyboardButtonRow(
			tgbotapi.NewKeyboardButtonContact(textShareContact),
		),
	)
	keyboard.OneTimeKeyboard = true

	msg := tgbotapi.NewMessage(chatID, fmt.Sprintf(
		"Заявка по банку %s. Пожалуйста, поделитесь своим номером телефона кнопкой ниже или отправьте /cancel.", bankKey))
	msg.ReplyMarkup = keyboard
	b.send(msg)
}

// handleRewardContact turns the shared contact into a pending reward request
func (b *Bot) handleRewardContact(ctx context.Context, message *tgbotapi.Message, user *models.User, bankKey string) {
	chatID := message.Chat.ID
	contact := message.Contact
	if contact == nil {
		b.requestPhoneNumber(chatID, bankKey)
		return
	}
	if contact.UserID != 0 && contact.UserID != user.ID {
		b.send(tgbotapi.NewMessage(chatID, "Нужен ваш собственный номер телефона."))
		b.requestPhoneNumber(chatID, bankKey)
		return
	}

	firstName := strings.TrimSpace(contact.FirstName)
	lastName := strings.TrimSpace(contact.LastName)
	if firstName == "" {
		firstName, lastName = user.FirstName, user.LastName
	}

	req, err := b.DB.CreateRewardRequest(ctx, &models.RewardRequest{
		UserID:    user.ID,
		BankKey:   bankKey,
		Phone:     strings.TrimSpace(contact.PhoneNumber),
		FirstName: firstName,
		LastName:  lastName,
	})
	var verr *models.ValidationError
	switch {
	case errors.As(err, &verr):
		b.send(tgbotapi.NewMessage(chatID, "Не удалось прочитать контакт: "+verr.Message+"."))
		b.requestPhoneNumber(chatID, bankKey)
		return
	case errors.Is(err, db.ErrRewardPending):
		b.rewardDrafts.drop(user.ID)
		b.sendRemovingKeyboard(chatID, textRewardPending)
		return
	case err != nil:
		b.Log.Error("error creating reward request", zap.Int64("user_id", user.ID), zap.Error(err))
		b.send(tgbotapi.NewMessage(chatID, textTryLater))
		return
	}

	b.rewardDrafts.drop(user.ID)
	b.Log.Info("reward requested", zap.Int64("request_id", req.ID), zap.Int64("user_id", user.ID), zap.String("bank_key", bankKey))
	b.sendRemovingKeyboard(chatID, fmt.Sprintf("✅ Заявка #%d принята и ожидает рассмотрения.", req.ID))

	b.recordEvent(ctx, models.Event{
		Type:    models.EventRewardRequested,
		ActorID: user.ID,
		Data: map[string]string{
			"request_id": fmt.Sprintf("%d", req.ID),
			"bank_key":   req.BankKey,
		},
	})

	req.Username = user.Username
	for _, adminID := range b.Config.Admins {
		b.sendRewardRequest(adminID, req)
	}
}

// cancelReward drops an unfinished reward request
func (b *Bot) cancelReward(chatID int64, user *models.User) bool {
	if !b.rewardDrafts.drop(user.ID) {
		return false
	}
	b.sendRemovingKeyboard(chatID, "Заявка отменена.")
	return true
}

// handleRewards lists pending requests, or decided ones with the history argument
func (b *Bot) handleRewards(ctx context.Context, message *tgbotapi.Message, user *models.User) {
	chatID := message.Chat.ID
	if !b.Config.IsAdmin(user.ID) {
		b.send(tgbotapi.NewMessage(chatID, textAccessDenied))
		return
	}

	if strings.ToLower(strings.TrimSpace(message.CommandArguments())) == "history" {
		reqs, err := b.DB.ListRewardHistory(ctx)
		if err != nil {
			b.Log.Error("error listing reward history", zap.Error(err))
			b.send(tgbotapi.NewMessage(chatID, textTryLater))
			return
		}
		b.send(tgbotapi.NewMessage(chatID, formatRewardHistory(reqs)))
		return
	}

	reqs, err := b.DB.ListRewardRequests(ctx)
	if err != nil {
		b.Log.Error("error listing reward requests", zap.Error(err))
		b.send(tgbotapi.NewMessage(chatID, textTryLater))
		return
	}
	if len(reqs) == 0 {
		b.send(tgbotapi.NewMessage(chatID, "Нет заявок, ожидающих рассмотрения."))
		return
	}
	for i := range reqs {
		b.sendRewardRequest(chatID, &reqs[i])
	}
}

// sendRewardRequest shows a pending request with approve and reject buttons
func (b *Bot) sendRewardRequest(chatID int64, req *models.RewardRequest) {
	msg := tgbotapi.NewMessage(chatID, formatRewardRequest(req))
	msg.ReplyMarkup = tgbotapi.NewInlineKeyboardMarkup(
		tgbotapi.NewInlineKeyboardRow(
			tgbotapi.NewInlineKeyboardButtonData("✅ Одобрить", ApproveReward(req.ID).Encode()),
			tgbotapi.NewInlineKeyboardButtonData("❌ Отклонить", RejectReward(req.ID).Encode()),
		),
	)
	b.send(msg)
}

// decideReward applies an admin's approve or reject button
func (b *Bot) decideReward(ctx context.Context, callback *tgbotapi.CallbackQuery, user *models.User, tok Token) {
	chatID := callback.Message.Chat.ID
	if !b.Config.IsAdmin(user.ID) {
		b.send(tgbotapi.NewMessage(chatID, textAccessDenied))
		return
	}
	b.request(tgbotapi.NewEditMessageReplyMarkup(chatID, callback.Message.MessageID,
		tgbotapi.InlineKeyboardMarkup{InlineKeyboard: [][]tgbotapi.InlineKeyboardButton{}}))

	status, verdict, notice := models.RewardApproved, "одобрена", "🎉 Ваша заявка #%d на вознаграждение по банку %s одобрена."
	if tok.Kind == TokenRejectReward {
		status, verdict, notice = models.RewardRejected, "отклонена", "Ваша заявка #%d на вознаграждение по банку %s отклонена."
	}

	id := tok.RequestID()
	req, err := b.DB.DecideRewardRequest(ctx, id, status)
	if errors.Is(err, db.ErrRewardNotPending) {
		b.send(tgbotapi.NewMessage(chatID, fmt.Sprintf("Заявка #%d уже рассмотрена или не найдена.", id)))
		return
	}
	if err != nil {
		b.Log.Error("error deciding reward request", zap.Int64("request_id", id), zap.Error(err))
		b.send(tgbotapi.NewMessage(chatID, textTryLater))
		return
	}

	b.Log.Info("reward decided", zap.Int64("request_id", id), zap.String("status", status), zap.Int64("admin_id", user.ID))
	b.send(tgbotapi.NewMessage(chatID, fmt.Sprintf("Заявка #%d %s.", id, verdict)))
	b.send(tgbotapi.NewMessage(req.UserID, fmt.Sprintf(notice, req.ID, req.BankKey)))

	b.recordEvent(ctx, models.Event{
		Type:    models.EventRewardDecided,
		ActorID: user.ID,
		Data: map[string]string{
			"request_id": fmt.Sprintf("%d", id),
			"status":     status,
		},
	})
}

func (b *Bot) sendRemovingKeyboard(chatID int64, text string) {
	msg := tgbotapi.NewMessage(chatID, text)
	msg.ReplyMarkup = tgbotapi.NewRemoveKeyboard(true)
	b.send(msg)
}

func formatRewardRequest(req *models.RewardRequest) string {
	who := req.FullName()
	if req.Username != "" {
		who += " (@" + req.Username + ")"
	}
	return fmt.Sprintf("Заявка #%d на вознаграждение\nБанк: %s\nИмя: %s\nТелефон: %s\nID: %d\nСоздана: %s",
		req.ID, req.BankKey, who, req.Phone, req.UserID, req.CreatedAt.UTC().Format(time.RFC3339))
}

func formatRewardHistory(reqs []models.RewardRequest) string {
	if len(reqs) == 0 {
		return "История заявок пуста."
	}
	var b strings.Builder
	b.WriteString("История заявок:\n")
	for i, req := range reqs {
		if i == rewardHistoryLimit {
			fmt.Fprintf(&b, "… и ещё %d", len(reqs)-rewardHistoryLimit)
			break
		}
		status := "одобрена"
		if req.Status == models.RewardRejected {
			status = "отклонена"
		}
		fmt.Fprintf(&b, "#%d %s, %s, %s: %s\n", req.ID, req.BankKey, req.FullName(), req.Phone, status)
	}
	return strings.TrimRight(b.String(), "\n")
}
