package internal

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"referral-bot/db"
	"referral-bot/models"
)

// BankDirectory is the bank storage the admin panel edits
type BankDirectory interface {
	ListBanks(ctx context.Context) ([]models.Bank, error)
	GetBank(ctx context.Context, key string) (*models.Bank, error)
	UpdateBankURL(ctx context.Context, key, baseURL string) error
	AddBank(ctx context.Context, key, baseURL string) error
	RemoveBank(ctx context.Context, key string) error
}

// WelcomeStore holds the /start welcome text
type WelcomeStore interface {
	WelcomeText(ctx context.Context, def string) (string, error)
	SetWelcomeText(ctx context.Context, text string) error
}

// Recorder receives events about committed changes
type Recorder interface {
	Record(ctx context.Context, event models.Event) error
}

// Button is an inline button carrying a token
type Button struct {
	Text  string
	Token Token
}

// Prompt is a message with an optional inline keyboard
type Prompt struct {
	Text    string
	Buttons [][]Button
}

// Reply is what the admin panel wants sent back after an event
type Reply struct {
	Prompts []Prompt
	// Closed is set when the session was destroyed
	Closed bool
}

func reply(prompts ...Prompt) Reply {
	return Reply{Prompts: prompts}
}

const (
	textMenu           = "Админ-панель. Выберите действие:"
	textClosed         = "Админ-панель закрыта."
	textCancelled      = "Действие отменено."
	textNoBanks        = "Список банков пуст."
	textChooseBank     = "Выберите банк кнопкой ниже."
	textFinishOrCancel = "Завершите текущее действие или нажмите «Отмена»."
)

var (
	cancelRow     = []Button{{Text: "❌ Отмена", Token: Cancel()}}
	backCancelRow = []Button{{Text: "⬅️ Назад", Token: Back()}, {Text: "❌ Отмена", Token: Cancel()}}
)

// AdminPanel drives the multi-step editing of the welcome text and the bank directory.
// It holds no per-admin state: everything lives in the Session passed to each call.
type AdminPanel struct {
	banks          BankDirectory
	welcome        WelcomeStore
	recorder       Recorder
	defaultWelcome string
}

// NewAdminPanel creates an AdminPanel. recorder may be nil.
func NewAdminPanel(banks BankDirectory, welcome WelcomeStore, recorder Recorder, defaultWelcome string) *AdminPanel {
	return &AdminPanel{
		banks:          banks,
		welcome:        welcome,
		recorder:       recorder,
		defaultWelcome: defaultWelcome,
	}
}

// Menu returns the root menu prompt
func (p *AdminPanel) Menu() Prompt {
	return Prompt{
		Text: textMenu,
		Buttons: [][]Button{
			{{Text: "✏️ Изменить приветствие", Token: MenuItem(MenuEditWelcome)}},
			{{Text: "🔗 Изменить ссылку банка", Token: MenuItem(MenuEditBank)}},
			{{Text: "➕ Добавить банк", Token: MenuItem(MenuAddBank)}},
			{{Text: "🗑 Удалить банк", Token: MenuItem(MenuRemoveBank)}},
			{{Text: "Закрыть", Token: Cancel()}},
		},
	}
}

// HandleText processes free text sent by the admin. The welcome text is stored as sent,
// keys and URLs are trimmed.
func (p *AdminPanel) HandleText(ctx context.Context, s *Session, text string) (Reply, error) {
	if s.State == StateMenu {
		return Reply{}, nil
	}

	switch s.State {
	case StateEditWelcome:
		return p.commitWelcome(ctx, s, text)
	case StateEditBankURL:
		return p.commitBankURL(ctx, s, text)
	case StateAddBankKey:
		return p.stageNewBankKey(ctx, s, text)
	case StateAddBankURL:
		return p.commitNewBank(ctx, s, text)
	}
	// selection states only accept buttons
	return p.reprompt(ctx, s, textChooseBank)
}

// HandleCommand answers a bot command typed in the middle of a step. The step stays open.
func (p *AdminPanel) HandleCommand(ctx context.Context, s *Session) (Reply, error) {
	if s.State == StateMenu {
		return Reply{}, nil
	}
	return p.reprompt(ctx, s, textFinishOrCancel)
}

// HandleToken processes an admin panel button press
func (p *AdminPanel) HandleToken(ctx context.Context, s *Session, tok Token) (Reply, error) {
	switch tok.Kind {
	case TokenCancel:
		if s.State == StateMenu {
			return Reply{Prompts: []Prompt{{Text: textClosed}}, Closed: true}, nil
		}
		s.reset()
		return reply(Prompt{Text: textCancelled}, p.Menu()), nil
	case TokenBack:
		return p.back(ctx, s)
	}

	switch s.State {
	case StateMenu:
		if tok.Kind == TokenMenuItem {
			return p.openMenuItem(ctx, s, tok.Arg)
		}
		// stale button from an earlier screen
		return reply(p.Menu()), nil
	case StateEditBankSelect:
		if tok.Kind == TokenSelectBank {
			return p.selectBankToEdit(ctx, s, tok.Arg)
		}
	case StateRemoveBankSelect:
		switch tok.Kind {
		case TokenSelectBank:
			return p.selectBankToRemove(ctx, s, tok.Arg)
		case TokenConfirmDelete:
			if s.BankKey != "" && tok.Arg == s.BankKey {
				return p.commitRemove(ctx, s)
			}
		}
	}
	return p.reprompt(ctx, s, "")
}

func (p *AdminPanel) back(ctx context.Context, s *Session) (Reply, error) {
	switch s.State {
	case StateMenu:
		return reply(p.Menu()), nil
	case StateAddBankURL:
		s.State = StateAddBankKey
		s.Pending = ""
		return p.reprompt(ctx, s, "")
	case StateEditBankURL:
		s.State = StateEditBankSelect
		s.BankKey = ""
		return p.reprompt(ctx, s, "")
	case StateRemoveBankSelect:
		if s.BankKey != "" {
			s.BankKey = ""
			return p.reprompt(ctx, s, "")
		}
	}
	s.reset()
	return reply(p.Menu()), nil
}

func (p *AdminPanel) openMenuItem(ctx context.Context, s *Session, item string) (Reply, error) {
	switch item {
	case MenuEditWelcome:
		s.State = StateEditWelcome
	case MenuAddBank:
		s.State = StateAddBankKey
	case MenuEditBank, MenuRemoveBank:
		banks, err := p.banks.ListBanks(ctx)
		if err != nil {
			return Reply{}, err
		}
		if len(banks) == 0 {
			return reply(Prompt{Text: textNoBanks}, p.Menu()), nil
		}
		s.State = StateEditBankSelect
		if item == MenuRemoveBank {
			s.State = StateRemoveBankSelect
		}
	default:
		return reply(p.Menu()), nil
	}
	return p.reprompt(ctx, s, "")
}

func (p *AdminPanel) commitWelcome(ctx context.Context, s *Session, text string) (Reply, error) {
	err := p.welcome.SetWelcomeText(ctx, text)
	var verr *models.ValidationError
	if errors.As(err, &verr) {
		return p.reprompt(ctx, s, "Текст не может быть пустым.")
	}
	if err != nil {
		return Reply{}, err
	}

	p.record(ctx, s, models.EventWelcomeUpdated, map[string]string{"text": text})
	s.reset()
	return reply(Prompt{Text: "✅ Приветствие обновлено."}, p.Menu()), nil
}

func (p *AdminPanel) selectBankToEdit(ctx context.Context, s *Session, key string) (Reply, error) {
	bank, err := p.banks.GetBank(ctx, key)
	if err != nil {
		return Reply{}, err
	}
	if bank == nil {
		return p.reprompt(ctx, s, fmt.Sprintf("Банк %s не найден.", key))
	}
	s.State = StateEditBankURL
	s.BankKey = key
	return p.reprompt(ctx, s, "")
}

func (p *AdminPanel) commitBankURL(ctx context.Context, s *Session, rawURL string) (Reply, error) {
	rawURL = strings.TrimSpace(rawURL)
	err := p.banks.UpdateBankURL(ctx, s.BankKey, rawURL)
	var verr *models.ValidationError
	switch {
	case errors.As(err, &verr):
		return p.reprompt(ctx, s, "Некорректная ссылка: "+verr.Message+".")
	case errors.Is(err, db.ErrBankNotFound):
		// removed by another admin after it was selected
		gone := Prompt{Text: fmt.Sprintf("Банк %s не найден, изменения не сохранены.", s.BankKey)}
		s.reset()
		return reply(gone, p.Menu()), nil
	case err != nil:
		return Reply{}, err
	}

	p.record(ctx, s, models.EventBankUpserted, map[string]string{"key": s.BankKey, "base_url": rawURL})
	done := Prompt{Text: fmt.Sprintf("✅ Ссылка банка %s обновлена.", s.BankKey)}
	s.reset()
	return reply(done, p.Menu()), nil
}

func (p *AdminPanel) stageNewBankKey(ctx context.Context, s *Session, key string) (Reply, error) {
	key = strings.TrimSpace(key)
	var verr *models.ValidationError
	if err := models.ValidateBankKey(key); errors.As(err, &verr) {
		return p.reprompt(ctx, s, "Некорректный ключ: "+verr.Message+".")
	}
	bank, err := p.banks.GetBank(ctx, key)
	if err != nil {
		return Reply{}, err
	}
	if bank != nil {
		return p.reprompt(ctx, s, fmt.Sprintf("Банк с ключом %s уже существует.", key))
	}
	s.State = StateAddBankURL
	s.Pending = key
	return p.reprompt(ctx, s, "")
}

func (p *AdminPanel) commitNewBank(ctx context.Context, s *Session, rawURL string) (Reply, error) {
	rawURL = strings.TrimSpace(rawURL)
	err := p.banks.AddBank(ctx, s.Pending, rawURL)
	var verr *models.ValidationError
	switch {
	case errors.As(err, &verr):
		return p.reprompt(ctx, s, "Некорректная ссылка: "+verr.Message+".")
	case errors.Is(err, db.ErrBankExists):
		// another admin took the key meanwhile
		key := s.Pending
		s.State = StateAddBankKey
		s.Pending = ""
		return p.reprompt(ctx, s, fmt.Sprintf("Банк с ключом %s уже существует.", key))
	case err != nil:
		return Reply{}, err
	}

	p.record(ctx, s, models.EventBankUpserted, map[string]string{"key": s.Pending, "base_url": rawURL})
	done := Prompt{Text: fmt.Sprintf("✅ Банк %s добавлен.", s.Pending)}
	s.reset()
	return reply(done, p.Menu()), nil
}

func (p *AdminPanel) selectBankToRemove(ctx context.Context, s *Session, key string) (Reply, error) {
	bank, err := p.banks.GetBank(ctx, key)
	if err != nil {
		return Reply{}, err
	}
	if bank == nil {
		s.BankKey = ""
		return p.reprompt(ctx, s, fmt.Sprintf("Банк %s не найден.", key))
	}
	s.BankKey = key
	return p.reprompt(ctx, s, "")
}

func (p *AdminPanel) commitRemove(ctx context.Context, s *Session) (Reply, error) {
	if err := p.banks.RemoveBank(ctx, s.BankKey); err != nil {
		return Reply{}, err
	}

	p.record(ctx, s, models.EventBankRemoved, map[string]string{"key": s.BankKey})
	done := Prompt{Text: fmt.Sprintf("✅ Банк %s удалён. Рефералы по нему сохранены.", s.BankKey)}
	s.reset()
	return reply(done, p.Menu()), nil
}

// reprompt renders the prompt of the current state, prefixed with notice
func (p *AdminPanel) reprompt(ctx context.Context, s *Session, notice string) (Reply, error) {
	prompt, err := p.statePrompt(ctx, s)
	if err != nil {
		return Reply{}, err
	}
	if notice != "" {
		prompt.Text = notice + "\n\n" + prompt.Text
	}
	return reply(prompt), nil
}

func (p *AdminPanel) statePrompt(ctx context.Context, s *Session) (Prompt, error) {
	switch s.State {
	case StateEditWelcome:
		current, err := p.welcome.WelcomeText(ctx, p.defaultWelcome)
		if err != nil {
			return Prompt{}, err
		}
		return Prompt{
			Text:    "Текущее приветствие:\n\n" + current + "\n\nОтправьте новый текст.",
			Buttons: [][]Button{cancelRow},
		}, nil

	case StateEditBankSelect, StateRemoveBankSelect:
		if s.State == StateRemoveBankSelect && s.BankKey != "" {
			return Prompt{
				Text: fmt.Sprintf("Удалить банк %s? Рефералы по нему сохранятся.", s.BankKey),
				Buttons: [][]Button{
					{{Text: "🗑 Удалить", Token: ConfirmDelete(s.BankKey)}},
					backCancelRow,
				},
			}, nil
		}
		banks, err := p.banks.ListBanks(ctx)
		if err != nil {
			return Prompt{}, err
		}
		rows := make([][]Button, 0, len(banks)+1)
		for _, bank := range banks {
			rows = append(rows, []Button{{Text: bank.Key, Token: SelectBank(bank.Key)}})
		}
		rows = append(rows, cancelRow)
		text := "Выберите банк для изменения ссылки:"
		if s.State == StateRemoveBankSelect {
			text = "Выберите банк для удаления:"
		}
		if len(banks) == 0 {
			text = textNoBanks
		}
		return Prompt{Text: text, Buttons: rows}, nil

	case StateEditBankURL:
		current := "(банк удалён)"
		bank, err := p.banks.GetBank(ctx, s.BankKey)
		if err != nil {
			return Prompt{}, err
		}
		if bank != nil {
			current = bank.BaseURL
		}
		return Prompt{
			Text:    fmt.Sprintf("Банк %s, текущая ссылка:\n%s\n\nОтправьте новую ссылку (http или https).", s.BankKey, current),
			Buttons: [][]Button{backCancelRow},
		}, nil

	case StateAddBankKey:
		return Prompt{
			Text:    fmt.Sprintf("Отправьте ключ нового банка: латинские буквы, цифры, _ и -, не длиннее %d символов.", models.MaxBankKeyLen),
			Buttons: [][]Button{cancelRow},
		}, nil

	case StateAddBankURL:
		return Prompt{
			Text:    fmt.Sprintf("Отправьте ссылку для банка %s (http или https).", s.Pending),
			Buttons: [][]Button{backCancelRow},
		}, nil
	}
	return p.Menu(), nil
}

func (p *AdminPanel) record(ctx context.Context, s *Session, eventType string, data map[string]string) {
	if p.recorder == nil {
		return
	}
	// the recorder is fire-and-forget, failures are its own concern
	_ = p.recorder.Record(ctx, models.Event{Type: eventType, ActorID: s.AdminID, Data: data})
}
