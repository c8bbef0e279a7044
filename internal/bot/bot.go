package bot

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	qrcode "github.com/skip2/go-qrcode"

	"github.com/tgscan-bot/tgscan/internal/service"
	"github.com/tgscan-bot/tgscan/internal/statestore"
	"github.com/tgscan-bot/tgscan/internal/transport"
	"github.com/tgscan-bot/tgscan/internal/verifier"
)

// phaseAwaitingList marks a user who pressed "check list" and owes us the
// batch text. Login phases are owned by the auth flow service.
const phaseAwaitingList = "waiting_list"

// Bot is the long-poll front-end. Every update is handled on its own
// goroutine, so a user waiting on a QR scan or a slow batch never blocks
// anyone else's conversation.
type Bot struct {
	api      *tgbotapi.BotAPI
	flows    *service.AuthFlowService
	pool     *service.SessionPoolService
	batches  *verifier.Orchestrator
	registry *service.RegistryService
	states   statestore.Store
	prefixes []string
	phaseTTL time.Duration
	logger   *slog.Logger
}

func New(
	api *tgbotapi.BotAPI,
	flows *service.AuthFlowService,
	pool *service.SessionPoolService,
	batches *verifier.Orchestrator,
	registry *service.RegistryService,
	states statestore.Store,
	prefixes []string,
	phaseTTL time.Duration,
	logger *slog.Logger,
) *Bot {
	b := &Bot{
		api:      api,
		flows:    flows,
		pool:     pool,
		batches:  batches,
		registry: registry,
		states:   states,
		prefixes: prefixes,
		phaseTTL: phaseTTL,
		logger:   logger,
	}
	flows.SetNotifier(b)
	return b
}

// Run consumes updates until ctx is canceled.
func (b *Bot) Run(ctx context.Context) error {
	cfg := tgbotapi.NewUpdate(0)
	cfg.Timeout = 30
	updates := b.api.GetUpdatesChan(cfg)
	b.logger.Info("bot update loop started", "username", b.api.Self.UserName)

	for {
		select {
		case <-ctx.Done():
			b.api.StopReceivingUpdates()
			return ctx.Err()
		case update, ok := <-updates:
			if !ok {
				return nil
			}
			go b.handleUpdate(ctx, update)
		}
	}
}

// Notify implements service.Notifier for out-of-band flow events.
func (b *Bot) Notify(userID int64, text string) {
	b.send(userID, text, nil)
}

func (b *Bot) handleUpdate(ctx context.Context, update tgbotapi.Update) {
	defer func() {
		if r := recover(); r != nil {
			b.logger.Error("update handler panicked", "panic", r)
		}
	}()
	switch {
	case update.CallbackQuery != nil:
		b.handleCallback(ctx, update.CallbackQuery)
	case update.Message != nil && update.Message.IsCommand():
		b.handleCommand(ctx, update.Message)
	case update.Message != nil && update.Message.Text != "":
		b.handleMessage(ctx, update.Message)
	}
}

func (b *Bot) handleCommand(ctx context.Context, msg *tgbotapi.Message) {
	switch msg.Command() {
	case "start":
		b.handleStart(ctx, msg)
	case "check", "add", "delete", "edit", "count", "list":
		b.handleRegistryCommand(msg)
	}
}

func (b *Bot) handleStart(ctx context.Context, msg *tgbotapi.Message) {
	userID := msg.From.ID

	phone, err := b.flows.Resume(ctx, userID)
	if err == nil {
		b.send(msg.Chat.ID, fmt.Sprintf(
			"📱 У тебе є незавершена авторизація для %s.\nКод відправлено повторно. Введи код з SMS/Telegram:", phone),
			keyboard(
				row(btn("🏠 Меню", "back")),
				row(btn("🔍 Використати QR-код", "auth_qr")),
			))
		return
	}
	if !errors.Is(err, service.ErrNoFlow) {
		b.logger.Warn("resume failed", "user_id", userID, "error", err)
	}

	b.send(msg.Chat.ID,
		"👋 Привіт! Я бот для перевірки номерів в Telegram.\n\n"+
			"📝 Надішли мені список номерів у форматі:\n"+
			"+380991234567 Іван Петров\n"+
			"+380997654321 Марія Сидоренко\n\n"+
			"⚠️ Спочатку додай свою сесію (API_ID та API_HASH з my.telegram.org)\n\n"+
			"👥 База користувачів: /check /add /delete /edit /count /list\n\n"+
			"Використовуй кнопки нижче:",
		mainMenu())
}

func (b *Bot) handleCallback(ctx context.Context, cq *tgbotapi.CallbackQuery) {
	if _, err := b.api.Request(tgbotapi.NewCallback(cq.ID, "")); err != nil {
		b.logger.Warn("callback ack failed", "error", err)
	}
	userID := cq.From.ID
	chatID := cq.Message.Chat.ID
	msgID := cq.Message.MessageID

	switch {
	case cq.Data == "check_list":
		sessions, err := b.pool.ListAllActive()
		if err != nil {
			b.logger.Error("list sessions failed", "error", err)
			return
		}
		if len(sessions) == 0 {
			b.edit(chatID, msgID,
				"❌ Немає жодної активної сесії в системі!\nДодай сесію, щоб почати перевірку.",
				keyboard(row(btn("➕ Додати сесію", "add_session"))))
			return
		}
		if err := b.states.Set(ctx, userID, phaseAwaitingList, b.phaseTTL); err != nil {
			b.logger.Error("set phase failed", "user_id", userID, "error", err)
			return
		}
		b.edit(chatID, msgID,
			"📋 Надішли список номерів для перевірки.\n"+
				"Формат: номер ім'я прізвище (кожен на новому рядку)\n\n"+
				"Приклад:\n"+
				"+380991234567 Іван Петров\n"+
				"+380997654321 Марія Сидоренко", nil)

	case cq.Data == "add_session":
		if err := b.flows.Begin(ctx, userID); err != nil {
			b.logger.Error("begin auth flow failed", "user_id", userID, "error", err)
			b.edit(chatID, msgID, fmt.Sprintf("❌ Помилка: %v", err), nil)
			return
		}
		b.edit(chatID, msgID,
			"📱 Надішли номер телефону для авторизації (формат: +380...)\n\n"+
				"⚠️ Це твій особистий номер для перевірки інших номерів.", nil)

	case cq.Data == "session_count":
		sessions, err := b.pool.List(userID)
		if err != nil {
			b.logger.Error("list sessions failed", "user_id", userID, "error", err)
			return
		}
		text := "📊 У тебе немає активних сесій."
		if len(sessions) > 0 {
			var lines []string
			for _, s := range sessions {
				lines = append(lines, "• "+s.Phone)
			}
			text = fmt.Sprintf("📊 Твої активні сесії (%d):\n\n%s", len(sessions), strings.Join(lines, "\n"))
		}
		b.edit(chatID, msgID, text, keyboard(row(btn("↩️ Назад", "back"))))

	case cq.Data == "delete_session":
		sessions, err := b.pool.List(userID)
		if err != nil {
			b.logger.Error("list sessions failed", "user_id", userID, "error", err)
			return
		}
		if len(sessions) == 0 {
			b.edit(chatID, msgID, "❌ У тебе немає сесій для видалення.",
				keyboard(row(btn("↩️ Назад", "back"))))
			return
		}
		var rows [][]tgbotapi.InlineKeyboardButton
		for _, s := range sessions {
			rows = append(rows, row(btn("🗑️ "+s.Phone, fmt.Sprintf("del_%d", s.ID))))
		}
		rows = append(rows, row(btn("↩️ Назад", "back")))
		b.edit(chatID, msgID, "Виберіть сесію для видалення:", keyboard(rows...))

	case cq.Data == "auth_qr":
		b.handleQR(ctx, userID, chatID, msgID)

	case cq.Data == "back":
		b.edit(chatID, msgID, "👋 Головне меню:", mainMenu())

	case strings.HasPrefix(cq.Data, "del_"):
		id, err := strconv.ParseUint(strings.TrimPrefix(cq.Data, "del_"), 10, 64)
		if err != nil {
			return
		}
		text := "✅ Сесію видалено!"
		if err := b.pool.Remove(userID, uint(id)); err != nil {
			text = "❌ Сесію не знайдено."
		}
		b.edit(chatID, msgID, text, keyboard(row(btn("↩️ Назад", "back"))))
	}
}

func (b *Bot) handleQR(ctx context.Context, userID, chatID int64, msgID int) {
	url, err := b.flows.BeginQR(ctx, userID)
	if err != nil {
		if errors.Is(err, service.ErrNoFlow) {
			b.edit(chatID, msgID, "❌ Спочатку введи номер та API дані.", nil)
			return
		}
		b.edit(chatID, msgID, fmt.Sprintf("❌ Помилка створення QR: %v", err), nil)
		return
	}

	png, err := qrcode.Encode(url, qrcode.Medium, 512)
	if err != nil {
		b.edit(chatID, msgID, fmt.Sprintf("❌ Помилка створення QR: %v", err), nil)
		return
	}
	photo := tgbotapi.NewPhoto(chatID, tgbotapi.FileBytes{Name: "qr.png", Bytes: png})
	photo.Caption = "🔍 Відскануй цей QR-код у налаштуваннях Telegram (Пристрої -> Підключити пристрій).\n\n" +
		"⚠️ Код дійсний 30 секунд. Після сканування бот автоматично додасть сесію."
	if _, err := b.api.Send(photo); err != nil {
		b.logger.Error("send qr photo failed", "user_id", userID, "error", err)
	}
}

func (b *Bot) handleMessage(ctx context.Context, msg *tgbotapi.Message) {
	userID := msg.From.ID
	chatID := msg.Chat.ID
	text := strings.TrimSpace(msg.Text)

	phase, err := b.flows.Phase(ctx, userID)
	if err != nil {
		b.logger.Error("read phase failed", "user_id", userID, "error", err)
	}

	switch phase {
	case service.PhaseAwaitingPhone:
		if err := b.flows.SubmitPhone(ctx, userID, text); err != nil {
			b.send(chatID, "❌ Номер має починатися з +", nil)
			return
		}
		b.send(chatID, "📝 Тепер надішли API ID (отримай на my.telegram.org)", nil)

	case service.PhaseAwaitingAPIID:
		if err := b.flows.SubmitAPIID(ctx, userID, text); err != nil {
			b.send(chatID, "❌ API ID має бути числом", nil)
			return
		}
		b.send(chatID, "📝 Тепер надішли API HASH", nil)

	case service.PhaseAwaitingAPIHash:
		if err := b.flows.SubmitAPIHash(ctx, userID, text); err != nil {
			b.send(chatID, fmt.Sprintf("❌ Помилка: %v", err), nil)
			return
		}
		b.send(chatID,
			"📱 Код надіслано! Введи код з SMS/Telegram (5 цифр).\n\n"+
				"💡 Якщо код не приходить, спробуй авторизацію через QR-код:",
			keyboard(
				row(btn("🔍 Використати QR-код", "auth_qr")),
				row(btn("🏠 Меню", "back")),
			))

	case service.PhaseAwaitingCode:
		profile, err := b.flows.SubmitCode(ctx, userID, text)
		switch {
		case err == nil:
			b.sendSessionAdded(chatID, profile)
		case errors.Is(err, transport.ErrPasswordRequired):
			b.send(chatID, "🔐 Введи пароль двофакторної автентифікації:", nil)
		case errors.Is(err, service.ErrNoFlow):
			b.send(chatID, "❌ Сесія втрачена. Почни заново через /start", nil)
		default:
			b.send(chatID, fmt.Sprintf("❌ Помилка авторизації: %v", err), nil)
		}

	case service.PhaseAwaitingTwoFactor:
		profile, err := b.flows.SubmitPassword(ctx, userID, text)
		switch {
		case err == nil:
			b.sendSessionAdded(chatID, profile)
		case errors.Is(err, service.ErrNoFlow):
			b.send(chatID, "❌ Сесія втрачена. Почни заново через /start", nil)
		default:
			b.send(chatID, fmt.Sprintf("❌ Помилка: %v", err), nil)
		}

	default:
		// A pasted list works without pressing the button first.
		if phase == phaseAwaitingList || strings.Contains(text, "\n") || strings.HasPrefix(text, "+") {
			b.runBatch(ctx, userID, chatID, text)
		}
	}
}

func (b *Bot) runBatch(ctx context.Context, userID, chatID int64, text string) {
	if err := b.states.Delete(ctx, userID); err != nil {
		b.logger.Warn("clear phase failed", "user_id", userID, "error", err)
	}

	sessions, err := b.pool.ListAllActive()
	if err != nil {
		b.logger.Error("list sessions failed", "error", err)
		return
	}
	if len(sessions) == 0 {
		b.send(chatID, "❌ Немає жодної активної сесії в системі! Додайте хоча б одну.",
			keyboard(row(btn("➕ Додати сесію", "add_session"))))
		return
	}

	entries := verifier.ParseBatch(text, b.prefixes)
	if len(entries) == 0 {
		b.send(chatID, "❌ Не знайдено жодного номера у повідомленні.", nil)
		return
	}

	b.send(chatID, fmt.Sprintf("⏳ Перевіряю номери... (використовую всі доступні сесії: %d)", len(sessions)), nil)

	report, err := b.batches.Run(ctx, entries)
	if err != nil {
		if errors.Is(err, verifier.ErrNoSessionsAvailable) {
			b.send(chatID, "❌ Немає жодної активної сесії в системі! Додайте хоча б одну.", nil)
			return
		}
		b.logger.Error("batch run failed", "user_id", userID, "error", err)
		if report == nil {
			b.send(chatID, fmt.Sprintf("❌ Помилка перевірки: %v", err), nil)
			return
		}
	}

	chunks := Chunk(FormatReport(*report), MessageLimit)
	for i, chunk := range chunks {
		var markup *tgbotapi.InlineKeyboardMarkup
		if i == len(chunks)-1 {
			markup = keyboard(row(btn("↩️ Назад", "back")))
		}
		b.send(chatID, chunk, markup)
	}
}

func (b *Bot) sendSessionAdded(chatID int64, profile *transport.Profile) {
	name := profile.FirstName
	if name == "" {
		name = "Невідомо"
	}
	b.send(chatID, fmt.Sprintf("✅ Сесію додано!\n📱 Номер: %s\n👤 Ім'я: %s", profile.Phone, name),
		keyboard(row(btn("↩️ Назад", "back"))))
}

func (b *Bot) send(chatID int64, text string, markup *tgbotapi.InlineKeyboardMarkup) {
	msg := tgbotapi.NewMessage(chatID, text)
	if markup != nil {
		msg.ReplyMarkup = markup
	}
	if _, err := b.api.Send(msg); err != nil {
		b.logger.Error("send message failed", "chat_id", chatID, "error", err)
	}
}

func (b *Bot) edit(chatID int64, msgID int, text string, markup *tgbotapi.InlineKeyboardMarkup) {
	var c tgbotapi.Chattable
	if markup != nil {
		m := tgbotapi.NewEditMessageTextAndMarkup(chatID, msgID, text, *markup)
		c = m
	} else {
		c = tgbotapi.NewEditMessageText(chatID, msgID, text)
	}
	if _, err := b.api.Send(c); err != nil {
		b.logger.Error("edit message failed", "chat_id", chatID, "error", err)
	}
}

func mainMenu() *tgbotapi.InlineKeyboardMarkup {
	return keyboard(
		row(btn("📋 Перевірити список", "check_list")),
		row(btn("➕ Додати сесію", "add_session")),
		row(btn("📊 Мої сесії", "session_count")),
		row(btn("🗑️ Видалити сесію", "delete_session")),
	)
}

func keyboard(rows ...[]tgbotapi.InlineKeyboardButton) *tgbotapi.InlineKeyboardMarkup {
	m := tgbotapi.NewInlineKeyboardMarkup(rows...)
	return &m
}

func row(buttons ...tgbotapi.InlineKeyboardButton) []tgbotapi.InlineKeyboardButton {
	return tgbotapi.NewInlineKeyboardRow(buttons...)
}
