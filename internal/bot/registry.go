package bot

import (
	"errors"
	"fmt"
	"strconv"
	"strings"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"github.com/tgscan-bot/tgscan/internal/repository"
	"github.com/tgscan-bot/tgscan/internal/service"
)

const registryHelp = "📖 Команди бази користувачів:\n" +
	"/check <номер> - перевірити номер (або список, кожен з нового рядка)\n" +
	"/add <номер> <ім'я> <прізвище> - додати користувача (можна списком)\n" +
	"/delete <номер> - видалити користувача\n" +
	"/edit <номер> <ім'я> [прізвище] [новий номер] - змінити дані (- щоб лишити як є)\n" +
	"/count - кількість користувачів у базі\n" +
	"/list [N] - останні N користувачів (типово 50)"

// handleRegistryCommand serves the known-user database commands. Everything
// here is synchronous DB work, no Telegram round-trips besides the reply.
func (b *Bot) handleRegistryCommand(msg *tgbotapi.Message) {
	args := strings.TrimSpace(msg.CommandArguments())
	chatID := msg.Chat.ID

	switch msg.Command() {
	case "check":
		if args == "" {
			b.send(chatID, registryHelp, nil)
			return
		}
		report, err := b.registry.CheckList(args)
		if err != nil {
			b.logger.Error("registry check failed", "user_id", msg.From.ID, "error", err)
			b.send(chatID, fmt.Sprintf("❌ Помилка: %v", err), nil)
			return
		}
		b.send(chatID, formatRegistryCheck(report), nil)

	case "add":
		if args == "" {
			b.send(chatID, registryHelp, nil)
			return
		}
		b.send(chatID, b.addToRegistry(msg.From.ID, args), nil)

	case "delete":
		if args == "" {
			b.send(chatID, registryHelp, nil)
			return
		}
		err := b.registry.Remove(args)
		switch {
		case err == nil:
			b.send(chatID, "✅ Користувача успішно видалено", nil)
		case errors.Is(err, repository.ErrKnownUserNotFound):
			b.send(chatID, "❌ Користувача з таким номером не знайдено", nil)
		case errors.Is(err, service.ErrRegistryPhoneFormat):
			b.send(chatID, "❌ Номер має містити цифри", nil)
		default:
			b.logger.Error("registry delete failed", "user_id", msg.From.ID, "error", err)
			b.send(chatID, fmt.Sprintf("❌ Помилка: %v", err), nil)
		}

	case "edit":
		fields := strings.Fields(args)
		if len(fields) < 2 {
			b.send(chatID, registryHelp, nil)
			return
		}
		newFirst, newLast, newPhone := fields[1], "", ""
		if len(fields) > 2 {
			newLast = fields[2]
		}
		if len(fields) > 3 {
			newPhone = fields[3]
		}
		// "-" keeps the stored value.
		if newFirst == "-" {
			newFirst = ""
		}
		if newLast == "-" {
			newLast = ""
		}
		err := b.registry.Edit(fields[0], newFirst, newLast, newPhone)
		switch {
		case err == nil:
			b.send(chatID, "✅ Дані користувача успішно оновлено", nil)
		case errors.Is(err, repository.ErrKnownUserNotFound):
			b.send(chatID, "❌ Користувача з таким номером не знайдено", nil)
		case errors.Is(err, service.ErrRegistryPhoneFormat):
			b.send(chatID, "❌ Номер має містити цифри", nil)
		default:
			b.logger.Error("registry edit failed", "user_id", msg.From.ID, "error", err)
			b.send(chatID, fmt.Sprintf("❌ Помилка: %v", err), nil)
		}

	case "count":
		n, err := b.registry.Count()
		if err != nil {
			b.logger.Error("registry count failed", "error", err)
			b.send(chatID, fmt.Sprintf("❌ Помилка: %v", err), nil)
			return
		}
		b.send(chatID, fmt.Sprintf("👥 Користувачів у базі: %d", n), nil)

	case "list":
		limit := 0
		if args != "" {
			n, err := strconv.Atoi(args)
			if err != nil || n <= 0 {
				b.send(chatID, "❌ Вкажи кількість числом, наприклад /list 20", nil)
				return
			}
			limit = n
		}
		users, total, err := b.registry.List(limit)
		if err != nil {
			b.logger.Error("registry list failed", "error", err)
			b.send(chatID, fmt.Sprintf("❌ Помилка: %v", err), nil)
			return
		}
		if len(users) == 0 {
			b.send(chatID, "📋 База користувачів порожня.", nil)
			return
		}
		var sb strings.Builder
		fmt.Fprintf(&sb, "📋 Останні користувачі (%d з %d):\n\n", len(users), total)
		for _, u := range users {
			fmt.Fprintf(&sb, "• %s %s %s\n", u.Phone, u.FirstName, u.LastName)
		}
		for _, chunk := range Chunk(sb.String(), MessageLimit) {
			b.send(chatID, chunk, nil)
		}
	}
}

// addToRegistry handles both a single "phone first last" line and a pasted
// multi-line import, returning the reply text.
func (b *Bot) addToRegistry(userID int64, args string) string {
	if !strings.Contains(args, "\n") {
		fields := strings.Fields(args)
		if len(fields) < 3 {
			return "❌ Невірний формат: " + args + "\nПотрібно: номер ім'я прізвище"
		}
		err := b.registry.Add(fields[0], fields[1], strings.Join(fields[2:], " "))
		switch {
		case err == nil:
			return "✅ Користувача успішно додано"
		case errors.Is(err, repository.ErrKnownUserExists):
			return "⚠️ Користувач з таким номером вже існує"
		case errors.Is(err, service.ErrRegistryPhoneFormat):
			return "❌ Номер має містити цифри"
		default:
			b.logger.Error("registry add failed", "user_id", userID, "error", err)
			return fmt.Sprintf("❌ Помилка: %v", err)
		}
	}

	report, err := b.registry.AddList(args)
	if err != nil {
		b.logger.Error("registry bulk add failed", "user_id", userID, "error", err)
		return fmt.Sprintf("❌ Помилка: %v", err)
	}
	return formatRegistryBulkAdd(report)
}

func formatRegistryCheck(report service.RegistryCheckReport) string {
	var sb strings.Builder
	sb.WriteString("📋 Результати перевірки бази:\n\n")
	for _, m := range report.Matches {
		if m.Known {
			fmt.Fprintf(&sb, "✅ %s - %s\n", m.Phone, m.Name)
		} else {
			fmt.Fprintf(&sb, "➖ %s - Невідомо\n", m.Phone)
		}
	}
	fmt.Fprintf(&sb, "\nВсього: %d | Знайдено: %d | Не знайдено: %d",
		report.Total, report.Found, report.NotFound)
	return sb.String()
}

func formatRegistryBulkAdd(report service.RegistryBulkAddReport) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "✅ Додано: %d\n⚠️ Пропущено (вже існують): %d", report.Added, report.Skipped)
	if len(report.BadLines) > 0 {
		sb.WriteString("\n\n❌ Невірний формат:")
		for _, line := range report.BadLines {
			sb.WriteString("\n• " + line)
		}
	}
	return sb.String()
}
