package bot

import (
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/tgscan-bot/tgscan/internal/verifier"
)

// MessageLimit is the largest text the platform accepts in one message.
const MessageLimit = 4000

// FormatReport renders a batch report as one line per probed number, in input
// order. Registered entries carry the resolved account name and username.
func FormatReport(report verifier.Report) string {
	var b strings.Builder
	b.WriteString("📊 Результати перевірки:\n\n")
	for _, res := range report.Results {
		b.WriteString(formatLine(res))
		b.WriteByte('\n')
	}
	if report.Exhausted {
		wait := int(report.MaxWait.Seconds())
		b.WriteString(fmt.Sprintf(
			"\n⚠️ ВСІ СЕСІЇ ЗАБЛОКОВАНІ!\n🕐 Потрібно зачекати ~%d секунд (%d хв)\n💡 Додайте більше сесій для обходу лімітів.",
			wait, wait/60))
	}
	return b.String()
}

func formatLine(res verifier.Result) string {
	switch res.Probe.Kind {
	case verifier.ProbeRegistered:
		profile := res.Probe.Profile
		tgName := strings.TrimSpace(profile.FirstName + " " + profile.LastName)
		username := ""
		if profile.Username != "" {
			username = " @" + profile.Username
		}
		return fmt.Sprintf("✅ %s %s - ЗАРЕЄСТРОВАНИЙ (%s%s)", res.Entry.Phone, res.Entry.Name, tgName, username)
	case verifier.ProbeNotRegistered:
		return fmt.Sprintf("➖ %s %s - не знайдено", res.Entry.Phone, res.Entry.Name)
	default:
		return fmt.Sprintf("⚠️ %s %s - помилка перевірки", res.Entry.Phone, res.Entry.Name)
	}
}

// Chunk splits text into pieces the platform will accept. The split is by
// size only, line breaks are not respected, but a multibyte character is
// never cut in half.
func Chunk(text string, limit int) []string {
	if text == "" {
		return nil
	}
	var chunks []string
	for len(text) > limit {
		cut := limit
		for cut > 0 && !utf8.RuneStart(text[cut]) {
			cut--
		}
		chunks = append(chunks, text[:cut])
		text = text[cut:]
	}
	return append(chunks, text)
}
