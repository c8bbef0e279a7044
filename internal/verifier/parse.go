package verifier

import "strings"

// Entry is one normalized batch line: a phone in international format plus
// the display name the operator attached to it.
type Entry struct {
	Phone string
	Name  string
}

// ParseBatch splits raw operator input into probe entries. Each line is
// "<phone> [display name]". A phone without a leading + gets one prepended
// when it starts with a recognized country prefix; anything else is dropped
// silently, preserving input order for the rest.
func ParseBatch(text string, prefixes []string) []Entry {
	var entries []Entry
	for _, line := range strings.Split(text, "\n") {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		phone, name, found := strings.Cut(line, " ")
		if !found || strings.TrimSpace(name) == "" {
			name = "Unknown"
		}
		phone, ok := normalizePhone(phone, prefixes)
		if !ok {
			continue
		}
		entries = append(entries, Entry{Phone: phone, Name: strings.TrimSpace(name)})
	}
	return entries
}

func normalizePhone(phone string, prefixes []string) (string, bool) {
	if strings.HasPrefix(phone, "+") {
		return phone, true
	}
	for _, p := range prefixes {
		if strings.HasPrefix(phone, p) {
			return "+" + phone, true
		}
	}
	return "", false
}
