package service

import (
	"errors"
	"log/slog"
	"strings"

	"github.com/tgscan-bot/tgscan/internal/domain"
	"github.com/tgscan-bot/tgscan/internal/repository"
)

// ErrRegistryPhoneFormat reports a phone with no digits at all.
var ErrRegistryPhoneFormat = errors.New("phone must contain digits")

// RegistryService maintains the known-user registry: a phone-keyed directory
// of people the operator already recognizes, matched on digits only so
// formatting never hides a hit.
type RegistryService struct {
	repo   repository.KnownUserRepository
	logger *slog.Logger
}

func NewRegistryService(repo repository.KnownUserRepository, logger *slog.Logger) *RegistryService {
	return &RegistryService{repo: repo, logger: logger}
}

// NormalizeDigits strips everything but digits from a phone.
func NormalizeDigits(phone string) string {
	var b strings.Builder
	for _, r := range phone {
		if r >= '0' && r <= '9' {
			b.WriteRune(r)
		}
	}
	return b.String()
}

// RegistryMatch is one phone looked up against the registry.
type RegistryMatch struct {
	Phone string
	Name  string
	Known bool
}

// RegistryCheckReport is the outcome of a bulk registry lookup.
type RegistryCheckReport struct {
	Matches  []RegistryMatch
	Total    int
	Found    int
	NotFound int
}

// RegistryBulkAddReport counts the outcome of a bulk import.
type RegistryBulkAddReport struct {
	Added    int
	Skipped  int
	BadLines []string
}

func (s *RegistryService) Check(phone string) (RegistryMatch, error) {
	digits := NormalizeDigits(phone)
	if digits == "" {
		return RegistryMatch{}, ErrRegistryPhoneFormat
	}
	u, err := s.repo.FindByDigits(digits)
	if errors.Is(err, repository.ErrKnownUserNotFound) {
		return RegistryMatch{Phone: phone}, nil
	}
	if err != nil {
		return RegistryMatch{}, err
	}
	return RegistryMatch{
		Phone: u.Phone,
		Name:  strings.TrimSpace(u.FirstName + " " + u.LastName),
		Known: true,
	}, nil
}

// CheckList looks up every non-empty line of text. Each line is a phone
// optionally followed by a display name; lines without digits are counted as
// not found rather than aborting the batch.
func (s *RegistryService) CheckList(text string) (RegistryCheckReport, error) {
	var report RegistryCheckReport
	for _, line := range strings.Split(text, "\n") {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		phone := line
		if i := strings.IndexAny(line, " \t"); i > 0 {
			phone = line[:i]
		}
		report.Total++
		match, err := s.Check(phone)
		if errors.Is(err, ErrRegistryPhoneFormat) {
			report.Matches = append(report.Matches, RegistryMatch{Phone: line})
			report.NotFound++
			continue
		}
		if err != nil {
			return report, err
		}
		if match.Known {
			report.Found++
		} else {
			report.NotFound++
		}
		report.Matches = append(report.Matches, match)
	}
	return report, nil
}

func (s *RegistryService) Add(phone, firstName, lastName string) error {
	digits := NormalizeDigits(phone)
	if digits == "" {
		return ErrRegistryPhoneFormat
	}
	u := &domain.KnownUser{
		Phone:       strings.TrimSpace(phone),
		PhoneDigits: digits,
		FirstName:   strings.TrimSpace(firstName),
		LastName:    strings.TrimSpace(lastName),
	}
	if err := s.repo.Create(u); err != nil {
		return err
	}
	s.logger.Info("known user added", "digits", digits)
	return nil
}

// AddList imports one user per line, "phone first_name last_name". Lines
// with fewer than three fields are reported back verbatim; duplicates are
// skipped without stopping the import.
func (s *RegistryService) AddList(text string) (RegistryBulkAddReport, error) {
	var report RegistryBulkAddReport
	for _, line := range strings.Split(text, "\n") {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		fields := strings.Fields(line)
		if len(fields) < 3 {
			report.BadLines = append(report.BadLines, line)
			continue
		}
		err := s.Add(fields[0], fields[1], strings.Join(fields[2:], " "))
		switch {
		case errors.Is(err, repository.ErrKnownUserExists):
			report.Skipped++
		case errors.Is(err, ErrRegistryPhoneFormat):
			report.BadLines = append(report.BadLines, line)
		case err != nil:
			return report, err
		default:
			report.Added++
		}
	}
	return report, nil
}

// Edit updates the named fields of the user keyed by phone. Empty arguments
// leave the current value in place.
func (s *RegistryService) Edit(phone, newFirstName, newLastName, newPhone string) error {
	digits := NormalizeDigits(phone)
	if digits == "" {
		return ErrRegistryPhoneFormat
	}
	u, err := s.repo.FindByDigits(digits)
	if err != nil {
		return err
	}
	if newFirstName != "" {
		u.FirstName = strings.TrimSpace(newFirstName)
	}
	if newLastName != "" {
		u.LastName = strings.TrimSpace(newLastName)
	}
	if newPhone != "" {
		newDigits := NormalizeDigits(newPhone)
		if newDigits == "" {
			return ErrRegistryPhoneFormat
		}
		u.Phone = strings.TrimSpace(newPhone)
		u.PhoneDigits = newDigits
	}
	return s.repo.Update(u)
}

func (s *RegistryService) Remove(phone string) error {
	digits := NormalizeDigits(phone)
	if digits == "" {
		return ErrRegistryPhoneFormat
	}
	removed, err := s.repo.DeleteByDigits(digits)
	if err != nil {
		return err
	}
	if !removed {
		return repository.ErrKnownUserNotFound
	}
	s.logger.Info("known user removed", "digits", digits)
	return nil
}

func (s *RegistryService) Count() (int64, error) {
	return s.repo.Count()
}

// List returns up to limit newest users plus the total registry size. A
// non-positive limit falls back to 50.
func (s *RegistryService) List(limit int) ([]domain.KnownUser, int64, error) {
	if limit <= 0 {
		limit = 50
	}
	users, err := s.repo.List(limit)
	if err != nil {
		return nil, 0, err
	}
	total, err := s.repo.Count()
	if err != nil {
		return nil, 0, err
	}
	return users, total, nil
}
