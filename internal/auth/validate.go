package auth

import (
	"fmt"
	"regexp"
	"strings"
	"unicode/utf8"
)

const (
	MaxNameLength     = 50
	minPasswordLength = 8
	// bcrypt ignores everything past 72 bytes.
	maxPasswordLength = 72
)

var (
	DefaultEmailDomains = []string{"gmail.com", "hotmail.com", "outlook.com", "yahoo.com", "rmutr.ac.th"}

	nameRe = regexp.MustCompile(`^[A-Za-zก-๙0-9]+$`)
)

// EmailPolicy checks addresses against an allow-listed set of domains.
type EmailPolicy struct {
	re *regexp.Regexp
}

func NewEmailPolicy(domains []string) (EmailPolicy, error) {
	quoted := make([]string, 0, len(domains))
	for _, d := range domains {
		d = strings.ToLower(strings.TrimSpace(d))
		if d == "" {
			continue
		}
		quoted = append(quoted, regexp.QuoteMeta(d))
	}
	if len(quoted) == 0 {
		return EmailPolicy{}, fmt.Errorf("at least one email domain is required")
	}
	re, err := regexp.Compile(`^[a-zA-Z0-9._%+-]+@(` + strings.Join(quoted, "|") + `)$`)
	if err != nil {
		return EmailPolicy{}, fmt.Errorf("compile email policy: %w", err)
	}
	return EmailPolicy{re: re}, nil
}

func (p EmailPolicy) Validate(email string) error {
	if p.re == nil || !p.re.MatchString(email) {
		return fmt.Errorf("%w: invalid email format", ErrInvalidInput)
	}
	return nil
}

func validateName(field, v string) error {
	if !nameRe.MatchString(v) || utf8.RuneCountInString(v) > MaxNameLength {
		return fmt.Errorf("%w: invalid %s", ErrInvalidInput, field)
	}
	return nil
}

func validatePasswordPolicy(password string) error {
	if strings.TrimSpace(password) != password {
		return fmt.Errorf("%w: %w", ErrInvalidInput, ErrWeakPassword)
	}
	if len(password) < minPasswordLength || len(password) > maxPasswordLength {
		return fmt.Errorf("%w: %w", ErrInvalidInput, ErrWeakPassword)
	}
	return nil
}

func (in RegisterInput) validate(emails EmailPolicy) error {
	if err := emails.Validate(in.Email); err != nil {
		return err
	}
	if err := validateName("firstname", in.FirstName); err != nil {
		return err
	}
	if err := validateName("lastname", in.LastName); err != nil {
		return err
	}
	return validatePasswordPolicy(in.Password)
}
