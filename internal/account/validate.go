package account

import (
	"fmt"
	"regexp"
	"strings"
	"unicode/utf8"

	"github.com/hongminglow/accounts/internal/models"
)

const maxNameLength = 50

var (
	emailPattern = regexp.MustCompile(`^[a-zA-Z0-9._%+-]+@[a-zA-Z0-9.-]+\.[a-zA-Z]{2,}$`)
	phonePattern = regexp.MustCompile(`^\+?[1-9]\d{6,14}$`)
)

// NormalizeEmail trims the address and lower-cases its domain part.
func NormalizeEmail(email string) string {
	email = strings.TrimSpace(email)
	at := strings.LastIndex(email, "@")
	if at < 0 {
		return email
	}
	return email[:at] + "@" + strings.ToLower(email[at+1:])
}

func normalizePhone(phone string) string {
	return strings.NewReplacer(" ", "", "-", "", "(", "", ")", "").Replace(strings.TrimSpace(phone))
}

func (in *RegisterInput) normalize() {
	in.Email = NormalizeEmail(in.Email)
	in.FirstName = strings.TrimSpace(in.FirstName)
	in.LastName = strings.TrimSpace(in.LastName)
	in.PhoneNumber = normalizePhone(in.PhoneNumber)
}

func (s *Service) validateRegister(in RegisterInput) error {
	v := &ValidationError{}

	switch {
	case in.Email == "":
		v.Add("email", msgRequired)
	case !emailPattern.MatchString(in.Email):
		v.Add("email", msgInvalidEmail)
	}

	if in.Password == "" {
		v.Add("password", msgRequired)
	} else {
		v.Add("password", s.policy.Check(in.Password, in.Email, in.FirstName, in.LastName)...)
	}

	checkName(v, "first_name", in.FirstName)
	checkName(v, "last_name", in.LastName)

	if in.PhoneNumber != "" && !phonePattern.MatchString(in.PhoneNumber) {
		v.Add("phone_number", msgInvalidPhone)
	}
	if !in.Gender.Valid() {
		v.Add("gender", fmt.Sprintf("\"%d\" is not a valid choice.", int16(in.Gender)))
	}
	return v.Err()
}

func checkName(v *ValidationError, field, value string) {
	if n := utf8.RuneCountInString(value); n > maxNameLength {
		v.Add(field, fmt.Sprintf("Ensure this field has no more than %d characters.", maxNameLength))
	}
}

func validateLogin(in LoginInput) error {
	v := &ValidationError{}
	if in.Email == "" {
		v.Add("email", msgRequired)
	}
	if in.Password == "" {
		v.Add("password", msgRequired)
	}
	return v.Err()
}

func (s *Service) validateChangePassword(user models.User, in ChangePasswordInput) error {
	v := &ValidationError{}
	if in.NewPassword == "" {
		v.Add("new_password", msgRequired)
	}
	if in.NewPasswordConfirmation == "" {
		v.Add("new_password_confirmation", msgRequired)
	}
	if err := v.Err(); err != nil {
		return err
	}

	if in.NewPassword != in.NewPasswordConfirmation {
		v.Add("new_password_confirmation", msgPasswordsDiffer)
		return v
	}
	v.Add("new_password", s.policy.Check(in.NewPassword, user.Email, user.FirstName, user.LastName)...)
	return v.Err()
}
