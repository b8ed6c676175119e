package auth

import (
	"bufio"
	_ "embed"
	"fmt"
	"regexp"
	"strings"
	"unicode"
)

// DefaultMinPasswordLength is used when no explicit minimum is configured.
const DefaultMinPasswordLength = 8

// bcrypt ignores input past this many bytes.
const maxPasswordBytes = 72

const maxSimilarity = 0.7

//go:embed common_passwords.txt
var commonPasswordsList string

var attributeSplit = regexp.MustCompile(`\W+`)

// PasswordPolicy is the fixed password validator: minimum length, not entirely
// numeric, not a common password, not too similar to the user's own attributes.
type PasswordPolicy struct {
	minLength int
	common    map[string]struct{}
}

// NewPasswordPolicy builds the policy with the bundled common-password list.
func NewPasswordPolicy(minLength int) *PasswordPolicy {
	if minLength <= 0 {
		minLength = DefaultMinPasswordLength
	}
	common := make(map[string]struct{})
	sc := bufio.NewScanner(strings.NewReader(commonPasswordsList))
	for sc.Scan() {
		if line := strings.TrimSpace(sc.Text()); line != "" {
			common[strings.ToLower(line)] = struct{}{}
		}
	}
	return &PasswordPolicy{minLength: minLength, common: common}
}

// Check returns one message per violated rule. related holds user attributes
// (email, names) the password must not resemble.
func (p *PasswordPolicy) Check(password string, related ...string) []string {
	var problems []string

	if n := len([]rune(password)); n < p.minLength {
		problems = append(problems, fmt.Sprintf("This password is too short. It must contain at least %d characters.", p.minLength))
	}
	if len(password) > maxPasswordBytes {
		problems = append(problems, fmt.Sprintf("This password is too long. It must contain at most %d bytes.", maxPasswordBytes))
	}
	if password != "" && isNumeric(password) {
		problems = append(problems, "This password is entirely numeric.")
	}
	if _, ok := p.common[strings.ToLower(strings.TrimSpace(password))]; ok {
		problems = append(problems, "This password is too common.")
	}
	if tooSimilar(password, related) {
		problems = append(problems, "The password is too similar to your personal information.")
	}
	return problems
}

func isNumeric(s string) bool {
	for _, r := range s {
		if !unicode.IsDigit(r) {
			return false
		}
	}
	return true
}

func tooSimilar(password string, related []string) bool {
	lower := strings.ToLower(password)
	for _, attr := range related {
		attr = strings.ToLower(strings.TrimSpace(attr))
		if attr == "" {
			continue
		}
		parts := append(attributeSplit.Split(attr, -1), attr)
		for _, part := range parts {
			if len(part) < 3 {
				continue
			}
			if similarity(lower, part) >= maxSimilarity {
				return true
			}
		}
	}
	return false
}

// similarity is 2*LCS/(len(a)+len(b)) over runes.
func similarity(a, b string) float64 {
	ra, rb := []rune(a), []rune(b)
	if len(ra)+len(rb) == 0 {
		return 0
	}
	prev := make([]int, len(rb)+1)
	cur := make([]int, len(rb)+1)
	for i := 1; i <= len(ra); i++ {
		for j := 1; j <= len(rb); j++ {
			switch {
			case ra[i-1] == rb[j-1]:
				cur[j] = prev[j-1] + 1
			case prev[j] >= cur[j-1]:
				cur[j] = prev[j]
			default:
				cur[j] = cur[j-1]
			}
		}
		prev, cur = cur, prev
	}
	return 2 * float64(prev[len(rb)]) / float64(len(ra)+len(rb))
}
