package auth

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestPasswordPolicy(t *testing.T) {
	p := NewPasswordPolicy(8)

	tests := []struct {
		name     string
		password string
		related  []string
		want     []string
	}{
		{name: "valid", password: "Secret123!", related: []string{"a@x.com"}},
		{name: "too short", password: "Ab1!", want: []string{"too short"}},
		{name: "numeric", password: "9876543210", want: []string{"entirely numeric"}},
		{name: "common", password: "Password123", want: []string{"too common"}},
		{name: "short numeric common", password: "123456", want: []string{"too short", "entirely numeric", "too common"}},
		{name: "similar to email", password: "adalovelace", related: []string{"ada.lovelace@example.com"}, want: []string{"too similar"}},
		{name: "too long", password: strings.Repeat("x", 73) + "Q1", want: []string{"too long"}},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			got := p.Check(tc.password, tc.related...)
			if len(tc.want) == 0 {
				assert.Empty(t, got)
				return
			}
			assert.Len(t, got, len(tc.want))
			for i, fragment := range tc.want {
				assert.Contains(t, got[i], fragment)
			}
		})
	}
}

func TestPasswordPolicyDefaultLength(t *testing.T) {
	p := NewPasswordPolicy(0)
	assert.NotEmpty(t, p.Check("Ab1!xyz"))
	assert.Empty(t, p.Check("Ab1!xyzQ"))
}

func TestSimilarity(t *testing.T) {
	assert.InDelta(t, 1.0, similarity("abc", "abc"), 0.0001)
	assert.InDelta(t, 0.0, similarity("abc", "xyz"), 0.0001)
	assert.InDelta(t, 0.75, similarity("abcd", "abxd"), 0.0001)
}
