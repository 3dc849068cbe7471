package flow

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSkipMatcher_Match(t *testing.T) {
	m := NewSkipMatcher(DefaultSkipPhrases)
	tests := []struct {
		in   string
		want bool
	}{
		{"skip", true},
		{"SKIP", true},
		{"  Pass.", true},
		{"next!", true},
		{"I don't want to say", true},
		{"dont want to", true},
		{"I'd prefer not to", true},
		{"n/a", true},
		{"Not applicable here", true},
		{"no answer", true},
		{"I'd rather not", true},
		{"I'm passionate about wellness", false},
		{"Skipper Family Chiropractic", false},
		{"The nextgen clinic", false},
		{"Jane Smith", false},
		{"", false},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, m.Match(tt.in), "%q", tt.in)
	}
}

func TestSkipMatcher_CustomPhrases(t *testing.T) {
	m := NewSkipMatcher([]string{" Later ", "", "no thanks"})
	assert.Equal(t, []string{"later", "no thanks"}, m.Phrases())
	assert.True(t, m.Match("maybe later"))
	assert.True(t, m.Match("No thanks!"))
	assert.False(t, m.Match("skip"))
}
