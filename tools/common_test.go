package tools

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestToggleOn(t *testing.T) {
	for _, v := range []string{"false", "FALSE", " 0 ", "no", "No"} {
		assert.False(t, ToggleOn(v), v)
	}
	for _, v := range []string{"", "true", "1", "yes", "off"} {
		assert.True(t, ToggleOn(v), v)
	}
}

func TestSnippet(t *testing.T) {
	assert.Equal(t, "abc", Snippet("abc", 5))
	assert.Equal(t, "ab…", Snippet("abcdef", 2))
}

func TestRandMsgID(t *testing.T) {
	a, b := RandMsgID(), RandMsgID()
	assert.Len(t, a, 32)
	assert.NotEqual(t, a, b)
}
