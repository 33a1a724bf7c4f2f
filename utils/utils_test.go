package utils

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestGetRandomElement(t *testing.T) {
	arr := []string{"a", "b", "c"}
	for i := 0; i < 20; i++ {
		assert.Contains(t, arr, GetRandomElement(arr))
	}

	assert.Panics(t, func() { GetRandomElement([]int{}) })
}

func TestRandomLowercaseLetter(t *testing.T) {
	seen := map[byte]bool{}
	for i := 0; i < 500; i++ {
		c := RandomLowercaseLetter()
		assert.True(t, c >= 'a' && c <= 'z', "got %q", c)
		seen[c] = true
	}
	assert.Greater(t, len(seen), 1)
}

func TestJoinBytes(t *testing.T) {
	assert.Equal(t, []byte{0x45, 'a', 'b'}, JoinBytes([]byte{0x45}, []byte("ab")))
	assert.Equal(t, []byte{}, JoinBytes())
	assert.Equal(t, []byte("x"), JoinBytes(nil, []byte("x"), nil))
}

func TestBoolToYesNo(t *testing.T) {
	assert.Equal(t, "Yes", BoolToYesNo(true))
	assert.Equal(t, "No", BoolToYesNo(false))
}
