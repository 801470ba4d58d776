package dberrors

import (
	"errors"
	"io"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestConstructorsWrapSentinels(t *testing.T) {
	cases := []struct {
		err      error
		sentinel error
	}{
		{InvalidKey("empty key"), ErrInvalidKey},
		{ValueTooLarge(11, 10), ErrValueTooLarge},
		{InvalidValue("not an object"), ErrInvalidValue},
		{KeyNotFound("users", "1"), ErrKeyNotFound},
		{KeyNotFound("users", ""), ErrKeyNotFound},
		{Durability(io.ErrShortWrite), ErrDurability},
		{Corruption("bad crc at %d", 42), ErrCorruption},
	}

	for _, tc := range cases {
		assert.ErrorIs(t, tc.err, tc.sentinel, tc.err.Error())
	}
}

func TestDurabilityKeepsCause(t *testing.T) {
	err := Durability(io.ErrShortWrite)
	assert.True(t, errors.Is(err, io.ErrShortWrite))
	assert.Contains(t, err.Error(), "short write")
}

func TestKeyNotFoundMessage(t *testing.T) {
	assert.Equal(t, `chimeradb: key not found: users/1`, KeyNotFound("users", "1").Error())
	assert.Equal(t, `chimeradb: key not found: collection "users"`, KeyNotFound("users", "").Error())
}
