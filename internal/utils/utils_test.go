package utils

import (
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestObfuscate(t *testing.T) {
	assert.Equal(t, "**st", Obfuscate("test", 2))
	assert.Equal(t, "****-text", Obfuscate("test-text", 5))
	assert.Equal(t, "****", Obfuscate("test", 6))
}

func TestUseTempFile(t *testing.T) {
	var path string
	UseTempFile("content", func(p string) {
		path = p
		d, err := os.ReadFile(p)
		assert.NoError(t, err)
		assert.Equal(t, "content", string(d))
	})
	_, err := os.Stat(path)
	assert.True(t, os.IsNotExist(err))
}

func TestWaitUntil(t *testing.T) {
	start := time.Now()
	WaitUntil(time.Second, func() bool {
		return time.Since(start) > 20*time.Millisecond
	})
	assert.GreaterOrEqual(t, time.Since(start), 20*time.Millisecond)
}

func TestWithTimeout(t *testing.T) {
	called := false
	WithTimeout(time.Second, func() {
		called = true
	})
	assert.True(t, called)
}
