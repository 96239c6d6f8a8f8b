package ports

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestSystemClock_ReturnsCurrentTime(t *testing.T) {
	before := time.Now()
	got := SystemClock{}.Now()
	after := time.Now()
	assert.True(t, !got.Before(before) && !got.After(after))
}
