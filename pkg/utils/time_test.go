package utils

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestNow(t *testing.T) {
	assert.Equal(t, time.UTC, Now().Location())
	assert.WithinDuration(t, time.Now(), Now(), time.Second)
}

func TestFormatISO8601(t *testing.T) {
	jakarta := time.FixedZone("WIB", 7*3600)
	ts := time.Date(2026, 3, 10, 17, 0, 0, 0, jakarta)

	assert.Equal(t, "2026-03-10T10:00:00Z", FormatISO8601(ts))
}
