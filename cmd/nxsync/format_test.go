package main

import (
	"bytes"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestFormatCountAddsThousandsSeparators(t *testing.T) {
	assert.Equal(t, "12,480", formatCount(12480))
	assert.Equal(t, "0", formatCount(0))
}

func TestFormatRelativeTimeZeroIsNever(t *testing.T) {
	assert.Equal(t, "never", formatRelativeTime(0))
}

func TestFormatRelativeTimeNonZero(t *testing.T) {
	got := formatRelativeTime(time.Now().Add(-1 * time.Minute).UnixNano())
	assert.Contains(t, got, "ago")
}

func TestPrintTableAlignsColumns(t *testing.T) {
	var buf bytes.Buffer

	printTable(&buf, []string{"ID", "NAME"}, [][]string{
		{"1", "short"},
		{"2", "a much longer name"},
	})

	out := buf.String()
	assert.Contains(t, out, "ID")
	assert.Contains(t, out, "short")
	assert.Contains(t, out, "a much longer name")
}
