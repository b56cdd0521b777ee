package tui

import (
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestBar(t *testing.T) {
	assert.Equal(t, "█████░░░░░", Bar(0.5, 10))
	assert.Equal(t, "██████████", Bar(1.7, 10))
	assert.Equal(t, "░░░░░░░░░░", Bar(-0.2, 10))
}

func TestTruncate(t *testing.T) {
	assert.Equal(t, "short", Truncate("short", 10))
	assert.Equal(t, "héllo...", Truncate("héllo wörld", 5))
}

func TestTTL(t *testing.T) {
	assert.Equal(t, "no expiry", TTL(-1))
	assert.Equal(t, "1m30s", TTL(90*time.Second+200*time.Millisecond))
}

func TestFieldsAlignsLabels(t *testing.T) {
	out := Map(map[string]string{"b": "2", "long label": "1"})
	lines := strings.Split(strings.TrimRight(out, "\n"), "\n")
	assert.Len(t, lines, 2)
	assert.Contains(t, lines[0], "b:")
	assert.Contains(t, lines[1], "long label:")
	assert.Equal(t, strings.Index(lines[0], "2"), strings.Index(lines[1], "1"))
}

func TestCheck(t *testing.T) {
	assert.Contains(t, Check("cache", true, "3 keys", 0), "✓")
	assert.Contains(t, Check("storage", false, "disk full", time.Millisecond), "✗")
}
