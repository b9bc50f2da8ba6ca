package config

import (
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
)

func TestLoad_Defaults(t *testing.T) {
	t.Setenv("AUTOSAVE_INTERVAL_SECONDS", "")
	t.Setenv("SUBMIT_GRACE_SECONDS", "")
	cfg := Load()

	assert.Equal(t, 10*time.Second, cfg.AutosaveInterval)
	assert.Equal(t, 30*time.Second, cfg.SubmitGrace)
	assert.Equal(t, 7, cfg.DefaultMaxExits)
}

func TestLoad_Overrides(t *testing.T) {
	id := uuid.New()
	t.Setenv("DEFAULT_MAX_EXITS", "3")
	t.Setenv("TIMER_TICK_MS", "250")
	t.Setenv("MAX_DB_CONNS", "garbage")
	t.Setenv("ALLOWED_ORIGINS", " https://a.example , ,https://b.example")
	t.Setenv("WARM_TEST_IDS", id.String()+",not-an-id")

	cfg := Load()
	assert.Equal(t, 3, cfg.DefaultMaxExits)
	assert.Equal(t, 250*time.Millisecond, cfg.TimerTick)
	assert.EqualValues(t, 16, cfg.MaxDBConns, "unparsable values fall back")
	assert.Equal(t, []string{"https://a.example", "https://b.example"}, cfg.AllowedOrigins)
	assert.Equal(t, []uuid.UUID{id}, cfg.WarmTestIDs)
}

func TestParseOrigins_Empty(t *testing.T) {
	assert.Nil(t, parseOrigins(""))
}
