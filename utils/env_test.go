package utils

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGetEnvDuration(t *testing.T) {
	t.Setenv("SESSION_TTL", "90s")
	assert.Equal(t, 90*time.Second, GetEnvDuration("SESSION_TTL", time.Minute))

	t.Setenv("SESSION_TTL", "45")
	assert.Equal(t, 45*time.Second, GetEnvDuration("SESSION_TTL", time.Minute))

	t.Setenv("SESSION_TTL", "soon")
	assert.Equal(t, time.Minute, GetEnvDuration("SESSION_TTL", time.Minute))

	t.Setenv("SESSION_TTL", "")
	assert.Equal(t, time.Minute, GetEnvDuration("SESSION_TTL", time.Minute))
}

func TestGetEnvInt(t *testing.T) {
	t.Setenv("BOT_BET", " 25 ")
	assert.Equal(t, 25, GetEnvInt("BOT_BET", 0))
	t.Setenv("BOT_BET", "lots")
	assert.Equal(t, 7, GetEnvInt("BOT_BET", 7))
}

func TestSplitList(t *testing.T) {
	assert.Equal(t, []string{"http://a", "http://b"}, SplitList(" http://a, ,http://b "))
	assert.Empty(t, SplitList(""))
}

func TestR2RequiresConfig(t *testing.T) {
	t.Setenv("CLOUDFLARE_ACCOUNT_ID", "acct")
	t.Setenv("R2_ACCESS_KEY_ID", "")
	_, err := NewR2FromEnv(context.Background())
	require.ErrorIs(t, err, ErrR2NotConfigured)

	t.Setenv("R2_ACCESS_KEY_ID", "key")
	t.Setenv("R2_ACCESS_KEY_SECRET", "secret")
	t.Setenv("R2_BUCKET_NAME", "backups")
	t.Setenv("CDN_BASE_URL", "")
	b, err := NewR2FromEnv(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "backups", b.Bucket)
	assert.Equal(t, "https://acct.r2.cloudflarestorage.com", b.BaseURL)
}
