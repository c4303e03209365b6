package env

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGetStringFromFile(t *testing.T) {
	dir := t.TempDir()
	secret := filepath.Join(dir, "openai_key")
	require.NoError(t, os.WriteFile(secret, []byte("sk-test\n"), 0o600))

	t.Setenv("OPENAI_API_KEY", "from-env")
	assert.Equal(t, "from-env", GetStringFromFile("OPENAI_API_KEY", ""))

	t.Setenv("OPENAI_API_KEY_FILE", secret)
	assert.Equal(t, "sk-test", GetStringFromFile("OPENAI_API_KEY", ""))

	t.Setenv("OPENAI_API_KEY_FILE", filepath.Join(dir, "missing"))
	assert.Equal(t, "from-env", GetStringFromFile("OPENAI_API_KEY", ""))
}

func TestTypedGetters(t *testing.T) {
	t.Setenv("VAD_SILENCE_FRAMES", "12")
	t.Setenv("VAD_SPEECH_THRESHOLD", "0.65")
	t.Setenv("RECORDING_ENABLED", "true")
	t.Setenv("STARTUP_WAIT", "3s")
	t.Setenv("CORS_ALLOWED_ORIGINS", "http://a.test, ,http://b.test")
	t.Setenv("BROKEN_INT", "twelve")

	assert.Equal(t, 12, GetInt("VAD_SILENCE_FRAMES", 8))
	assert.Equal(t, 8, GetInt("BROKEN_INT", 8))
	assert.InDelta(t, 0.65, GetFloat("VAD_SPEECH_THRESHOLD", 0.5), 1e-9)
	assert.True(t, GetBool("RECORDING_ENABLED", false))
	assert.Equal(t, 3*time.Second, GetDuration("STARTUP_WAIT", time.Second))
	assert.Equal(t, []string{"http://a.test", "http://b.test"}, GetStringSlice("CORS_ALLOWED_ORIGINS", nil))
	assert.Equal(t, "fallback", GetString("UNSET_VALUE", "fallback"))
}
