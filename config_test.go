package certd

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/pelletier/go-toml/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadSettingsDefaults(t *testing.T) {
	s, err := LoadSettings("", nil)
	require.NoError(t, err)

	def := DefaultSettings()
	assert.Equal(t, DefaultCADirectoryURL, s.CADirectoryURL)
	assert.True(t, s.Chained)
	assert.Equal(t, 30, s.CertMaxAgeDays)
	assert.Equal(t, 0, s.DhMaxAgeDays)
	assert.Equal(t, def.CertDir, s.CertDir)
	assert.Equal(t, "/tmp/force_crt_update", s.ForceUpdateFile)
	assert.Equal(t, time.Second, s.WaitTick.Duration)
	assert.Equal(t, time.Hour, s.WaitCeiling.Duration)
	assert.Empty(t, s.DefaultNotify)
}

func TestLoadSettingsLayering(t *testing.T) {
	path := filepath.Join(t.TempDir(), "certd.toml")
	require.NoError(t, os.WriteFile(path, []byte(`
email = "ops@example.com"
cert_max_age_days = 20
key_type = "P256"
wait_tick = "2s"
default_notify = ["from-file"]
`), 0o644))

	s, err := LoadSettings(path, []string{
		"CRT_MAX_AGE=10",
		"CONTAINER_NOTIFY= nginx , api,nginx,",
		"CHAINED_CRT=false",
		"WAIT_CEILING=30m",
		"UNRELATED=1",
	})
	require.NoError(t, err)

	assert.Equal(t, "ops@example.com", s.Email, "file value kept")
	assert.Equal(t, "P256", s.KeyType, "file value kept")
	assert.Equal(t, 10, s.CertMaxAgeDays, "environment wins over file")
	assert.Equal(t, []string{"nginx", "api"}, s.DefaultNotify)
	assert.False(t, s.Chained)
	assert.Equal(t, 2*time.Second, s.WaitTick.Duration)
	assert.Equal(t, 30*time.Minute, s.WaitCeiling.Duration)
}

func TestLoadSettingsErrors(t *testing.T) {
	t.Run("missing file", func(t *testing.T) {
		_, err := LoadSettings(filepath.Join(t.TempDir(), "nope.toml"), nil)
		require.Error(t, err)
	})

	t.Run("malformed toml", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "bad.toml")
		require.NoError(t, os.WriteFile(path, []byte("cert_max_age_days = = 3"), 0o644))
		_, err := LoadSettings(path, nil)
		require.Error(t, err)
	})

	t.Run("bad env value", func(t *testing.T) {
		_, err := LoadSettings("", []string{"CRT_MAX_AGE=thirty"})
		require.Error(t, err)
	})

	t.Run("invalid values", func(t *testing.T) {
		_, err := LoadSettings("", []string{"KEY_TYPE=ed25519", "CRT_MAX_AGE=0"})
		require.Error(t, err)
		assert.True(t, errors.Is(err, ErrInvalidSettings))
		assert.Contains(t, err.Error(), "key_type")
		assert.Contains(t, err.Error(), "cert_max_age_days")
	})
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Settings)
		wantErr string
	}{
		{"defaults", func(*Settings) {}, ""},
		{"empty ca", func(s *Settings) { s.CADirectoryURL = "" }, "ca_directory_url"},
		{"negative dh age", func(s *Settings) { s.DhMaxAgeDays = -1 }, "dh_max_age_days"},
		{"tiny dh", func(s *Settings) { s.DhMaxAgeDays = 10; s.DhBits = 256 }, "dh_bits"},
		{"empty cert dir", func(s *Settings) { s.CertDir = "" }, "cert_dir"},
		{"empty runtime", func(s *Settings) { s.NotifyRuntime = "" }, "notify_runtime"},
		{"ceiling below tick", func(s *Settings) { s.WaitCeiling = Duration{time.Millisecond} }, "wait_ceiling"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := DefaultSettings()
			tt.mutate(&s)
			err := s.Validate()
			if tt.wantErr == "" {
				assert.NoError(t, err)
				return
			}
			require.ErrorIs(t, err, ErrInvalidSettings)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestSettingsTOMLRoundTrip(t *testing.T) {
	s := DefaultSettings()
	s.DefaultNotify = []string{"nginx"}
	data, err := toml.Marshal(s)
	require.NoError(t, err)

	var back Settings
	require.NoError(t, toml.Unmarshal(data, &back))
	assert.Equal(t, s, back)
}

func TestEnvMap(t *testing.T) {
	m := EnvMap([]string{"A=1", "B=x=y", "A=2", "broken", "=nokey"})
	assert.Equal(t, map[string]string{"A": "2", "B": "x=y"}, m)
}
