package config

import (
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefault(t *testing.T) {
	cfg, err := Default()
	require.NoError(t, err)

	assert.Equal(t, "screentime.db", cfg.Database)
	assert.Equal(t, "shared", cfg.SharedDir)
	assert.Equal(t, "threshold-event", cfg.EventKey)
	assert.Equal(t, "daily", cfg.MonitorScope)
	assert.Equal(t, int64(60), cfg.ThresholdSeconds)
	assert.Equal(t, 2*time.Minute, cfg.PickerTimeout)
	assert.Equal(t, Rates{Learning: 10, Reward: 5}, cfg.Rates)
	assert.Equal(t, slog.LevelInfo, cfg.Level())
	assert.Empty(t, cfg.MetricsAddr)
}

func TestParse_Overrides(t *testing.T) {
	src := `
database: "/var/lib/screentime/state.db"
threshold_seconds: 300
picker_timeout: "45s"
rates: reward: 2
log_level: "debug"
metrics_addr: "127.0.0.1:9464"
`
	cfg, err := Parse([]byte(src), "screentime.cue")
	require.NoError(t, err)

	assert.Equal(t, "/var/lib/screentime/state.db", cfg.Database)
	assert.Equal(t, int64(300), cfg.ThresholdSeconds)
	assert.Equal(t, 45*time.Second, cfg.PickerTimeout)
	assert.Equal(t, Rates{Learning: 10, Reward: 2}, cfg.Rates, "unset rate keeps its default")
	assert.Equal(t, slog.LevelDebug, cfg.Level())
	assert.Equal(t, "127.0.0.1:9464", cfg.MetricsAddr)
}

func TestParse_Rejects(t *testing.T) {
	tests := []struct {
		name string
		src  string
	}{
		{"unknown field", `databse: "x.db"`},
		{"zero threshold", `threshold_seconds: 0`},
		{"negative rate", `rates: learning: -1`},
		{"bad log level", `log_level: "trace"`},
		{"bad event key", `event_key: ".hidden"`},
		{"bad duration", `picker_timeout: "soon"`},
		{"negative duration", `picker_timeout: "-1s"`},
		{"syntax", `database: `},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Parse([]byte(tt.src), "screentime.cue")
			require.Error(t, err)
			var cfgErr *Error
			assert.ErrorAs(t, err, &cfgErr)
		})
	}
}

func TestParse_ErrorNamesField(t *testing.T) {
	_, err := Parse([]byte("database: \"a.db\"\nthreshold_seconds: -5\n"), "screentime.cue")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "threshold_seconds")
	var cfgErr *Error
	require.ErrorAs(t, err, &cfgErr)
	assert.True(t, cfgErr.Pos.IsValid())
}

func TestLoad(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "custom.cue")
	require.NoError(t, os.WriteFile(path, []byte(`monitor_scope: "weekly"`), 0o644))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "weekly", cfg.MonitorScope)

	_, err = Load(filepath.Join(dir, "missing.cue"))
	assert.Error(t, err, "an explicit path must exist")
}

func TestLoad_DefaultFileOptional(t *testing.T) {
	t.Chdir(t.TempDir())

	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, "daily", cfg.MonitorScope)

	require.NoError(t, os.WriteFile(DefaultFile, []byte(`monitor_scope: "school"`), 0o644))
	cfg, err = Load("")
	require.NoError(t, err)
	assert.Equal(t, "school", cfg.MonitorScope)
}

func TestRates_Assignment(t *testing.T) {
	r := Rates{Learning: 7, Reward: 3}.Assignment()
	assert.Equal(t, int64(7), r.Learning)
	assert.Equal(t, int64(3), r.Reward)
}
