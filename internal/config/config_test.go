package config

import (
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var discard = slog.New(slog.NewTextHandler(io.Discard, nil))

func writeConfig(t *testing.T, dir, body string) {
	t.Helper()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "config.yaml"), []byte(body), 0o644))
}

func TestLoad_Defaults(t *testing.T) {
	cfg, err := NewLoader(discard, t.TempDir()).Load()
	require.NoError(t, err)

	assert.Equal(t, "cron-engine", cfg.ServiceName)
	assert.Equal(t, ":8080", cfg.HttpListenAddr)
	assert.Equal(t, ":50051", cfg.GrpcListenAddr)
	assert.Equal(t, ":9090", cfg.RunnerListenAddr)
	assert.Equal(t, "UTC", cfg.Timezone)
	assert.Equal(t, 200*time.Millisecond, cfg.Evaluator.Tick)
	assert.Equal(t, time.Minute, cfg.Evaluator.CalendarGrace)
	assert.Equal(t, 30*time.Second, cfg.Engine.DefaultTimeout)
	assert.Zero(t, cfg.Engine.MaxConcurrent)
	assert.Equal(t, 100, cfg.History.Retention)
	assert.False(t, cfg.PersistenceEnabled())
	assert.Equal(t, time.UTC, cfg.Location())
	assert.Equal(t, "none", cfg.TraceOutput)
}

func TestLoad_FileAndEnv(t *testing.T) {
	dir := t.TempDir()
	writeConfig(t, dir, `
timezone: Europe/Berlin
trace_output: stderr
evaluator:
  tick: 1s
history:
  retention: 10
etcd:
  endpoints: ["127.0.0.1:2379"]
task_kinds:
  data_export:
    runner: http
    url: http://runner:9090/run
    timeout: 5s
  nightly:
    runner: shell
    command: ./nightly.sh
  report:
    delay: 250ms
`)
	t.Setenv("CRON_ENGINE_HTTP_LISTEN_ADDR", ":9999")
	t.Setenv("CRON_ENGINE_ENGINE_MAX_CONCURRENT", "4")

	cfg, err := NewLoader(discard, dir).Load()
	require.NoError(t, err)

	assert.Equal(t, ":9999", cfg.HttpListenAddr)
	assert.EqualValues(t, 4, cfg.Engine.MaxConcurrent)
	assert.Equal(t, time.Second, cfg.Evaluator.Tick)
	assert.Equal(t, 10, cfg.History.Retention)
	assert.True(t, cfg.PersistenceEnabled())
	assert.Equal(t, "Europe/Berlin", cfg.Location().String())
	assert.Equal(t, "stderr", cfg.TraceOutput)

	require.Contains(t, cfg.TaskKinds, "data_export")
	assert.Equal(t, RunnerHTTP, cfg.TaskKinds["data_export"].Runner)
	assert.Equal(t, "./nightly.sh", cfg.TaskKinds["nightly"].Command)
	assert.Equal(t, 250*time.Millisecond, cfg.TaskKinds["report"].Delay)
	assert.Equal(t, map[string]time.Duration{"data_export": 5 * time.Second}, cfg.Timeouts())
}

func TestLoad_Invalid(t *testing.T) {
	tests := map[string]string{
		"bad timezone":      "timezone: Mars/Olympus\n",
		"zero tick":         "evaluator:\n  tick: 0s\n",
		"http without url":  "task_kinds:\n  x:\n    runner: http\n",
		"shell without cmd": "task_kinds:\n  x:\n    runner: shell\n",
		"unknown runner":    "task_kinds:\n  x:\n    runner: ftp\n",
		"negative limit":    "engine:\n  max_concurrent: -1\n",
		"trace output":      "trace_output: jaeger\n",
	}
	for name, body := range tests {
		t.Run(name, func(t *testing.T) {
			dir := t.TempDir()
			writeConfig(t, dir, body)
			_, err := NewLoader(discard, dir).Load()
			assert.ErrorContains(t, err, "invalid configuration")
		})
	}
}

func TestWatch_ReloadsOnWrite(t *testing.T) {
	dir := t.TempDir()
	writeConfig(t, dir, "task_kinds:\n  report:\n    timeout: 1s\n")

	l := NewLoader(discard, dir)
	_, err := l.Load()
	require.NoError(t, err)

	changes := make(chan *Config, 16)
	l.Watch(func(c *Config) { changes <- c })

	// Give the watcher a moment to attach before writing.
	time.Sleep(100 * time.Millisecond)
	writeConfig(t, dir, "task_kinds:\n  report:\n    timeout: 7s\n")

	// A write can surface as several events; wait for the final content.
	deadline := time.After(5 * time.Second)
	for {
		select {
		case cfg := <-changes:
			if cfg.TaskKinds["report"].Timeout == 7*time.Second {
				return
			}
		case <-deadline:
			t.Fatal("config change not observed")
		}
	}
}
