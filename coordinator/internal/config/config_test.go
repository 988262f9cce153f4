package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, 4, cfg.Workers)
	assert.Equal(t, 60*time.Second, cfg.JobDeadline)
	assert.Equal(t, 3, cfg.MaxAttempts)
	assert.Equal(t, 30*time.Second, cfg.ReadyTimeout)
	assert.Equal(t, "matdist", cfg.MongoDB)
	assert.Equal(t, "127.0.0.1:50000", cfg.Addr)
	assert.Equal(t, 5*time.Second, cfg.JobWaitTimeout)
}

func TestLoadOverrides(t *testing.T) {
	t.Setenv("MATDIST_WORKERS", "8")
	t.Setenv("MATDIST_JOB_DEADLINE", "0s")
	t.Setenv("MATDIST_QUEUE_BACKEND", "amqp")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, 8, cfg.Workers)
	assert.Zero(t, cfg.JobDeadline)
	assert.Equal(t, "amqp", cfg.Backend)
}

func TestLoadRejectsBadValues(t *testing.T) {
	for name, kv := range map[string][2]string{
		"workers":  {"MATDIST_WORKERS", "0"},
		"attempts": {"MATDIST_MAX_ATTEMPTS", "0"},
		"deadline": {"MATDIST_JOB_DEADLINE", "-1s"},
		"backend":  {"MATDIST_QUEUE_BACKEND", "carrier-pigeon"},
	} {
		t.Run(name, func(t *testing.T) {
			t.Setenv(kv[0], kv[1])
			_, err := Load()
			require.Error(t, err)
		})
	}
}

func TestWorkerEnvCarriesSession(t *testing.T) {
	t.Setenv("MATDIST_QUEUE_SECRET", "s3cr3t")
	cfg, err := Load()
	require.NoError(t, err)

	env := cfg.WorkerEnv("abc")
	assert.Contains(t, env, "MATDIST_SESSION_ID=abc")
	assert.Contains(t, env, "MATDIST_QUEUE_SECRET=s3cr3t")
	assert.Contains(t, env, "MATDIST_JOB_WAIT_TIMEOUT=5s")
	for _, kv := range env {
		assert.True(t, strings.HasPrefix(kv, "MATDIST_"), kv)
	}
	assert.Empty(t, cfg.SessionID, "WorkerEnv must not mutate the config")
}

func TestResolveWorkerBinary(t *testing.T) {
	explicit := filepath.Join(t.TempDir(), "my-worker")
	require.NoError(t, os.WriteFile(explicit, []byte("#!/bin/sh\n"), 0o755))

	cfg := Config{WorkerBinary: explicit}
	path, err := cfg.ResolveWorkerBinary()
	require.NoError(t, err)
	assert.Equal(t, explicit, path)
}
