// Package config читает настройки координатора из окружения (префикс MATDIST_).
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/kelseyhightower/envconfig"

	common "matdist/common/config"
	worker "matdist/worker/config"
)

// Config включает настройки воркера: они передаются запускаемым процессам через окружение.
type Config struct {
	worker.Config

	Workers       int           `envconfig:"WORKERS" default:"4"`
	// JobDeadline: срок на обработку одного задания воркером. Задание, перед
	// которым в очереди k волн заданий, получает (k+1) таких сроков.
	// 0 отключает переназначение по сроку.
	JobDeadline   time.Duration `envconfig:"JOB_DEADLINE" default:"60s"`
	MaxAttempts   int           `envconfig:"MAX_ATTEMPTS" default:"3"`
	ReadyTimeout  time.Duration `envconfig:"READY_TIMEOUT" default:"30s"`
	ShutdownGrace time.Duration `envconfig:"SHUTDOWN_GRACE" default:"10s"`
	WorkerBinary  string        `envconfig:"WORKER_BINARY" default:""`

	MongoURI    string `envconfig:"MONGODB_URI" default:""`
	MongoDB     string `envconfig:"MONGODB_DB" default:"matdist"`
	MetricsAddr string `envconfig:"METRICS_ADDR" default:""`
}

// Load читает конфигурацию координатора.
func Load() (Config, error) {
	var cfg Config
	if err := envconfig.Process(common.Prefix, &cfg); err != nil {
		return Config{}, fmt.Errorf("coordinator config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c Config) Validate() error {
	if err := c.Queue.Validate(); err != nil {
		return err
	}
	if c.Workers < 1 {
		return fmt.Errorf("WORKERS must be at least 1, got %d", c.Workers)
	}
	if c.MaxAttempts < 1 {
		return fmt.Errorf("MAX_ATTEMPTS must be at least 1, got %d", c.MaxAttempts)
	}
	if c.JobDeadline < 0 {
		return fmt.Errorf("JOB_DEADLINE must not be negative, got %s", c.JobDeadline)
	}
	return nil
}

// WorkerEnv: окружение процесса воркера для сессии sessionID.
func (c Config) WorkerEnv(sessionID string) []string {
	w := c.Config
	w.SessionID = sessionID
	return w.Env()
}

// ResolveWorkerBinary возвращает путь к бинарнику воркера.
// По умолчанию ищется файл worker рядом с исполняемым файлом координатора.
func (c Config) ResolveWorkerBinary() (string, error) {
	if c.WorkerBinary != "" {
		return c.WorkerBinary, nil
	}
	self, err := os.Executable()
	if err != nil {
		return "", fmt.Errorf("locate coordinator binary: %w", err)
	}
	path := filepath.Join(filepath.Dir(self), "worker")
	if _, err := os.Stat(path); err != nil {
		return "", fmt.Errorf("worker binary not found, set %s_WORKER_BINARY: %w", common.Prefix, err)
	}
	return path, nil
}
