package config

import (
	"fmt"
	"time"

	"github.com/kelseyhightower/envconfig"

	common "matdist/common/config"
)

// Config: настройки процесса воркера. Воркер запускается без аргументов,
// всё приходит из окружения с префиксом MATDIST_.
type Config struct {
	common.Queue

	JobWaitTimeout   time.Duration `envconfig:"JOB_WAIT_TIMEOUT" default:"5s"`
	AttachTimeout    time.Duration `envconfig:"ATTACH_TIMEOUT" default:"3s"`
	SimulateTransfer bool          `envconfig:"SIMULATE_TRANSFER" default:"false"`
	TransferPerMiB   time.Duration `envconfig:"TRANSFER_PER_MIB" default:"50ms"`
}

// Load читает конфигурацию воркера из окружения.
func Load() (Config, error) {
	var cfg Config
	if err := envconfig.Process(common.Prefix, &cfg); err != nil {
		return Config{}, fmt.Errorf("worker config: %w", err)
	}
	if err := cfg.Queue.Validate(); err != nil {
		return Config{}, err
	}
	if cfg.JobWaitTimeout <= 0 {
		return Config{}, fmt.Errorf("JOB_WAIT_TIMEOUT must be positive, got %s", cfg.JobWaitTimeout)
	}
	return cfg, nil
}

// Env возвращает переменные окружения для запуска процесса воркера с этими настройками.
func (c Config) Env() []string {
	env := c.Queue.Env()
	return append(env,
		common.Prefix+"_JOB_WAIT_TIMEOUT="+c.JobWaitTimeout.String(),
		common.Prefix+"_ATTACH_TIMEOUT="+c.AttachTimeout.String(),
		fmt.Sprintf("%s_SIMULATE_TRANSFER=%t", common.Prefix, c.SimulateTransfer),
		common.Prefix+"_TRANSFER_PER_MIB="+c.TransferPerMiB.String(),
	)
}
