package constants

import "time"

const (
	// Именованные каналы QueueService
	JobsQueue    = "jobs"
	ResultsQueue = "results"
	ReadyQueue   = "ready"

	// Заголовок с общим секретом
	SecretHeader = "X-Queue-Secret"

	// Бэкенды очереди
	BackendHTTP = "http"
	BackendAMQP = "amqp"

	SessionsColl = "sessions"

	// Worker
	DefaultJobWaitTimeout = 5 * time.Second
	DefaultAttachTimeout  = 3 * time.Second

	// Сколько чанков приходится на одного воркера
	ChunksPerWorker = 2

	// Coordinator
	DefaultReadyTimeout  = 30 * time.Second
	DefaultMaxAttempts   = 3
	DefaultShutdownGrace = 10 * time.Second

	// Длинный опрос результатов: одно окно ожидания на запрос
	ResultPollWindow = 20 * time.Second
	// Интервал опроса basic.get для AMQP
	AMQPPollInterval = 20 * time.Millisecond

	// Таймауты для БД
	ContextTimeout = 5 * time.Second

	// Имитация сетевой задержки: секунды на МиБ полезной нагрузки
	DefaultTransferPerMiB = 50 * time.Millisecond
)
