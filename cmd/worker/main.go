package main

import (
	"context"
	"time"

	"github.com/blues/tds/internal/breaker"
	"github.com/blues/tds/internal/config"
	"github.com/blues/tds/internal/database"
	"github.com/blues/tds/internal/ethereum"
	"github.com/blues/tds/internal/logger"
	"github.com/blues/tds/internal/logic"
	"github.com/blues/tds/internal/queue"
	"github.com/blues/tds/internal/worker"
	"github.com/hibiken/asynq"
)

func main() {
	// 加载配置
	cfg := config.Load()
	setupLogger(cfg.Log)

	// 初始化数据库
	db, err := database.Init(cfg.Database)
	if err != nil {
		logger.Fatal("Failed to initialize database: %v", err)
	}

	// 初始化链客户端
	chainClient, err := ethereum.Init(cfg.Chain)
	if err != nil {
		logger.Fatal("Failed to initialize chain client: %v", err)
	}
	logger.Info("Distributing from account %s", chainClient.GetAccountAddress().Hex())

	// 熔断器归worker进程所有，显式传入任务处理函数
	breakerReset := time.Duration(cfg.Distribution.BreakerResetSeconds) * time.Second
	rpcBreaker := breaker.New(cfg.Distribution.BreakerThreshold, breakerReset)

	completionLogic := logic.NewCompletionLogic(db)
	distributionWorker := worker.New(
		db,
		chainClient,
		rpcBreaker,
		completionLogic,
		cfg.Distribution.MaxAttempts,
		cfg.Chain.Confirmations,
		time.Duration(cfg.Distribution.RateIntervalSeconds)*time.Second,
	)

	// 并发度固定为1：同一个签名账户的交易nonce必须串行分配
	srv := asynq.NewServer(
		asynq.RedisClientOpt{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		},
		asynq.Config{
			Concurrency:    1,
			Queues:         map[string]int{queue.QueueDistribution: 1},
			RetryDelayFunc: worker.RetryDelay(breakerReset),
			IsFailure:      worker.IsFailure,
			ErrorHandler: asynq.ErrorHandlerFunc(func(ctx context.Context, task *asynq.Task, err error) {
				if !worker.IsFailure(err) {
					return
				}
				logger.Error("Task %s failed: %v", task.Type(), err)
			}),
		},
	)

	mux := asynq.NewServeMux()
	mux.HandleFunc(queue.TypeDistribution, distributionWorker.HandleTask)

	logger.Info("Distribution worker started")
	if err := srv.Run(mux); err != nil {
		logger.Fatal("Worker exited with error: %v", err)
	}
}

// setupLogger 根据配置初始化默认日志器
func setupLogger(cfg config.LogConfig) {
	level := logger.ParseLogLevel(cfg.Level)

	var l *logger.Logger
	var err error
	if cfg.Output == "file" {
		l, err = logger.NewWithFileRotation(level, cfg.File)
	} else {
		l, err = logger.New(level)
	}
	if err != nil {
		logger.Fatal("Failed to setup logger: %v", err)
	}
	logger.SetDefaultLogger(l)
}
