package main

import (
	"github.com/blues/tds/internal/config"
	"github.com/blues/tds/internal/database"
	"github.com/blues/tds/internal/logger"
	"github.com/blues/tds/internal/logic"
	"github.com/blues/tds/internal/queue"
	"github.com/blues/tds/internal/router"
	"github.com/blues/tds/internal/scheduler"
	"github.com/gin-gonic/gin"
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

	// 初始化任务队列客户端
	queueClient := queue.NewClient(cfg.Redis)
	defer queueClient.Close()

	// 业务逻辑
	distributionLogic := logic.NewDistributionLogic(db, queueClient, cfg.Distribution.BatchSize)
	defer distributionLogic.Close()
	completionLogic := logic.NewCompletionLogic(db)

	// 设置Gin模式
	if cfg.Server.Mode == "release" {
		gin.SetMode(gin.ReleaseMode)
	}

	// 初始化路由
	r := router.Setup(db, distributionLogic, cfg)

	// 启动完成度兜底任务
	manager := scheduler.Start(db, completionLogic, cfg)
	defer manager.Stop()

	// 启动服务器
	logger.Info("Server starting on port %s", cfg.Server.Port)
	if err := r.Run(":" + cfg.Server.Port); err != nil {
		logger.Fatal("Failed to start server: %v", err)
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
