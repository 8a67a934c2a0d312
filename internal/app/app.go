// Package app 提供 fundvault-chain 服务的应用生命周期管理
package app

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
	"github.com/robfig/cron/v3"
	"go.uber.org/zap"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"github.com/fundvault/fundvault-chain/internal/config"
	"github.com/fundvault/fundvault-chain/internal/handler"
	"github.com/fundvault/fundvault-chain/internal/kafka"
	"github.com/fundvault/fundvault-chain/internal/ledger"
	"github.com/fundvault/fundvault-chain/internal/model"
	"github.com/fundvault/fundvault-chain/internal/repository"
	"github.com/fundvault/fundvault-chain/internal/scheduler"
	"github.com/fundvault/fundvault-chain/internal/service"
	"github.com/fundvault/fundvault-chain/pkg/logger"
)

// 合约事件签名 → 事件类型标签
var eventTopics = map[common.Hash]string{
	crypto.Keccak256Hash([]byte("VaultCreated(bytes32,address,uint256)")):        string(model.LedgerEventVaultCreated),
	crypto.Keccak256Hash([]byte("VaultFunded(bytes32,address,uint256)")):         string(model.LedgerEventVaultFunded),
	crypto.Keccak256Hash([]byte("MilestoneCreated(bytes32,bytes32,uint8,uint64)")): string(model.LedgerEventMilestoneCreated),
	crypto.Keccak256Hash([]byte("MilestoneReleased(bytes32,bytes32,uint256)")):   string(model.LedgerEventMilestoneReleased),
	crypto.Keccak256Hash([]byte("VaultClosed(bytes32,string)")):                  string(model.LedgerEventVaultClosed),
}

// App 应用
type App struct {
	cfg *config.Config

	// 基础设施
	db    *gorm.DB
	redis *redis.Client

	// 账本
	ledgerClient *ledger.Client
	fetcher      ledger.Fetcher

	// 仓储
	cursorRepo     repository.CursorRepository
	eventRepo      repository.EventRepository
	deadLetterRepo repository.DeadLetterRepository
	vaultRepo      repository.VaultRepository
	milestoneRepo  repository.MilestoneRepository
	submissionRepo repository.SubmissionRepository

	// 服务
	executor      *service.RetryExecutor
	deadLetterSvc *service.DeadLetterService
	vaultSvc      *service.VaultService
	approvalSvc   *service.ApprovalService
	submissionSvc *service.SubmissionService
	ingestSvc     *service.IngestService

	// Kafka
	kafkaProducer  *kafka.Producer
	eventPublisher kafka.EventPublisher

	// 定时任务
	cron        *cron.Cron
	lockManager *scheduler.LockManager

	// HTTP
	httpServer *http.Server

	// 运行控制
	stopCh chan struct{}
}

// NewApp 创建应用
func NewApp(cfg *config.Config) (*App, error) {
	app := &App{
		cfg:    cfg,
		stopCh: make(chan struct{}),
	}

	if err := app.initInfrastructure(); err != nil {
		return nil, fmt.Errorf("failed to init infrastructure: %w", err)
	}

	if err := app.initLedger(); err != nil {
		return nil, fmt.Errorf("failed to init ledger client: %w", err)
	}

	app.initRepositories()

	if err := app.initKafka(); err != nil {
		return nil, fmt.Errorf("failed to init kafka: %w", err)
	}

	app.initServices()
	app.initScheduler()
	app.initHTTP()

	return app, nil
}

// initInfrastructure 初始化基础设施
func (a *App) initInfrastructure() error {
	// PostgreSQL
	dsn := fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=disable",
		a.cfg.Postgres.Host,
		a.cfg.Postgres.Port,
		a.cfg.Postgres.User,
		a.cfg.Postgres.Password,
		a.cfg.Postgres.Database,
	)

	db, err := gorm.Open(postgres.Open(dsn), &gorm.Config{
		Logger:         gormlogger.Default.LogMode(gormlogger.Silent),
		TranslateError: true,
	})
	if err != nil {
		return fmt.Errorf("failed to connect database: %w", err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		return err
	}
	sqlDB.SetMaxOpenConns(a.cfg.Postgres.MaxConnections)
	sqlDB.SetMaxIdleConns(a.cfg.Postgres.MaxIdleConns)
	sqlDB.SetConnMaxLifetime(time.Duration(a.cfg.Postgres.ConnMaxLifetime) * time.Second)

	a.db = db
	logger.Info("database connected", zap.String("host", a.cfg.Postgres.Host))

	if err := AutoMigrate(a.db); err != nil {
		return fmt.Errorf("auto migrate: %w", err)
	}
	logger.Info("database migrated")

	// Redis
	redisAddr := "localhost:6379"
	if len(a.cfg.Redis.Addresses) > 0 {
		redisAddr = a.cfg.Redis.Addresses[0]
	}

	a.redis = redis.NewClient(&redis.Options{
		Addr:     redisAddr,
		Password: a.cfg.Redis.Password,
		DB:       a.cfg.Redis.DB,
		PoolSize: a.cfg.Redis.PoolSize,
	})

	if err := a.redis.Ping(context.Background()).Err(); err != nil {
		return fmt.Errorf("failed to connect redis: %w", err)
	}
	logger.Info("redis connected", zap.String("addr", redisAddr))

	return nil
}

// initLedger 初始化账本客户端与抓取器
func (a *App) initLedger() error {
	client, err := ledger.NewClient(&ledger.ClientConfig{
		ChainID:         a.cfg.Ledger.ChainID,
		RPCURLs:         []string{a.cfg.Ledger.RPCURL},
		MaxRetries:      3,
		RetryInterval:   time.Second,
		HealthCheckFreq: 30 * time.Second,
	})
	if err != nil {
		return err
	}
	a.ledgerClient = client

	a.fetcher = ledger.NewContractFetcher(client, &ledger.ContractFetcherConfig{
		ContractAddress: common.HexToAddress(a.cfg.Ledger.ContractAddress),
		TopicNames:      eventTopics,
		BatchSpan:       uint64(a.cfg.Ledger.BatchSize),
	})

	logger.Info("ledger client initialized",
		zap.Int64("chain_id", a.cfg.Ledger.ChainID),
		zap.String("contract", a.cfg.Ledger.ContractAddress))

	return nil
}

// initRepositories 初始化仓储
func (a *App) initRepositories() {
	a.cursorRepo = repository.NewCursorRepository(a.db)
	a.eventRepo = repository.NewEventRepository(a.db)
	a.deadLetterRepo = repository.NewDeadLetterRepository(a.db)
	a.vaultRepo = repository.NewVaultRepository(a.db)
	a.milestoneRepo = repository.NewMilestoneRepository(a.db)
	a.submissionRepo = repository.NewSubmissionRepository(a.db)

	logger.Info("repositories initialized")
}

// initKafka 初始化 Kafka
func (a *App) initKafka() error {
	if len(a.cfg.Kafka.Brokers) == 0 {
		a.eventPublisher = kafka.NoopPublisher{}
		logger.Warn("kafka brokers not configured, notifications disabled")
		return nil
	}

	producer, err := kafka.NewProducer(&kafka.ProducerConfig{
		Brokers:  a.cfg.Kafka.Brokers,
		ClientID: a.cfg.Kafka.ClientID,
	})
	if err != nil {
		return fmt.Errorf("failed to create kafka producer: %w", err)
	}
	a.kafkaProducer = producer
	a.eventPublisher = kafka.NewKafkaEventPublisher(producer)

	logger.Info("kafka initialized", zap.Strings("brokers", a.cfg.Kafka.Brokers))
	return nil
}

// initServices 初始化服务
func (a *App) initServices() {
	a.executor = service.NewRetryExecutor(a.deadLetterRepo, &service.RetryExecutorConfig{
		MaxAttempts: a.cfg.Ingest.MaxAttempts,
		BaseDelay:   time.Duration(a.cfg.Ingest.RetryBackoff) * time.Millisecond,
	})

	a.deadLetterSvc = service.NewDeadLetterService(a.deadLetterRepo)
	a.vaultSvc = service.NewVaultService(a.vaultRepo, a.milestoneRepo)

	// 死信重放: 负载即序列化的账本事件，直接重新应用
	a.deadLetterSvc.RegisterReprocessHandler("apply_event", func(ctx context.Context, payload string) error {
		var event model.ParsedEvent
		if err := json.Unmarshal([]byte(payload), &event); err != nil {
			return fmt.Errorf("decode dead letter payload: %w", err)
		}
		return a.vaultSvc.Apply(ctx, &event)
	})
	a.approvalSvc = service.NewApprovalService(a.milestoneRepo, a.eventPublisher)
	a.submissionSvc = service.NewSubmissionService(a.submissionRepo, a.milestoneRepo, a.approvalSvc, a.eventPublisher)

	a.ingestSvc = service.NewIngestService(
		a.fetcher,
		a.cursorRepo,
		a.eventRepo,
		a.executor,
		&service.IngestServiceConfig{
			ServiceName:     a.cfg.Ingest.ConsumerName,
			PollInterval:    time.Duration(a.cfg.Ledger.PollInterval) * time.Second,
			BatchSize:       a.cfg.Ledger.BatchSize,
			InitialPosition: a.cfg.Ledger.InitialPosition,
		},
	)
	a.vaultSvc.RegisterHandlers(a.ingestSvc)

	logger.Info("services initialized")
}

// initScheduler 初始化到期扫描定时任务
func (a *App) initScheduler() {
	a.lockManager = scheduler.NewLockManager(a.redis)
	a.cron = cron.New(cron.WithSeconds())

	lockTTL := time.Duration(a.cfg.Approval.SweepLockTTL) * time.Second

	_, err := a.cron.AddFunc(a.cfg.Approval.SweepCron, func() {
		ctx, cancel := context.WithTimeout(context.Background(), lockTTL)
		defer cancel()

		err := a.lockManager.WithLock(ctx, "deadline-sweep", lockTTL, func(ctx context.Context) error {
			_, err := a.approvalSvc.DeadlineSweep(ctx, 500)
			return err
		})
		if err != nil {
			logger.Error("deadline sweep failed", zap.Error(err))
		}
	})
	if err != nil {
		logger.Fatal("invalid sweep cron expression",
			zap.String("cron", a.cfg.Approval.SweepCron),
			zap.Error(err))
	}

	logger.Info("deadline sweep scheduled", zap.String("cron", a.cfg.Approval.SweepCron))
}

// initHTTP 初始化 HTTP 服务
func (a *App) initHTTP() {
	if a.cfg.Service.Env == "prod" {
		gin.SetMode(gin.ReleaseMode)
	}

	engine := gin.New()
	engine.Use(gin.Recovery())

	router := &handler.Router{
		Validation: handler.NewValidationHandler(a.submissionSvc),
		Milestone:  handler.NewMilestoneHandler(a.approvalSvc, a.vaultSvc, a.milestoneRepo),
		DeadLetter: handler.NewDeadLetterHandler(a.deadLetterSvc),
		System:     handler.NewSystemHandler(a.ingestSvc),
	}
	router.Setup(engine)

	a.httpServer = &http.Server{
		Addr:    fmt.Sprintf(":%d", a.cfg.Service.HTTPPort),
		Handler: engine,
	}
}

// Run 运行应用
func (a *App) Run() error {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := a.ingestSvc.Start(ctx); err != nil {
		return fmt.Errorf("failed to start ingest loop: %w", err)
	}

	a.cron.Start()

	go func() {
		logger.Info("http server listening", zap.Int("port", a.cfg.Service.HTTPPort))
		if err := a.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("http server error", zap.Error(err))
		}
	}()

	// 等待退出信号
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case <-sigCh:
		logger.Info("received shutdown signal")
	case <-a.stopCh:
		logger.Info("shutdown requested")
	}

	return a.shutdown()
}

// shutdown 关闭应用
func (a *App) shutdown() error {
	logger.Info("shutting down...")

	// 停止接收新请求
	if a.httpServer != nil {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := a.httpServer.Shutdown(shutdownCtx); err != nil {
			logger.Error("http shutdown error", zap.Error(err))
		}
	}

	// 停止定时任务
	if a.cron != nil {
		<-a.cron.Stop().Done()
	}

	// 停止摄取循环 (等待进行中的批次)
	if a.ingestSvc != nil && a.ingestSvc.IsRunning() {
		if err := a.ingestSvc.Stop(); err != nil {
			logger.Error("ingest stop error", zap.Error(err))
		}
	}

	// 关闭 Kafka 生产者
	if a.kafkaProducer != nil {
		a.kafkaProducer.Close()
	}

	// 关闭账本客户端
	if a.ledgerClient != nil {
		a.ledgerClient.Close()
	}

	// 关闭 Redis
	if a.redis != nil {
		a.redis.Close()
	}

	// 关闭数据库
	if a.db != nil {
		sqlDB, _ := a.db.DB()
		if sqlDB != nil {
			sqlDB.Close()
		}
	}

	logger.Info("shutdown complete")
	return nil
}

// Stop 停止应用
func (a *App) Stop() {
	close(a.stopCh)
}
