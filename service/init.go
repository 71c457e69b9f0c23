/*
 * @module service/init
 * @description 服务初始化模块，负责数据库连接、迁移与各业务服务的装配
 * @architecture 分层架构 - 服务层
 * @documentReference dev_docs/backend_requirements.md
 * @stateFlow 应用启动时执行初始化流程：数据库 -> 迁移 -> 决策/工作流服务 -> 调度与事件监听
 * @rules 确保所有依赖服务正常启动后才提供API服务
 * @dependencies gorm.io/gorm, gorm.io/driver/postgres
 * @refs dev_docs/model.md
 */

package service

import (
	"devmonitor-service/service/cleanup"
	"devmonitor-service/service/config"
	"devmonitor-service/service/database"
	"devmonitor-service/service/decision"
	"devmonitor-service/service/distributed_lock"
	"devmonitor-service/service/event"
	"devmonitor-service/service/intake"
	"devmonitor-service/service/models"
	"devmonitor-service/service/rate_limiter"
	"devmonitor-service/service/workflow"
	"fmt"
	"log"
	"os"
	"strings"

	"gorm.io/driver/postgres"
	"gorm.io/gorm"
)

var (
	DB                    *gorm.DB
	GlobalEventService    *event.EventService
	GlobalConfigService   *config.ConfigService
	GlobalDecisionService *decision.Service
	GlobalDecisionRuntime *decision.Runtime
	GlobalRuleRegistry    *decision.RuleRegistry
	GlobalWorkflowService *workflow.Service
	GlobalWorkflowEngine  *workflow.Engine
	GlobalScheduler       *workflow.Scheduler
	GlobalIntakeService   *intake.Service
	GlobalCleanupService  *cleanup.LogCleanupService
	GlobalRateLimiter     *rate_limiter.RedisRateLimiter
)

func init() {
	initDatabase()
	runMigrations()
	initServices()
}

// initDatabase 初始化数据库连接
func initDatabase() {
	var dsn string

	// 优先使用DATABASE_URL环境变量
	if databaseURL := os.Getenv("DATABASE_URL"); databaseURL != "" {
		dsn = databaseURL
	} else {
		// 使用分离的环境变量构建连接字符串
		host := getEnvWithDefault("DB_HOST", "localhost")
		port := getEnvWithDefault("DB_PORT", "5432")
		user := getEnvWithDefault("DB_USER", "postgres")
		password := getEnvWithDefault("DB_PASSWORD", "things2024")
		dbname := getEnvWithDefault("DB_NAME", "postgres")
		sslmode := getEnvWithDefault("DB_SSLMODE", "disable")
		schema := getEnvWithDefault("DB_SCHEMA", "public")

		dsn = fmt.Sprintf("host=%s port=%s user=%s password=%s dbname=%s sslmode=%s search_path=%s TimeZone=Asia/Shanghai",
			host, port, user, password, dbname, sslmode, schema)
	}

	var err error
	DB, err = gorm.Open(postgres.Open(dsn), &gorm.Config{})
	if err != nil {
		log.Fatalf("数据库连接失败: %v", err)
	}

	log.Println("数据库连接成功")
}

// getEnvWithDefault 获取环境变量，如果不存在则返回默认值
func getEnvWithDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// runMigrations 运行数据库迁移
func runMigrations() {
	log.Println("开始运行数据库迁移...")

	if err := database.AutoMigrate(DB); err != nil {
		log.Fatalf("数据库迁移失败: %v", err)
	}
	log.Println("数据库表结构迁移完成")

	if err := database.InitializeData(DB); err != nil {
		log.Fatalf("基础数据初始化失败: %v", err)
	}
	log.Println("基础数据初始化完成")
}

// initServices 初始化服务
func initServices() {
	GlobalConfigService = config.NewConfigService(DB)
	GlobalEventService = event.NewEventService(DB)

	// 决策子系统：规则注册表 -> 动作分发 -> 运行时
	GlobalRuleRegistry = decision.NewRuleRegistry(DB)
	if _, err := GlobalRuleRegistry.Load(); err != nil {
		log.Printf("规则注册表初始加载失败: %v", err)
	}
	cooldown := decision.NewCooldownTracker()
	dispatcher := decision.NewActionDispatcher(
		decision.NewAlertSender(DB),
		decision.NewNotifySender(notifyChannelURLs()),
		decision.NewTicketSender(getEnvWithDefault("TICKET_ENDPOINT", "")),
	)
	GlobalDecisionRuntime = decision.NewRuntime(DB, GlobalRuleRegistry, dispatcher, cooldown)
	GlobalDecisionService = decision.NewService(DB, GlobalRuleRegistry, GlobalDecisionRuntime, cooldown)

	// 工作流子系统：执行引擎 -> 管理服务 -> 调度器
	executors := workflow.NewExecutorRegistry(DB, workflow.NewYaegiScriptExecutor())
	GlobalWorkflowEngine = workflow.NewEngine(DB, executors)
	GlobalWorkflowService = workflow.NewService(DB, GlobalWorkflowEngine)

	var lockExecutor *distributed_lock.LockExecutor
	if os.Getenv("REDIS_HOST") != "" {
		redisLock, err := distributed_lock.NewRedisLock()
		if err != nil {
			log.Printf("Redis分布式锁初始化失败，调度器按单实例模式运行: %v", err)
		} else {
			lockExecutor = distributed_lock.NewLockExecutor(redisLock)
		}

		limiter, err := rate_limiter.NewRedisRateLimiter()
		if err != nil {
			log.Printf("Redis限流器初始化失败，webhook触发不做限流: %v", err)
		} else {
			GlobalRateLimiter = limiter
		}
	}
	GlobalScheduler = workflow.NewScheduler(DB, GlobalWorkflowService, lockExecutor)
	if err := GlobalScheduler.Start(); err != nil {
		log.Printf("启动工作流调度器失败: %v", err)
	}

	// 数据库变更监听：规则表变更热加载注册表，工作流表变更刷新调度
	GlobalEventService.RegisterDBEventProcessor(event.NewReloadProcessor(
		models.DecisionRule{}.TableName(), func() error {
			_, err := GlobalRuleRegistry.Reload()
			return err
		}))
	GlobalEventService.RegisterDBEventProcessor(event.NewReloadProcessor(
		models.Workflow{}.TableName(), func() error {
			return GlobalScheduler.Reload()
		}))

	// 遥测事件接入（MQTT/Kafka来源按环境变量启用）
	GlobalIntakeService = intake.NewService(DB, GlobalDecisionRuntime, GlobalWorkflowEngine)
	initTelemetrySources()
	GlobalIntakeService.Start()

	// 历史数据清理
	GlobalCleanupService = cleanup.NewLogCleanupService(DB, GlobalConfigService)
	if err := GlobalCleanupService.StartScheduledCleanup(); err != nil {
		log.Printf("启动历史数据清理失败: %v", err)
	}

	log.Println("服务初始化完成")
}

// notifyChannelURLs 从环境变量解析通知渠道，格式: name1=url1,name2=url2
func notifyChannelURLs() map[string]string {
	channels := make(map[string]string)
	raw := os.Getenv("NOTIFY_CHANNELS")
	if raw == "" {
		return channels
	}
	for _, pair := range strings.Split(raw, ",") {
		parts := strings.SplitN(strings.TrimSpace(pair), "=", 2)
		if len(parts) == 2 && parts[0] != "" && parts[1] != "" {
			channels[parts[0]] = parts[1]
		}
	}
	return channels
}

// initTelemetrySources 按环境变量装配遥测来源
func initTelemetrySources() {
	if broker := os.Getenv("MQTT_BROKER"); broker != "" {
		topics := strings.Split(getEnvWithDefault("MQTT_TOPICS", "devices/+/telemetry"), ",")
		GlobalIntakeService.AddSource(intake.NewMQTTSource(&intake.MQTTSourceConfig{
			Broker:   broker,
			ClientID: getEnvWithDefault("MQTT_CLIENT_ID", "devmonitor-service"),
			Username: os.Getenv("MQTT_USERNAME"),
			Password: os.Getenv("MQTT_PASSWORD"),
			Topics:   topics,
			QoS:      1,
		}, GlobalIntakeService))
	}
	if brokers := os.Getenv("KAFKA_BROKERS"); brokers != "" {
		GlobalIntakeService.AddSource(intake.NewKafkaSource(&intake.KafkaSourceConfig{
			Brokers: strings.Split(brokers, ","),
			Topic:   getEnvWithDefault("KAFKA_TOPIC", "device-events"),
			GroupID: getEnvWithDefault("KAFKA_GROUP_ID", "devmonitor-service"),
		}, GlobalIntakeService))
	}
}
