package main

import (
	"context"
	"database/sql"
	"fmt"
	"log"
	"time"

	"github.com/IBM/sarama"
	"github.com/gin-gonic/gin"
	_ "github.com/go-sql-driver/mysql"
	"github.com/redis/go-redis/v9"
	"github.com/spf13/viper"

	"github.com/naumanshiraz/collab-editor/internal/cache"
	"github.com/naumanshiraz/collab-editor/internal/collab"
	"github.com/naumanshiraz/collab-editor/internal/httpapi/handlers"
	"github.com/naumanshiraz/collab-editor/internal/httpapi/middleware"
	"github.com/naumanshiraz/collab-editor/internal/store"
	"github.com/naumanshiraz/collab-editor/internal/ws"
)

type CollabConfig struct {
	Running struct {
		Port int `mapstructure:"Port"`
	} `mapstructure:"Running"`
	Mysql struct {
		DSN string `mapstructure:"dsn"`
	} `mapstructure:"Mysql"`
	Redis struct {
		Addrs    []string `mapstructure:"addrs"`
		Password string   `mapstructure:"password"`
	} `mapstructure:"Redis"`
	Kafka struct {
		Brokers []string `mapstructure:"brokers"`
		Topic   string   `mapstructure:"topic"`
	} `mapstructure:"Kafka"`
	Room struct {
		Limit int `mapstructure:"limit"`
	} `mapstructure:"Room"`
	Merge struct {
		LowConfidenceThreshold float64 `mapstructure:"lowConfidenceThreshold"`
		RejectBelowThreshold   bool    `mapstructure:"rejectBelowThreshold"`
	} `mapstructure:"Merge"`
	Doc struct {
		DefaultID string `mapstructure:"defaultId"`
	} `mapstructure:"Doc"`
	Auth struct {
		Secret string `mapstructure:"secret"`
	} `mapstructure:"Auth"`
}

func initConfig() (*CollabConfig, error) {
	cfg := &CollabConfig{}
	v := viper.New()
	v.SetConfigName("collabConfig")
	v.SetConfigType("yaml")
	// 兼容从项目根目录或 cmd 目录启动
	v.AddConfigPath("./config")
	v.AddConfigPath("../../config")
	v.AddConfigPath(".")
	v.SetDefault("Running.Port", 4000)
	v.SetDefault("Room.limit", collab.DefaultRoomLimit)
	v.SetDefault("Merge.lowConfidenceThreshold", 0.5)
	v.SetDefault("Merge.rejectBelowThreshold", false)
	v.SetDefault("Doc.defaultId", "shared-doc")
	if err := v.ReadInConfig(); err != nil {
		return nil, err
	}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

func main() {
	cfg, err := initConfig()
	if err != nil {
		log.Fatalf("init config failed: %v", err)
	}
	log.Printf("config: %+v", cfg)

	rdb := redis.NewUniversalClient(&redis.UniversalOptions{
		Addrs:    cfg.Redis.Addrs,
		Password: cfg.Redis.Password,
	})
	if err = rdb.Ping(context.Background()).Err(); err != nil {
		log.Fatalf("Failed to connect to redis: %v", err)
	}
	defer rdb.Close()

	db, err := sql.Open("mysql", cfg.Mysql.DSN+"?parseTime=true")
	if err != nil {
		log.Fatalf("Failed to connect to database: %v", err)
	}
	defer db.Close()

	documentStore := store.NewDocumentStore(db)
	if err := documentStore.EnsureSchema(context.Background()); err != nil {
		log.Fatalf("Failed to ensure schema: %v", err)
	}

	// === 初始化审计链路（Kafka，可选） ===
	var audit *collab.AuditDispatcher
	if len(cfg.Kafka.Brokers) > 0 {
		kafkaCfg := sarama.NewConfig()
		// SyncProducer 必须开启 Return.Successes
		kafkaCfg.Producer.Return.Successes = true
		kafkaCfg.Producer.RequiredAcks = sarama.WaitForLocal
		producer, err := sarama.NewSyncProducer(cfg.Kafka.Brokers, kafkaCfg)
		if err != nil {
			log.Fatalf("Failed to connect kafka: %v", err)
		}
		defer producer.Close()

		auditSem := collab.NewSemaphoreControl(0)
		// 本地队列 + worker 重试发送
		audit = collab.NewAuditDispatcher(
			producer,
			cfg.Kafka.Topic,
			auditSem,
			collab.AuditDispatcherOptions{
				QueueSize:   10_000,
				Workers:     4,
				MaxRetry:    3,
				BaseBackoff: 50 * time.Millisecond,
				MaxBackoff:  1 * time.Second,
			},
		)
	} else {
		log.Printf("kafka brokers not configured, merge audit events disabled")
	}

	rooms := collab.NewRoomRegistry(cfg.Room.Limit)
	policy := collab.MergePolicy{
		LowConfidenceThreshold: cfg.Merge.LowConfidenceThreshold,
		RejectBelowThreshold:   cfg.Merge.RejectBelowThreshold,
	}
	engine := collab.NewEngine(documentStore, rooms, collab.NewDiffMatchPatchCodec(), policy, audit)

	presenceCache := cache.NewRedisPresence(rdb)
	hub := ws.NewHub(presenceCache)
	wsSem := collab.NewSemaphoreControl(0)
	manager := ws.NewManager(hub, engine, wsSem, cfg.Doc.DefaultID)
	docHandler := handlers.NewDocumentHandler(engine, presenceCache)

	r := gin.New()
	// 中间件
	r.Use(gin.Logger())
	r.Use(gin.Recovery())

	// 路由
	collabGroup := r.Group("/collab")
	// 可选 token 身份（本地 HS256 校验），无 token 时 join 消息自带身份
	collabGroup.Use(middleware.IdentityMiddleware(cfg.Auth.Secret))
	collabGroup.GET("/ws", manager.WebSocketConnect)
	collabGroup.GET("/healthz", func(c *gin.Context) {
		c.JSON(200, gin.H{
			"message": "ok",
		})
	})

	// 只读检索面
	r.GET("/doc/:docId", docHandler.GetDocument)
	r.GET("/rooms", docHandler.GetRooms)

	port := cfg.Running.Port
	_ = r.Run(fmt.Sprintf(":%d", port))
}
