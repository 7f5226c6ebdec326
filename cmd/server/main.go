// Package main 是应用程序的入口点。
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"baguette-chat-go/internal/config"
	"baguette-chat-go/internal/events"
	"baguette-chat-go/internal/handler"
	"baguette-chat-go/internal/middleware"
	"baguette-chat-go/internal/pipeline"
	"baguette-chat-go/internal/rag"
	"baguette-chat-go/internal/repository"
	"baguette-chat-go/internal/service"
	"baguette-chat-go/pkg/database"
	"baguette-chat-go/pkg/embedding"
	"baguette-chat-go/pkg/es"
	"baguette-chat-go/pkg/kafka"
	"baguette-chat-go/pkg/llm"
	"baguette-chat-go/pkg/log"
	"baguette-chat-go/pkg/schedule"
	"baguette-chat-go/pkg/storage"
	"baguette-chat-go/pkg/tika"
	"baguette-chat-go/pkg/token"
	"baguette-chat-go/pkg/workers"

	"github.com/gin-gonic/gin"
)

func main() {
	configPath := "./configs/config.yaml"
	if p := os.Getenv("BAGUETTE_CONFIG"); p != "" {
		configPath = p
	}

	// 1. 初始化配置
	config.Init(configPath)
	cfg := config.Conf

	// 2. 初始化日志记录器
	log.Init(cfg.Log.Level, cfg.Log.Format, cfg.Log.OutputPath)
	defer log.Sync() // 确保在程序退出时刷新所有缓冲的日志条目
	log.Info("日志记录器初始化成功")

	rootCtx, stopAll := context.WithCancel(context.Background())
	defer stopAll()

	// 3. 初始化数据库、Redis、对象存储
	database.InitMySQL(cfg.Database.MySQL.DSN)
	defer database.Close()
	if cfg.Database.MySQL.AutoMigrate {
		if err := database.AutoMigrate(database.DB); err != nil {
			log.Fatal("数据库迁移失败", err)
		}
	}
	database.InitRedis(cfg.Database.Redis)
	storage.InitMinIO(cfg.MinIO)

	// 4. 初始化 Repository
	clientRepo := repository.NewClientRepository(database.DB)
	conversationRepo := repository.NewConversationRepository(database.DB)
	messageRepo := repository.NewMessageRepository(database.DB)
	documentRepo := repository.NewDocumentRepository(database.DB)
	chunkRepo := repository.NewChunkRepository(database.DB)
	modelRepo := repository.NewModelConfigRepository(database.DB)
	taskRepo := repository.NewTaskRepository(database.RDB)

	modelService := service.NewModelService(modelRepo)
	if err := modelService.Seed(rootCtx); err != nil {
		log.Fatal("写入预置模型失败", err)
	}

	// 5. 关键词索引，可选
	var keywordIndex service.KeywordIndex
	var keywordIndexer pipeline.KeywordIndexer
	if cfg.Elasticsearch.Enabled {
		if err := es.InitES(cfg.Elasticsearch); err != nil {
			log.Errorf("es 初始化失败，关键词搜索不可用: %v", err)
		} else {
			idx := es.NewChunkIndex(es.ESClient, cfg.Elasticsearch.IndexName)
			keywordIndex, keywordIndexer = idx, idx
		}
	}

	// 6. 协程池
	extractPool := mustPool("extract", cfg.Workers.ExtractPoolSize)
	defer extractPool.Release()
	embedPool := mustPool("embed", cfg.Workers.EmbedPoolSize)
	defer embedPool.Release()

	// 7. 文档处理、向量化与检索
	tikaClient := tika.NewClient(cfg.Tika)
	documentProcessor := rag.NewProcessor(map[string]rag.Converter{
		".pdf":  rag.PDFConverter{},
		".docx": rag.DocxConverter{},
		".pptx": rag.TikaConverter{Extractor: tikaClient},
		".xlsx": rag.TikaConverter{Extractor: tikaClient},
		".doc":  rag.TikaConverter{Extractor: tikaClient},
	})
	vectorStore := rag.NewVectorStore(chunkRepo)

	var embedder rag.Embedder
	var retriever service.ContextRetriever
	if cfg.RAG.Enabled && cfg.Embedding.BaseURL != "" {
		generator := rag.NewGenerator(embedding.NewClient(cfg.Embedding), cfg.Embedding)
		embedder = generator
		retriever = rag.NewRetriever(generator, vectorStore)
		log.Infof("向量生成器已启用: model=%s", cfg.Embedding.Model)
		go func() {
			dim, err := generator.Dimension(rootCtx)
			if err != nil {
				log.Warnf("embedding 后端预热失败: %v", err)
				return
			}
			log.Infof("embedding 后端预热完成: model=%s, 维度=%d", cfg.Embedding.Model, dim)
		}()
	} else {
		log.Warnf("未配置 embedding 后端或 RAG 已关闭，文档将只做分块，不做检索增强")
	}

	bus := events.NewBus(cfg.Events.HistorySize, cfg.Events.SubscriberBuffer)
	processor := pipeline.NewProcessor(pipeline.Deps{
		Documents:   documentRepo,
		Objects:     storage.NewObjectStore(storage.MinioClient, cfg.MinIO.BucketName),
		Extractor:   documentProcessor,
		Chunker:     rag.NewChunker(cfg.RAG.ChunkSize, cfg.RAG.ChunkOverlap, nil),
		Embedder:    embedder,
		Store:       vectorStore,
		Keyword:     keywordIndexer,
		Bus:         bus,
		Locker:      taskRepo,
		ExtractPool: extractPool,
		EmbedPool:   embedPool,
		LockTTL:     cfg.RAG.ProcessingTimeout,
	})

	// 8. 摄取任务分派：Kafka 或进程内协程池
	var dispatcher service.Dispatcher
	if cfg.Kafka.Enabled {
		kafka.InitProducer(cfg.Kafka)
		defer kafka.CloseProducer()
		for i := 0; i < max(cfg.Kafka.Consumers, 1); i++ {
			go kafka.NewConsumer(i, cfg.Kafka, processor, taskRepo, pipeline.IsTerminal).Run(rootCtx)
		}
		dispatcher = kafka.Dispatcher{}
	} else {
		ingestPool := mustPool("ingest", cfg.Workers.IngestPoolSize)
		defer ingestPool.Release()
		local := pipeline.NewLocalDispatcher(ingestPool, processor, cfg.RAG.ProcessingTimeout)
		defer local.Close()
		dispatcher = local
		log.Info("Kafka 未启用，摄取任务在进程内执行")
	}

	// 9. 生成后端
	registry := llm.NewRegistry(cfg.LLM)
	for _, name := range cfg.LLM.Warmup {
		go func(name string) {
			if err := registry.Warmup(rootCtx, name); err != nil {
				log.Warnf("%v", err)
			}
		}(name)
	}

	// 10. 初始化 Service
	objects := storage.NewObjectStore(storage.MinioClient, cfg.MinIO.BucketName)
	clientService := service.NewClientService(clientRepo)
	conversationService := service.NewConversationService(clientRepo, conversationRepo, messageRepo, documentRepo, objects, keywordIndex)
	documentService := service.NewDocumentService(service.DocumentDeps{
		Clients:       clientRepo,
		Conversations: conversationRepo,
		Documents:     documentRepo,
		Objects:       objects,
		Dispatcher:    dispatcher,
		Events:        bus,
		Tickets:       token.NewTicketManager(cfg.Ticket.Secret, cfg.Ticket.TTL),
		Keyword:       keywordIndex,
		Supports:      documentProcessor.Supports,
		RAG:           cfg.RAG,
		PublicBaseURL: cfg.Server.PublicBaseURL,
	})
	chatService := service.NewChatService(service.ChatDeps{
		Clients:       clientRepo,
		Conversations: conversationService,
		Messages:      messageRepo,
		Documents:     documentRepo,
		Models:        modelService,
		LLM:           registry,
		Retriever:     retriever,
		Chat:          cfg.Chat,
		RAG:           cfg.RAG,
	})

	// 11. 定时任务
	if cfg.Schedule.Enabled {
		scheduler := schedule.NewCronScheduler()
		if err := scheduler.AddJob(schedule.FuncJob{
			JobName: "event-history-sweep",
			Fn: func(context.Context) error {
				if n := bus.Sweep(cfg.Events.HistoryTTL); n > 0 {
					log.Infof("[Schedule] 已清理 %d 个文档的事件历史", n)
				}
				return nil
			},
		}, cfg.Schedule.EventSweepSpec); err != nil {
			log.Fatal("注册定时任务失败", err)
		}
		if err := scheduler.AddJob(schedule.FuncJob{
			JobName: "stale-document-reaper",
			Fn: func(ctx context.Context) error {
				_, err := processor.ReapStale(ctx, cfg.RAG.ProcessingTimeout)
				return err
			},
		}, cfg.Schedule.StaleDocumentSpec); err != nil {
			log.Fatal("注册定时任务失败", err)
		}
		scheduler.Start(rootCtx)
		defer scheduler.Stop()
	}

	// 12. 设置 Gin 模式并创建路由引擎
	gin.SetMode(cfg.Server.Mode)
	r := gin.New() // 使用 New() 创建一个不带默认中间件的引擎
	// 添加我们自定义的日志中间件和 Gin 的 Recovery 中间件
	r.Use(middleware.RequestLogger(), gin.Recovery())
	registerRoutes(r, routes{
		chat:          handler.NewChatHandler(chatService),
		conversations: handler.NewConversationHandler(conversationService),
		documents:     handler.NewDocumentHandler(documentService, cfg.Events.HeartbeatInterval),
		clients:       handler.NewClientHandler(clientService),
		models:        handler.NewModelHandler(modelService),
	})

	// 启动 HTTP 服务器并实现优雅停机
	srv := &http.Server{
		Addr:    fmt.Sprintf(":%s", cfg.Server.Port),
		Handler: r,
	}

	go func() {
		log.Infof("服务启动于 %s", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("HTTP 服务监听失败: %s\n", err)
		}
	}()

	// 等待中断信号以实现优雅停机
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	log.Info("接收到停机信号，正在关闭服务...")

	// 设置一个5秒的超时上下文
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	// 关闭 HTTP 服务器
	if err := srv.Shutdown(ctx); err != nil {
		log.Errorf("HTTP 服务器关闭失败: %v", err)
	}

	// 停止 Kafka 消费者和定时任务，随后按 defer 逆序释放协程池和连接
	stopAll()
	log.Info("服务已优雅关闭")
}

type routes struct {
	chat          *handler.ChatHandler
	conversations *handler.ConversationHandler
	documents     *handler.DocumentHandler
	clients       *handler.ClientHandler
	models        *handler.ModelHandler
}

func registerRoutes(r *gin.Engine, h routes) {
	r.GET("/", handler.Banner)
	r.GET("/ws/chat", h.chat.Handle)

	api := r.Group("/api")
	{
		api.GET("/health", handler.Health)
		api.GET("/models", h.models.ListModels)
		api.GET("/system-prompt-templates", h.models.ListTemplates)

		clients := api.Group("/clients")
		{
			clients.GET("/:client_id", h.clients.Get)
			clients.PATCH("/:client_id", h.clients.Update)
		}

		conversations := api.Group("/conversations")
		{
			conversations.GET("", h.conversations.List)
			conversations.POST("", h.conversations.Create)
			conversations.GET("/:conversation_id", h.conversations.Get)
			conversations.PATCH("/:conversation_id", h.conversations.UpdateTitle)
			conversations.DELETE("/:conversation_id", h.conversations.Delete)
			conversations.POST("/:conversation_id/access", h.conversations.Touch)

			documents := conversations.Group("/:conversation_id/documents")
			{
				documents.POST("", h.documents.Upload)
				documents.GET("", h.documents.List)
				documents.GET("/search", h.documents.Search)
				documents.GET("/:document_id/events", h.documents.Events)
				documents.DELETE("/:document_id", h.documents.Delete)
			}
		}
	}
}

func mustPool(name string, size int) *workers.Pool {
	p, err := workers.NewPool(name, size)
	if err != nil {
		log.Fatal("创建协程池失败", err)
	}
	return p
}
