package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"coach-backend/internal/config"
	"coach-backend/internal/handler"
	"coach-backend/internal/model"
	"coach-backend/internal/service"
	"coach-backend/internal/storage"
	"coach-backend/internal/tools"
	"coach-backend/pkg/logger"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

func main() {
	var configPath string
	flag.StringVar(&configPath, "config", "./configs/config.yaml", "配置文件路径")
	flag.Parse()

	// 加载配置
	cfg, err := config.Load(configPath)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	// 初始化日志
	if err := logger.Init(cfg.Log.Level, cfg.Log.Format); err != nil {
		log.Fatalf("Failed to init logger: %v", err)
	}

	store := initStorage(cfg.Storage)
	chatService := service.NewChatService(store, cfg.Storage.UserID)
	pipeline := service.NewPipeline(buildPipelineDeps(cfg, chatService))
	chatHandler := handler.NewChatHandler(chatService, pipeline)

	router := setupRouter(cfg, chatHandler)

	server := &http.Server{
		Addr:           fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:        router,
		ReadTimeout:    cfg.Server.ReadTimeout,
		WriteTimeout:   cfg.Server.WriteTimeout,
		MaxHeaderBytes: cfg.Server.MaxHeaderBytes,
	}

	go func() {
		logger.Infof("服务器启动在端口 %d", cfg.Server.Port)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatalf("服务器启动失败: %v", err)
		}
	}()

	// 等待信号优雅关闭
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("服务器正在关闭...")
	ctx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()
	if err := server.Shutdown(ctx); err != nil {
		logger.Errorf("服务器关闭失败: %v", err)
	}

	// 等后台保存完成再关闭存储
	pipeline.Shutdown()
	if err := store.Close(); err != nil {
		logger.Errorf("存储关闭失败: %v", err)
	}
	logger.Info("服务器已关闭")
}

func initStorage(cfg config.StorageConfig) storage.ConversationStore {
	store, err := storage.New(cfg)
	if err == nil {
		err = store.Init()
	}
	if err != nil {
		logger.Errorf("Failed to initialize %s storage, falling back to memory: %v", cfg.Type, err)
		store = storage.NewMemoryStore()
		store.Init()
	}
	return store
}

func buildPipelineDeps(cfg *config.Config, chatService *service.ChatService) service.PipelineDeps {
	deps := service.PipelineDeps{
		Config:  cfg.Pipeline,
		Primary: model.NewHTTPStreamClient(cfg.Primary, cfg.Pipeline.UpstreamIdleTimeout),
		Chats:   chatService,
	}

	if cfg.Critic.BaseURL != "" && cfg.Critic.Model != "" {
		deps.Critic = model.NewHTTPStreamClient(cfg.Critic, cfg.Pipeline.UpstreamIdleTimeout)
	} else {
		logger.Warn("Critic model not configured, test mode is disabled")
	}

	if cfg.Search.APIKey != "" {
		deps.Searcher = tools.NewTavilySearcher(cfg.Search)
	} else {
		logger.Warn("TAVILY_API_KEY not set, web search is disabled")
	}

	titleModel, err := model.NewTitleModel(context.Background(), cfg.Title)
	if err != nil {
		logger.Warnf("Failed to create title model, titles fall back to the first message: %v", err)
	}
	deps.Titles = model.NewTitleGenerator(titleModel)

	return deps
}

func setupRouter(cfg *config.Config, chatHandler *handler.ChatHandler) *gin.Engine {
	gin.SetMode(gin.ReleaseMode)

	router := gin.New()
	router.Use(gin.Logger())
	router.Use(gin.Recovery())

	corsConfig := cors.Config{
		AllowOrigins:     cfg.CORS.AllowedOrigins,
		AllowMethods:     cfg.CORS.AllowedMethods,
		AllowHeaders:     cfg.CORS.AllowedHeaders,
		ExposeHeaders:    cfg.CORS.ExposedHeaders,
		AllowCredentials: cfg.CORS.AllowCredentials,
		MaxAge:           time.Duration(cfg.CORS.MaxAge) * time.Second,
	}
	router.Use(cors.New(corsConfig))

	router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"status":    "ok",
			"timestamp": time.Now().Unix(),
		})
	})

	if cfg.Metrics.Enabled {
		router.GET(cfg.Metrics.Path, gin.WrapH(promhttp.Handler()))
	}

	api := router.Group("/api")
	if cfg.RateLimit.Enabled {
		api.Use(handler.RateLimit(cfg.RateLimit))
	}
	{
		api.POST("/chat", chatHandler.Dispatch)
		api.POST("/chat/stream", chatHandler.StreamChat)

		conversations := api.Group("/conversations")
		{
			conversations.GET("", chatHandler.ListConversations)
			conversations.GET("/:id", chatHandler.GetConversation)
			conversations.DELETE("/:id", chatHandler.DeleteConversation)
			conversations.PUT("/:id", chatHandler.RenameConversation)
		}
	}

	return router
}
