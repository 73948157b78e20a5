package server

import (
	"context"
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog/log"
	swaggerFiles "github.com/swaggo/files"
	ginSwagger "github.com/swaggo/gin-swagger"

	"pomelo/internal/ai"
	"pomelo/internal/config"
	"pomelo/internal/handler"
	"pomelo/internal/pkg/cache"
	"pomelo/internal/pkg/mongodb"
	"pomelo/internal/pkg/ollama"
	"pomelo/internal/pkg/websearch"
	"pomelo/internal/repository"
	"pomelo/internal/server/middleware"
	"pomelo/internal/service"
)

// Server HTTP 服务器
type Server struct {
	cfg    *config.Config
	engine *gin.Engine
	mongo  *mongodb.Client
	redis  *cache.RedisCache
}

// New 创建服务器实例
func New(cfg *config.Config) (*Server, error) {
	// 设置 Gin 模式
	switch cfg.Server.Mode {
	case "debug":
		gin.SetMode(gin.DebugMode)
	case "test":
		gin.SetMode(gin.TestMode)
	default:
		gin.SetMode(gin.ReleaseMode)
	}

	// 创建 Gin 引擎
	engine := gin.New()

	// 初始化 MongoDB
	mongoClient, err := mongodb.New(&cfg.Mongo)
	if err != nil {
		return nil, err
	}
	log.Info().Str("database", cfg.Mongo.Database).Msg("connected to MongoDB")

	// 创建索引
	if err := mongodb.EnsureIndexes(mongoClient.Database()); err != nil {
		log.Warn().Err(err).Msg("failed to ensure indexes")
	}

	// 初始化 Redis (可选)
	var redisCache *cache.RedisCache
	if cfg.Redis.Addr != "" {
		rc, err := cache.NewRedisCache(&cfg.Redis)
		if err != nil {
			log.Warn().Err(err).Msg("failed to connect to Redis, continuing without cache")
		} else {
			redisCache = rc
			log.Info().Str("addr", cfg.Redis.Addr).Msg("connected to Redis")
		}
	}

	srv := &Server{
		cfg:    cfg,
		engine: engine,
		mongo:  mongoClient,
		redis:  redisCache,
	}

	// 组装依赖并设置路由
	srv.setupRoutes()

	return srv, nil
}

// setupRoutes 组装服务依赖并设置路由
func (s *Server) setupRoutes() {
	// 全局中间件
	s.engine.Use(middleware.Recovery())
	s.engine.Use(middleware.RequestID())
	s.engine.Use(middleware.Logger())
	s.engine.Use(middleware.CORS())

	// 基础依赖
	repo := repository.NewConversationRepo(s.mongo.Database())
	inference := ollama.NewClient(s.cfg.Ollama.BaseURL, s.cfg.Ollama.Timeout)
	searchClient := websearch.NewClient(s.cfg.Search.BaseURL, s.cfg.Search.Timeout)
	augmenter := service.NewSearchAugmenter(searchClient, s.cfg.Search.MaxResults, s.cfg.Search.SnippetLength)
	composer := ai.NewComposer(s.cfg.Prompt.MaxChars)

	chatSvc := service.NewChatService(repo, inference, augmenter, composer, s.redis,
		s.cfg.Ollama.DefaultModel, s.cfg.Search.EnableDefault)

	// 处理器
	healthHdl := handler.NewHealthHandler()
	chatHdl := handler.NewChatHandler(chatSvc)
	convHdl := handler.NewConversationHandler(chatSvc)
	modelHdl := handler.NewModelHandler(chatSvc)

	// 基础接口
	s.engine.GET("/", healthHdl.Root)
	s.engine.GET("/health", healthHdl.Health)

	// Swagger 文档
	s.engine.GET("/swagger/*any", ginSwagger.WrapHandler(swaggerFiles.Handler))

	// 业务接口
	s.engine.POST("/chat", chatHdl.Chat)
	s.engine.GET("/models", modelHdl.List)
	s.engine.GET("/conversations", convHdl.List)
	s.engine.GET("/conversations/:id", convHdl.Get)
	s.engine.GET("/conversations/:id/messages", convHdl.GetMessages)
	s.engine.DELETE("/conversations/:id", convHdl.Delete)
	s.engine.DELETE("/conversations/:id/messages", convHdl.ClearMessages)
}

// Run 启动服务器
func (s *Server) Run(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:         addr,
		Handler:      s.engine,
		ReadTimeout:  s.cfg.Server.ReadTimeout,
		WriteTimeout: s.cfg.Server.WriteTimeout,
	}

	// 启动服务器
	errCh := make(chan error, 1)
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	// 等待关闭信号或错误
	select {
	case <-ctx.Done():
		log.Info().Msg("shutting down server...")

		// 关闭连接
		if s.mongo != nil {
			if err := s.mongo.Close(context.Background()); err != nil {
				log.Error().Err(err).Msg("failed to close MongoDB connection")
			}
		}
		if s.redis != nil {
			if err := s.redis.Close(); err != nil {
				log.Error().Err(err).Msg("failed to close Redis connection")
			}
		}

		return srv.Shutdown(context.Background())
	case err := <-errCh:
		return err
	}
}

// Engine 获取 Gin 引擎 (用于测试)
func (s *Server) Engine() *gin.Engine {
	return s.engine
}
