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

	"chara-chat-go/internal/config"
	"chara-chat-go/internal/handler"
	"chara-chat-go/internal/middleware"
	"chara-chat-go/internal/model"
	"chara-chat-go/internal/pipeline"
	"chara-chat-go/internal/repository"
	"chara-chat-go/internal/service"
	"chara-chat-go/pkg/database"
	"chara-chat-go/pkg/es"
	"chara-chat-go/pkg/kafka"
	"chara-chat-go/pkg/llm"
	"chara-chat-go/pkg/log"
	"chara-chat-go/pkg/storage"
	"chara-chat-go/pkg/token"

	"github.com/gin-gonic/gin"
)

func main() {
	// 1. 初始化配置
	config.Init("./configs/config.yaml")
	cfg := config.Conf

	// 2. 初始化日志记录器
	log.Init(cfg.Log.Level, cfg.Log.Format, cfg.Log.OutputPath)
	defer log.Sync() // 确保在程序退出时刷新所有缓冲的日志条目
	log.Info("日志记录器初始化成功")

	// 3. 初始化数据库、Redis、对象存储与搜索索引
	database.InitMySQL(cfg.Database.MySQL.DSN)
	database.InitRedis(cfg.Database.Redis.Addr, cfg.Database.Redis.Password, cfg.Database.Redis.DB)

	if err := database.DB.AutoMigrate(
		&model.User{},
		&model.Persona{},
		&model.Character{},
		&model.CharacterImage{},
		&model.Chat{},
		&model.ChatMessage{},
	); err != nil {
		log.Fatalf("数据库迁移失败: %v", err)
	}

	store, err := storage.NewStore(cfg.MinIO)
	if err != nil {
		log.Fatalf("对象存储初始化失败: %v", err)
	}
	if err := es.InitES(cfg.Elasticsearch); err != nil {
		log.Errorf("es 初始化失败 %s", err)
		return
	}
	kafka.InitProducer(cfg.Kafka)

	// 4. 初始化 Repository
	userRepo := repository.NewUserRepository(database.DB)
	personaRepo := repository.NewPersonaRepository(database.DB)
	characterRepo := repository.NewCharacterRepository(database.DB)
	chatRepo := repository.NewChatRepository(database.DB)
	chatLocker := repository.NewChatLocker(database.RDB)

	// 5. 初始化 Service (依赖注入)
	jwtManager := token.NewJWTManager(cfg.JWT.Secret, cfg.JWT.AccessTokenExpireHours, cfg.JWT.RefreshTokenExpireDays)
	llmClient := llm.NewClient(cfg.LLM)
	userService := service.NewUserService(userRepo, personaRepo, jwtManager, database.RDB)
	personaService := service.NewPersonaService(personaRepo)
	characterService := service.NewCharacterService(characterRepo, store)
	searchService := service.NewSearchService(cfg.Elasticsearch.IndexName)
	chatService := service.NewChatService(chatRepo, characterRepo, personaRepo, userRepo, chatLocker, llmClient, cfg.Chat)

	// 6. 初始化角色索引管道并启动后台 Kafka 消费者
	processor := pipeline.NewIndexProcessor(characterRepo, cfg.Elasticsearch.IndexName)
	go kafka.StartConsumer(cfg.Kafka, processor)

	// 7. 设置 Gin 模式并创建路由引擎
	gin.SetMode(cfg.Server.Mode)
	r := gin.New() // 使用 New() 创建一个不带默认中间件的引擎
	r.Use(middleware.RequestLogger(), gin.Recovery())

	userHandler := handler.NewUserHandler(userService)
	authHandler := handler.NewAuthHandler(userService)
	personaHandler := handler.NewPersonaHandler(personaService)
	characterHandler := handler.NewCharacterHandler(characterService)
	chatHandler := handler.NewChatHandler(chatService, userService, jwtManager)
	searchHandler := handler.NewSearchHandler(searchService)
	authRequired := middleware.AuthMiddleware(jwtManager, userService, database.RDB)

	// 8. 注册路由
	apiV1 := r.Group("/api/v1")
	{
		// Auth 路由组
		auth := apiV1.Group("/auth")
		{
			auth.POST("/refreshToken", authHandler.RefreshToken)
		}

		users := apiV1.Group("/users")
		{
			// 无需认证的路由 (公开访问)
			users.POST("/register", userHandler.Register)
			users.POST("/login", userHandler.Login)

			// 需要认证的路由 (仅限登录用户访问)
			authed := users.Group("/")
			authed.Use(authRequired)
			{
				authed.GET("/me", userHandler.GetProfile)
				authed.PUT("/me", userHandler.UpdateProfile)
				authed.POST("/logout", userHandler.Logout)
				authed.PUT("/safety-filter", userHandler.SetSafetyFilter)
				authed.PUT("/default-persona", userHandler.SetDefaultPersona)
			}
		}

		// Persona 路由组，需要认证
		personas := apiV1.Group("/personas")
		personas.Use(authRequired)
		{
			personas.POST("", personaHandler.Create)
			personas.GET("", personaHandler.List)
			personas.GET("/:personaId", personaHandler.Get)
			personas.PUT("/:personaId", personaHandler.Update)
			personas.DELETE("/:personaId", personaHandler.Delete)
		}

		// Character 路由组，需要认证
		characters := apiV1.Group("/characters")
		characters.Use(authRequired)
		{
			characters.POST("", characterHandler.Create)
			characters.GET("/mine", characterHandler.ListMine)
			characters.GET("/:characterId", characterHandler.Get)
			characters.PUT("/:characterId", characterHandler.Update)
			characters.DELETE("/:characterId", characterHandler.Delete)
		}

		// Chat 路由组，需要认证
		chats := apiV1.Group("/chats")
		chats.Use(authRequired)
		{
			chats.POST("/find-or-create", chatHandler.FindOrCreate)
			chats.GET("", chatHandler.ListSessions)
		}
		chat := apiV1.Group("/chat")
		chat.Use(authRequired)
		{
			chat.POST("/:chatId", chatHandler.SendMessage)
		}

		// Search 路由组
		search := apiV1.Group("/search")
		search.Use(authRequired)
		{
			search.GET("/characters", searchHandler.SearchCharacters)
		}

		// 管理员路由组，需要同时通过认证和管理员授权两个中间件
		admin := apiV1.Group("/admin")
		admin.Use(authRequired, middleware.AdminAuthMiddleware())
		{
			admin.DELETE("/characters/:characterId", handler.NewAdminHandler(characterService).RemoveCharacter)
		}
	}

	// Chat 路由 (WebSocket)，token 经路径参数认证
	r.GET("/chat/:token", chatHandler.HandleWebsocket)

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

	if err := srv.Shutdown(ctx); err != nil {
		log.Fatalf("HTTP 服务器关闭失败: %v", err)
	}

	log.Info("服务已优雅关闭")
}
