package api

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"shotnews/internal/api/auth"
	"shotnews/internal/api/digest"
	"shotnews/internal/api/middleware"
	"shotnews/internal/config"
	"shotnews/internal/model"
	"shotnews/internal/pkg/media"
	"shotnews/internal/pkg/metrics"
	"shotnews/internal/pkg/notify"
	"shotnews/internal/pkg/queue"
	"shotnews/internal/pkg/ratelimit"
	"shotnews/internal/pkg/viewcount"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"gorm.io/driver/mysql"
	"gorm.io/gorm"
	gormLogger "gorm.io/gorm/logger"
)

// Server 封装了 API 服务所需的依赖和路由处理。
//
// 它持有数据库连接、Redis 客户端、对象存储客户端以及 Gin 路由引擎。
type Server struct {
	cfg       *config.Config
	logger    *slog.Logger
	db        *gorm.DB
	rdb       *redis.Client
	router    *gin.Engine
	auth      *auth.Handler
	users     userStore
	views     ViewCounter
	media     media.Store
	mailQueue *queue.Queue
	digest    *digest.Digest
}

// ViewCounter 浏览计数器接口（Redis 实现见 pkg/viewcount）。
type ViewCounter interface {
	Incr(ctx context.Context, newsID uint) (int64, error)
	Top(ctx context.Context, n int) ([]uint, error)
	Remove(ctx context.Context, newsID uint) error
}

// userStore 同时满足 auth.UserStore 与 middleware.UserLoader。
type userStore interface {
	auth.UserStore
	middleware.UserLoader
}

// dbUserStore 基于 gorm 的用户存储。
type dbUserStore struct {
	db *gorm.DB
}

func (s dbUserStore) UserByEmail(ctx context.Context, email string) (*model.User, error) {
	var user model.User
	err := s.db.WithContext(ctx).Where("email = ?", email).First(&user).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &user, nil
}

func (s dbUserStore) UserByID(ctx context.Context, id uint) (*model.User, error) {
	var user model.User
	err := s.db.WithContext(ctx).First(&user, id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &user, nil
}

func (s dbUserStore) CreateUser(ctx context.Context, user *model.User) error {
	return s.db.WithContext(ctx).Create(user).Error
}

func (s dbUserStore) UpdateUser(ctx context.Context, id uint, updates map[string]interface{}) error {
	return s.db.WithContext(ctx).Model(&model.User{}).Where("id = ?", id).Updates(updates).Error
}

func (s dbUserStore) LoadProfile(ctx context.Context, id uint) (*model.User, error) {
	var user model.User
	err := s.db.WithContext(ctx).
		Preload("Subscriptions").
		Preload("SavedNews").
		First(&user, id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &user, nil
}

// NewServer 初始化 API 服务器。
//
// 它负责：
// 1. 连接 MySQL 数据库并执行自动迁移
// 2. 连接 Redis
// 3. 初始化对象存储客户端（未配置则禁用图片上传）
// 4. 初始化 Gin 路由引擎
func NewServer(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*Server, error) {
	db, err := gorm.Open(mysql.Open(cfg.MySQL.DSN), &gorm.Config{
		Logger:         gormLogger.Default.LogMode(gormLogger.Silent),
		TranslateError: true,
	})
	if err != nil {
		return nil, err
	}
	if err := db.AutoMigrate(&model.User{}, &model.Category{}, &model.News{}, &model.Comment{}); err != nil {
		return nil, err
	}

	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       0,
	})
	if err := rdb.Ping(ctx).Err(); err != nil {
		return nil, err
	}

	metrics.InitMetrics()

	var mediaStore media.Store
	if cfg.Media.Bucket != "" {
		store, err := media.NewS3Store(ctx, &cfg.Media)
		if err != nil {
			return nil, err
		}
		mediaStore = store
	} else {
		logger.Warn("media bucket not configured, image upload disabled")
	}

	mailer := notify.NewEmailNotifier(&cfg.Email, logger)
	mailQueue := queue.NewQueue(logger, cfg.App.QueueWorkers, cfg.App.QueueCapacity)

	users := dbUserStore{db: db}
	authHandler := auth.NewHandler(users, cfg.Security.JWTSecret, cfg.App.TokenTTL, cfg.App.ResetTTL, mailer, mailQueue, logger)

	gin.SetMode(gin.ReleaseMode)
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(middleware.RequestLogger(logger))

	s := &Server{
		cfg:       cfg,
		logger:    logger,
		db:        db,
		rdb:       rdb,
		router:    r,
		auth:      authHandler,
		users:     users,
		views:     viewcount.NewCounter(rdb),
		media:     mediaStore,
		mailQueue: mailQueue,
		digest:    digest.New(db, logger, mailer, mailQueue, cfg.App.DigestInterval),
	}
	s.registerRoutes()
	return s, nil
}

// Router 返回 HTTP 路由处理器。
func (s *Server) Router() http.Handler {
	return s.router
}

// Start 启动后台组件：邮件队列与订阅摘要循环。
func (s *Server) Start(ctx context.Context) {
	s.mailQueue.Start(ctx)

	go func() {
		defer func() {
			if r := recover(); r != nil {
				s.logger.Error("PANIC in digest loop", slog.Any("panic", r))
			}
		}()
		s.digest.Run(ctx)
	}()
}

// Close 关闭数据库与缓存连接。
func (s *Server) Close() error {
	var firstErr error
	if s.mailQueue != nil {
		s.mailQueue.Shutdown()
	}
	if s.rdb != nil {
		if err := s.rdb.Close(); err != nil {
			firstErr = err
		}
	}
	if s.db != nil {
		sqlDB, err := s.db.DB()
		if err != nil {
			if firstErr == nil {
				firstErr = err
			}
		} else if closeErr := sqlDB.Close(); closeErr != nil {
			if firstErr == nil {
				firstErr = closeErr
			}
		}
	}
	return firstErr
}

// registerRoutes 注册所有的 API 路由。
func (s *Server) registerRoutes() {
	secret := s.cfg.Security.JWTSecret

	// Prometheus metrics 端点
	s.router.GET("/metrics", gin.WrapH(promhttp.Handler()))
	s.router.GET("/healthz", s.handleHealthz)

	limiter := ratelimit.NewRedisRateLimiter(s.rdb, s.cfg.App.RateLimit, s.cfg.App.RateBurst)
	limited := middleware.RateLimit(func(c *gin.Context) bool {
		return limiter.Allow(c.Request.Context(), c.ClientIP())
	})

	authGroup := s.router.Group("/auth")
	authGroup.POST("/register", limited, s.auth.Register)
	authGroup.POST("/login", limited, s.auth.Login)
	authGroup.POST("/logout", s.auth.Logout)
	authGroup.POST("/forgot-password", limited, s.auth.ForgotPassword)
	authGroup.POST("/reset-password", s.auth.ResetPassword)
	authGroup.GET("/user", middleware.AuthRequired(secret, s.users), s.auth.CurrentUser)

	// 公开读取接口：携带有效令牌时可看到额外内容（管理员可见私有新闻）
	public := s.router.Group("/")
	public.Use(middleware.AuthOptional(secret, s.users))
	public.GET("/news", s.handleListNews)
	public.GET("/news/trending", s.handleTrendingNews)
	public.GET("/news/:id", s.handleGetNews)
	public.GET("/news/:id/comments", s.handleListComments)
	public.GET("/categories", s.handleListCategories)

	authed := s.router.Group("/")
	authed.Use(middleware.AuthRequired(secret, s.users))
	authed.GET("/me", s.auth.CurrentUser)
	authed.POST("/news/:id/comments", s.handleCreateComment)
	authed.DELETE("/comments/:id", s.handleDeleteComment)
	authed.POST("/me/subscriptions/:categoryID", s.handleSubscribe)
	authed.DELETE("/me/subscriptions/:categoryID", s.handleUnsubscribe)
	authed.POST("/me/saved-news/:newsID", s.handleSaveNews)
	authed.DELETE("/me/saved-news/:newsID", s.handleUnsaveNews)

	admin := s.router.Group("/")
	admin.Use(middleware.AuthRequired(secret, s.users))
	admin.Use(middleware.RequireRoles(model.RoleAdmin))
	admin.POST("/news", s.handleCreateNews)
	admin.PUT("/news/:id", s.handleUpdateNews)
	admin.DELETE("/news/:id", s.handleDeleteNews)
	admin.POST("/news/:id/image", s.handleUploadNewsImage)
	admin.POST("/categories", s.handleCreateCategory)
	admin.PUT("/categories/:id", s.handleUpdateCategory)
	admin.DELETE("/categories/:id", s.handleDeleteCategory)
	admin.GET("/users", s.handleListUsers)
	admin.PATCH("/users/:id/block", s.handleBlockUser)
	admin.PATCH("/users/:id/role", s.handleChangeRole)
	admin.DELETE("/users/:id", s.handleDeleteUser)
}

func (s *Server) handleHealthz(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Second)
	defer cancel()

	if s.db == nil || s.rdb == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"status": "error"})
		return
	}

	var one int
	if err := s.db.WithContext(ctx).Raw("SELECT 1").Scan(&one).Error; err != nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"status": "error"})
		return
	}
	if err := s.rdb.Ping(ctx).Err(); err != nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"status": "error"})
		return
	}

	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

// parseQueryInt 解析查询参数中的整数值。
func parseQueryInt(c *gin.Context, key string, def int) int {
	val := c.Query(key)
	if val == "" {
		return def
	}
	iv, err := strconv.Atoi(val)
	if err != nil {
		return def
	}
	return iv
}

// parseIDParam 解析路径参数中的数字 ID。
func parseIDParam(c *gin.Context, name string) (uint, bool) {
	raw := c.Param(name)
	id, err := strconv.ParseUint(raw, 10, 64)
	if err != nil || id == 0 {
		return 0, false
	}
	return uint(id), true
}

func getUserID(c *gin.Context) uint {
	return c.GetUint("userID")
}

func getUserRole(c *gin.Context) string {
	role, ok := c.Get("role")
	if !ok {
		return ""
	}
	if s, ok := role.(string); ok {
		return s
	}
	return ""
}

func isAdmin(c *gin.Context) bool {
	return strings.EqualFold(getUserRole(c), model.RoleAdmin)
}
