package auth

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"shotnews/internal/model"
	"shotnews/internal/pkg/metrics"
	"shotnews/internal/pkg/notify"
	"shotnews/internal/pkg/queue"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
	"golang.org/x/crypto/bcrypt"
	"gorm.io/gorm"
)

// bcrypt 工作因子，同时用于密码与重置令牌指纹。
const bcryptCost = 12

// resetTokenBytes 重置令牌随机部分的字节数（hex 编码后 64 字符）。
const resetTokenBytes = 32

// UserStore 定义认证流程需要的用户存储操作。
//
// 查询方法在记录不存在时返回 (nil, nil)。
type UserStore interface {
	UserByEmail(ctx context.Context, email string) (*model.User, error)
	UserByID(ctx context.Context, id uint) (*model.User, error)
	CreateUser(ctx context.Context, user *model.User) error
	UpdateUser(ctx context.Context, id uint, updates map[string]interface{}) error
	// LoadProfile 加载用户及其订阅与收藏。
	LoadProfile(ctx context.Context, id uint) (*model.User, error)
}

// Handler 提供注册、登录与密码重置接口。
type Handler struct {
	store     UserStore
	jwtSecret []byte
	tokenTTL  time.Duration
	resetTTL  time.Duration
	mailer    notify.Notifier
	mailQueue *queue.Queue
	logger    *slog.Logger
}

// NewHandler 创建 Auth Handler。
func NewHandler(store UserStore, jwtSecret string, tokenTTL, resetTTL time.Duration, mailer notify.Notifier, mailQueue *queue.Queue, logger *slog.Logger) *Handler {
	if tokenTTL <= 0 {
		tokenTTL = 12 * time.Hour
	}
	if resetTTL <= 0 {
		resetTTL = time.Hour
	}
	return &Handler{
		store:     store,
		jwtSecret: []byte(jwtSecret),
		tokenTTL:  tokenTTL,
		resetTTL:  resetTTL,
		mailer:    mailer,
		mailQueue: mailQueue,
		logger:    logger,
	}
}

type registerRequest struct {
	Name     string `json:"name" binding:"required"`
	Email    string `json:"email" binding:"required,email"`
	Password string `json:"password" binding:"required,min=6"`
}

type loginRequest struct {
	Email    string `json:"email" binding:"required,email"`
	Password string `json:"password" binding:"required"`
}

type forgotPasswordRequest struct {
	Email string `json:"email" binding:"required,email"`
}

type resetPasswordRequest struct {
	Password string `json:"password" binding:"required,min=6"`
}

// userResponse 客户端可见的用户信息，不包含密码哈希。
type userResponse struct {
	ID        uint      `json:"id"`
	Name      string    `json:"name"`
	Email     string    `json:"email"`
	Role      string    `json:"role"`
	IsBlocked bool      `json:"is_blocked"`
	CreatedAt time.Time `json:"created_at"`
}

type authResponse struct {
	Result userResponse `json:"result"`
	Token  string       `json:"token"`
}

type customClaims struct {
	jwt.RegisteredClaims
	Email string `json:"email"`
}

// Register 创建新用户并签发 JWT。
//
// 公开注册只能创建 subscriber 账号，管理员由种子数据或已有管理员提升。
func (h *Handler) Register(c *gin.Context) {
	var req registerRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	email := strings.TrimSpace(strings.ToLower(req.Email))

	existing, err := h.store.UserByEmail(c.Request.Context(), email)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "query user failed"})
		return
	}
	if existing != nil {
		metrics.RegistrationsTotal.WithLabelValues("conflict").Inc()
		c.JSON(http.StatusConflict, gin.H{"error": "email already exists"})
		return
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(req.Password), bcryptCost)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "hash password failed"})
		return
	}

	user := model.User{
		Name:     strings.TrimSpace(req.Name),
		Email:    email,
		Password: string(hash),
		Role:     model.RoleSubscriber,
	}
	if err := h.store.CreateUser(c.Request.Context(), &user); err != nil {
		// 并发注册同一邮箱：唯一索引兜底，映射为 409
		if errors.Is(err, gorm.ErrDuplicatedKey) {
			metrics.RegistrationsTotal.WithLabelValues("conflict").Inc()
			c.JSON(http.StatusConflict, gin.H{"error": "email already exists"})
			return
		}
		h.logger.Error("create user failed", slog.String("email", email), slog.String("error", err.Error()))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "create user failed"})
		return
	}

	token, err := h.issueToken(user.ID, user.Email)
	if err != nil {
		h.logger.Error("sign token failed", slog.String("email", email), slog.String("error", err.Error()))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "sign token failed"})
		return
	}

	h.dispatchMail(func() error {
		return h.mailer.SendWelcome(user.Email, user.Name)
	})

	metrics.RegistrationsTotal.WithLabelValues("ok").Inc()
	h.logger.Info("user registered", slog.String("email", email))
	c.JSON(http.StatusCreated, authResponse{Result: toUserResponse(&user), Token: token})
}

// Login 校验凭证并返回 JWT。
//
// 邮箱不存在返回 404，密码错误返回 400，账号被封禁返回 403。
func (h *Handler) Login(c *gin.Context) {
	var req loginRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	email := strings.TrimSpace(strings.ToLower(req.Email))

	user, err := h.store.UserByEmail(c.Request.Context(), email)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "query user failed"})
		return
	}
	if user == nil {
		metrics.LoginsTotal.WithLabelValues("not_found").Inc()
		c.JSON(http.StatusNotFound, gin.H{"error": "user not found"})
		return
	}

	if err := bcrypt.CompareHashAndPassword([]byte(user.Password), []byte(req.Password)); err != nil {
		metrics.LoginsTotal.WithLabelValues("bad_credentials").Inc()
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid credentials"})
		return
	}

	// 密码正确但账号被封禁：不签发令牌
	if user.IsBlocked {
		metrics.LoginsTotal.WithLabelValues("blocked").Inc()
		c.JSON(http.StatusForbidden, gin.H{"error": "account blocked"})
		return
	}

	token, err := h.issueToken(user.ID, user.Email)
	if err != nil {
		h.logger.Error("sign token failed", slog.String("email", email), slog.String("error", err.Error()))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "sign token failed"})
		return
	}

	metrics.LoginsTotal.WithLabelValues("ok").Inc()
	h.logger.Info("user logged in", slog.String("email", email), slog.String("role", user.Role))
	c.JSON(http.StatusOK, authResponse{Result: toUserResponse(user), Token: token})
}

// Logout 处理注销请求（无状态，客户端丢弃令牌即可）。
func (h *Handler) Logout(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"message": "logged out"})
}

// ForgotPassword 生成密码重置令牌。
//
// 令牌形如 "<userID>.<64位hex>"，只有随机部分的 bcrypt 哈希落库。
// 重复请求会覆盖旧令牌。
func (h *Handler) ForgotPassword(c *gin.Context) {
	var req forgotPasswordRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	email := strings.TrimSpace(strings.ToLower(req.Email))

	user, err := h.store.UserByEmail(c.Request.Context(), email)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "query user failed"})
		return
	}
	if user == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "user not found"})
		return
	}

	secret, err := randomHex(resetTokenBytes)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "generate token failed"})
		return
	}
	secretHash, err := bcrypt.GenerateFromPassword([]byte(secret), bcryptCost)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "hash token failed"})
		return
	}

	expiry := time.Now().Add(h.resetTTL)
	updates := map[string]interface{}{
		"reset_token_hash": string(secretHash),
		"reset_expires_at": &expiry,
	}
	if err := h.store.UpdateUser(c.Request.Context(), user.ID, updates); err != nil {
		h.logger.Error("save reset token failed", slog.String("email", email), slog.String("error", err.Error()))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "save reset token failed"})
		return
	}

	resetToken := fmt.Sprintf("%d.%s", user.ID, secret)
	h.dispatchMail(func() error {
		return h.mailer.SendPasswordReset(user.Email, resetToken, int(h.resetTTL.Minutes()))
	})

	h.logger.Info("reset token issued", slog.String("email", email))
	c.JSON(http.StatusOK, gin.H{
		"message":    "reset token sent",
		"resetToken": resetToken,
	})
}

// ResetPassword 使用重置令牌设置新密码。
//
// 令牌通过 Authorization 头以 Bearer 形式携带。令牌中的用户 ID 段
// 把查找范围限定到单个账号，两个用户同时发起重置互不影响。
// 成功后清空待重置状态，令牌即作废。
func (h *Handler) ResetPassword(c *gin.Context) {
	tokenStr, ok := bearerToken(c)
	if !ok {
		c.JSON(http.StatusBadRequest, gin.H{"error": "missing reset token"})
		return
	}

	var req resetPasswordRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	userID, secret, ok := parseResetToken(tokenStr)
	if !ok {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid reset token"})
		return
	}

	user, err := h.store.UserByID(c.Request.Context(), userID)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "query user failed"})
		return
	}
	if user == nil || user.ResetTokenHash == "" || user.ResetExpiresAt == nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid reset token"})
		return
	}
	if time.Now().After(*user.ResetExpiresAt) {
		c.JSON(http.StatusBadRequest, gin.H{"error": "reset token expired"})
		return
	}
	if err := bcrypt.CompareHashAndPassword([]byte(user.ResetTokenHash), []byte(secret)); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid reset token"})
		return
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(req.Password), bcryptCost)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "hash password failed"})
		return
	}

	updates := map[string]interface{}{
		"password":         string(hash),
		"reset_token_hash": "",
		"reset_expires_at": nil,
	}
	if err := h.store.UpdateUser(c.Request.Context(), user.ID, updates); err != nil {
		h.logger.Error("reset password failed", slog.String("email", user.Email), slog.String("error", err.Error()))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "reset password failed"})
		return
	}

	h.logger.Info("password reset", slog.String("email", user.Email))
	c.JSON(http.StatusOK, gin.H{"message": "password updated"})
}

// savedNewsSummary 收藏新闻的摘要投影。
type savedNewsSummary struct {
	ID       uint   `json:"id"`
	Title    string `json:"title"`
	ImageURL string `json:"image_url"`
}

// CurrentUser 返回当前登录用户的资料。
//
// 订阅解析为分类名，收藏解析为新闻摘要，密码不出现在响应中。
func (h *Handler) CurrentUser(c *gin.Context) {
	userID := c.GetUint("userID")

	user, err := h.store.LoadProfile(c.Request.Context(), userID)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "load profile failed"})
		return
	}
	if user == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "user not found"})
		return
	}

	subs := make([]string, 0, len(user.Subscriptions))
	for _, cat := range user.Subscriptions {
		subs = append(subs, cat.Name)
	}
	saved := make([]savedNewsSummary, 0, len(user.SavedNews))
	for _, n := range user.SavedNews {
		saved = append(saved, savedNewsSummary{ID: n.ID, Title: n.Title, ImageURL: n.ImageURL})
	}

	c.JSON(http.StatusOK, gin.H{
		"result":        toUserResponse(user),
		"subscriptions": subs,
		"saved_news":    saved,
	})
}

// issueToken 签发带过期时间的 HS256 JWT。
func (h *Handler) issueToken(userID uint, email string) (string, error) {
	now := time.Now()
	claims := customClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   strconv.FormatUint(uint64(userID), 10),
			ExpiresAt: jwt.NewNumericDate(now.Add(h.tokenTTL)),
			IssuedAt:  jwt.NewNumericDate(now),
		},
		Email: email,
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(h.jwtSecret)
}

// dispatchMail 将邮件任务放入异步队列（尽力而为）。
func (h *Handler) dispatchMail(send func() error) {
	if h.mailer == nil {
		return
	}
	job := func(ctx context.Context) error {
		if err := send(); err != nil {
			metrics.EmailsFailedTotal.Inc()
			return err
		}
		return nil
	}
	if h.mailQueue == nil {
		// 没有队列时退化为后台 goroutine，同样不阻塞请求
		go func() { _ = job(context.Background()) }()
		return
	}
	if h.mailQueue.Enqueue(job) {
		metrics.EmailsQueuedTotal.Inc()
	}
}

func toUserResponse(u *model.User) userResponse {
	return userResponse{
		ID:        u.ID,
		Name:      u.Name,
		Email:     u.Email,
		Role:      u.Role,
		IsBlocked: u.IsBlocked,
		CreatedAt: u.CreatedAt,
	}
}

func bearerToken(c *gin.Context) (string, bool) {
	authHeader := c.GetHeader("Authorization")
	if authHeader == "" {
		return "", false
	}
	parts := strings.SplitN(authHeader, " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
		return "", false
	}
	if strings.TrimSpace(parts[1]) == "" {
		return "", false
	}
	return parts[1], true
}

// parseResetToken 拆解 "<userID>.<hex>" 形式的重置令牌。
func parseResetToken(token string) (uint, string, bool) {
	idStr, secret, found := strings.Cut(token, ".")
	if !found || idStr == "" || len(secret) != resetTokenBytes*2 {
		return 0, "", false
	}
	id, err := strconv.ParseUint(idStr, 10, 64)
	if err != nil {
		return 0, "", false
	}
	if _, err := hex.DecodeString(secret); err != nil {
		return 0, "", false
	}
	return uint(id), secret, true
}

func randomHex(n int) (string, error) {
	buf := make([]byte, n)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	return hex.EncodeToString(buf), nil
}
