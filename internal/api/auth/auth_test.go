package auth

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strconv"
	"sync"
	"testing"
	"time"

	"shotnews/internal/model"
	"shotnews/internal/pkg/metrics"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
)

// memoryUserStore 测试用的内存用户存储。
type memoryUserStore struct {
	mu     sync.Mutex
	nextID uint
	users  map[uint]*model.User
}

func newMemoryUserStore() *memoryUserStore {
	return &memoryUserStore{nextID: 1, users: map[uint]*model.User{}}
}

func (m *memoryUserStore) UserByEmail(ctx context.Context, email string) (*model.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, u := range m.users {
		if u.Email == email {
			copied := *u
			return &copied, nil
		}
	}
	return nil, nil
}

func (m *memoryUserStore) UserByID(ctx context.Context, id uint) (*model.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	u, ok := m.users[id]
	if !ok {
		return nil, nil
	}
	copied := *u
	return &copied, nil
}

func (m *memoryUserStore) CreateUser(ctx context.Context, user *model.User) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	user.ID = m.nextID
	user.CreatedAt = time.Now()
	m.nextID++
	copied := *user
	m.users[user.ID] = &copied
	return nil
}

func (m *memoryUserStore) UpdateUser(ctx context.Context, id uint, updates map[string]interface{}) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	u, ok := m.users[id]
	if !ok {
		return nil
	}
	for key, val := range updates {
		switch key {
		case "password":
			u.Password = val.(string)
		case "is_blocked":
			u.IsBlocked = val.(bool)
		case "reset_token_hash":
			u.ResetTokenHash = val.(string)
		case "reset_expires_at":
			if val == nil {
				u.ResetExpiresAt = nil
			} else {
				u.ResetExpiresAt = val.(*time.Time)
			}
		}
	}
	return nil
}

func (m *memoryUserStore) LoadProfile(ctx context.Context, id uint) (*model.User, error) {
	return m.UserByID(ctx, id)
}

// expireResetToken 手动把重置令牌置为已过期。
func (m *memoryUserStore) expireResetToken(id uint) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if u, ok := m.users[id]; ok && u.ResetExpiresAt != nil {
		past := time.Now().Add(-time.Minute)
		u.ResetExpiresAt = &past
	}
}

const testSecret = "test-secret"

func newTestHandler(store UserStore) *Handler {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	return NewHandler(store, testSecret, time.Hour, time.Hour, nil, nil, logger)
}

func newTestRouter(h *Handler) *gin.Engine {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.POST("/auth/register", h.Register)
	r.POST("/auth/login", h.Login)
	r.POST("/auth/logout", h.Logout)
	r.POST("/auth/forgot-password", h.ForgotPassword)
	r.POST("/auth/reset-password", h.ResetPassword)
	return r
}

func doJSON(t *testing.T, r *gin.Engine, method, path string, body interface{}, headers map[string]string) *httptest.ResponseRecorder {
	t.Helper()
	var reader *bytes.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("marshal body: %v", err)
		}
		reader = bytes.NewReader(payload)
	} else {
		reader = bytes.NewReader(nil)
	}
	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func TestRegisterLoginRoundtrip(t *testing.T) {
	metrics.InitMetrics()
	store := newMemoryUserStore()
	r := newTestRouter(newTestHandler(store))

	w := doJSON(t, r, http.MethodPost, "/auth/register", map[string]string{
		"name":     "Alice",
		"email":    "alice@example.com",
		"password": "hunter22",
	}, nil)
	if w.Code != http.StatusCreated {
		t.Fatalf("register: expected 201, got %d: %s", w.Code, w.Body.String())
	}

	var reg authResponse
	if err := json.Unmarshal(w.Body.Bytes(), &reg); err != nil {
		t.Fatalf("decode register response: %v", err)
	}
	if reg.Token == "" {
		t.Fatal("expected token in register response")
	}
	if reg.Result.Role != model.RoleSubscriber {
		t.Fatalf("expected subscriber role, got %q", reg.Result.Role)
	}

	// Token 必须带 email claim 与用户 ID
	claims := customClaims{}
	parsed, err := jwt.ParseWithClaims(reg.Token, &claims, func(tk *jwt.Token) (interface{}, error) {
		return []byte(testSecret), nil
	})
	if err != nil || !parsed.Valid {
		t.Fatalf("parse token: %v", err)
	}
	if claims.Email != "alice@example.com" {
		t.Fatalf("expected email claim, got %q", claims.Email)
	}
	if claims.Subject != strconv.FormatUint(uint64(reg.Result.ID), 10) {
		t.Fatalf("expected subject %d, got %q", reg.Result.ID, claims.Subject)
	}

	w = doJSON(t, r, http.MethodPost, "/auth/login", map[string]string{
		"email":    "alice@example.com",
		"password": "hunter22",
	}, nil)
	if w.Code != http.StatusOK {
		t.Fatalf("login: expected 200, got %d: %s", w.Code, w.Body.String())
	}
}

func TestRegisterDuplicateEmail(t *testing.T) {
	metrics.InitMetrics()
	store := newMemoryUserStore()
	r := newTestRouter(newTestHandler(store))

	body := map[string]string{"name": "Alice", "email": "alice@example.com", "password": "hunter22"}
	if w := doJSON(t, r, http.MethodPost, "/auth/register", body, nil); w.Code != http.StatusCreated {
		t.Fatalf("first register: expected 201, got %d", w.Code)
	}
	if w := doJSON(t, r, http.MethodPost, "/auth/register", body, nil); w.Code != http.StatusConflict {
		t.Fatalf("second register: expected 409, got %d", w.Code)
	}
}

func TestLoginFailures(t *testing.T) {
	metrics.InitMetrics()
	store := newMemoryUserStore()
	r := newTestRouter(newTestHandler(store))

	doJSON(t, r, http.MethodPost, "/auth/register", map[string]string{
		"name": "Bob", "email": "bob@example.com", "password": "hunter22",
	}, nil)

	// 未知邮箱
	w := doJSON(t, r, http.MethodPost, "/auth/login", map[string]string{
		"email": "nobody@example.com", "password": "hunter22",
	}, nil)
	if w.Code != http.StatusNotFound {
		t.Fatalf("unknown email: expected 404, got %d", w.Code)
	}

	// 密码错误
	w = doJSON(t, r, http.MethodPost, "/auth/login", map[string]string{
		"email": "bob@example.com", "password": "wrong-password",
	}, nil)
	if w.Code != http.StatusBadRequest {
		t.Fatalf("bad password: expected 400, got %d", w.Code)
	}

	// 封禁账号即使密码正确也拒绝
	if err := store.UpdateUser(context.Background(), 1, map[string]interface{}{"is_blocked": true}); err != nil {
		t.Fatalf("block user: %v", err)
	}
	w = doJSON(t, r, http.MethodPost, "/auth/login", map[string]string{
		"email": "bob@example.com", "password": "hunter22",
	}, nil)
	if w.Code != http.StatusForbidden {
		t.Fatalf("blocked user: expected 403, got %d", w.Code)
	}
}

func TestPasswordResetFlow(t *testing.T) {
	metrics.InitMetrics()
	store := newMemoryUserStore()
	r := newTestRouter(newTestHandler(store))

	doJSON(t, r, http.MethodPost, "/auth/register", map[string]string{
		"name": "Carol", "email": "carol@example.com", "password": "original-pass",
	}, nil)

	// 未知邮箱
	w := doJSON(t, r, http.MethodPost, "/auth/forgot-password", map[string]string{
		"email": "nobody@example.com",
	}, nil)
	if w.Code != http.StatusNotFound {
		t.Fatalf("unknown email: expected 404, got %d", w.Code)
	}

	w = doJSON(t, r, http.MethodPost, "/auth/forgot-password", map[string]string{
		"email": "carol@example.com",
	}, nil)
	if w.Code != http.StatusOK {
		t.Fatalf("forgot: expected 200, got %d: %s", w.Code, w.Body.String())
	}
	var forgotResp struct {
		ResetToken string `json:"resetToken"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &forgotResp); err != nil {
		t.Fatalf("decode forgot response: %v", err)
	}
	if forgotResp.ResetToken == "" {
		t.Fatal("expected reset token")
	}

	auth := map[string]string{"Authorization": "Bearer " + forgotResp.ResetToken}
	w = doJSON(t, r, http.MethodPost, "/auth/reset-password", map[string]string{
		"password": "brand-new-pass",
	}, auth)
	if w.Code != http.StatusOK {
		t.Fatalf("reset: expected 200, got %d: %s", w.Code, w.Body.String())
	}

	// 旧密码失效，新密码可用
	w = doJSON(t, r, http.MethodPost, "/auth/login", map[string]string{
		"email": "carol@example.com", "password": "original-pass",
	}, nil)
	if w.Code != http.StatusBadRequest {
		t.Fatalf("old password: expected 400, got %d", w.Code)
	}
	w = doJSON(t, r, http.MethodPost, "/auth/login", map[string]string{
		"email": "carol@example.com", "password": "brand-new-pass",
	}, nil)
	if w.Code != http.StatusOK {
		t.Fatalf("new password: expected 200, got %d", w.Code)
	}

	// 令牌一次性：重放被拒绝
	w = doJSON(t, r, http.MethodPost, "/auth/reset-password", map[string]string{
		"password": "another-pass",
	}, auth)
	if w.Code != http.StatusBadRequest {
		t.Fatalf("replay: expected 400, got %d", w.Code)
	}
}

func TestResetPasswordExpiredToken(t *testing.T) {
	metrics.InitMetrics()
	store := newMemoryUserStore()
	r := newTestRouter(newTestHandler(store))

	doJSON(t, r, http.MethodPost, "/auth/register", map[string]string{
		"name": "Dave", "email": "dave@example.com", "password": "original-pass",
	}, nil)

	w := doJSON(t, r, http.MethodPost, "/auth/forgot-password", map[string]string{
		"email": "dave@example.com",
	}, nil)
	var forgotResp struct {
		ResetToken string `json:"resetToken"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &forgotResp); err != nil {
		t.Fatalf("decode forgot response: %v", err)
	}

	store.expireResetToken(1)

	w = doJSON(t, r, http.MethodPost, "/auth/reset-password", map[string]string{
		"password": "brand-new-pass",
	}, map[string]string{"Authorization": "Bearer " + forgotResp.ResetToken})
	if w.Code != http.StatusBadRequest {
		t.Fatalf("expired token: expected 400, got %d", w.Code)
	}
}

func TestResetPasswordMalformedToken(t *testing.T) {
	metrics.InitMetrics()
	store := newMemoryUserStore()
	r := newTestRouter(newTestHandler(store))

	cases := []string{
		"",
		"no-dot-here",
		"abc.0123456789abcdef",
		"1.tooshort",
		"1.zzzz5678901234567890123456789012345678901234567890123456789012zz",
	}
	for _, token := range cases {
		headers := map[string]string{}
		if token != "" {
			headers["Authorization"] = "Bearer " + token
		}
		w := doJSON(t, r, http.MethodPost, "/auth/reset-password", map[string]string{
			"password": "brand-new-pass",
		}, headers)
		if w.Code != http.StatusBadRequest {
			t.Fatalf("token %q: expected 400, got %d", token, w.Code)
		}
	}
}

func TestLogout(t *testing.T) {
	metrics.InitMetrics()
	r := newTestRouter(newTestHandler(newMemoryUserStore()))
	w := doJSON(t, r, http.MethodPost, "/auth/logout", nil, nil)
	if w.Code != http.StatusOK {
		t.Fatalf("logout: expected 200, got %d", w.Code)
	}
}

func TestCurrentUser(t *testing.T) {
	metrics.InitMetrics()
	store := newMemoryUserStore()
	h := newTestHandler(store)

	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.GET("/auth/user", func(c *gin.Context) {
		c.Set("userID", uint(1))
	}, h.CurrentUser)

	// 用户不存在
	w := doJSON(t, r, http.MethodGet, "/auth/user", nil, nil)
	if w.Code != http.StatusNotFound {
		t.Fatalf("missing user: expected 404, got %d", w.Code)
	}

	user := &model.User{
		Name:     "Erin",
		Email:    "erin@example.com",
		Password: "$2a$12$secret-hash-that-must-not-leak",
		Role:     model.RoleSubscriber,
	}
	if err := store.CreateUser(context.Background(), user); err != nil {
		t.Fatalf("create user: %v", err)
	}
	store.mu.Lock()
	store.users[user.ID].Subscriptions = []model.Category{
		{ID: 1, Name: "World"},
		{ID: 2, Name: "Tech"},
	}
	store.users[user.ID].SavedNews = []model.News{
		{ID: 7, Title: "Saved headline", ImageURL: "https://cdn.example.com/7.jpg"},
	}
	store.mu.Unlock()

	w = doJSON(t, r, http.MethodGet, "/auth/user", nil, nil)
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
	}

	var resp struct {
		Result        userResponse       `json:"result"`
		Subscriptions []string           `json:"subscriptions"`
		SavedNews     []savedNewsSummary `json:"saved_news"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if resp.Result.Email != "erin@example.com" || resp.Result.Role != model.RoleSubscriber {
		t.Fatalf("unexpected projection: %+v", resp.Result)
	}
	if len(resp.Subscriptions) != 2 || resp.Subscriptions[0] != "World" || resp.Subscriptions[1] != "Tech" {
		t.Fatalf("expected subscription names, got %v", resp.Subscriptions)
	}
	if len(resp.SavedNews) != 1 || resp.SavedNews[0].ID != 7 || resp.SavedNews[0].Title != "Saved headline" {
		t.Fatalf("unexpected saved news summary: %+v", resp.SavedNews)
	}
	if resp.SavedNews[0].ImageURL != "https://cdn.example.com/7.jpg" {
		t.Fatalf("expected image url, got %q", resp.SavedNews[0].ImageURL)
	}

	// 密码哈希绝不进响应
	if bytes.Contains(w.Body.Bytes(), []byte("secret-hash")) || bytes.Contains(w.Body.Bytes(), []byte("password")) {
		t.Fatalf("password leaked into response: %s", w.Body.String())
	}
}

func TestParseResetToken(t *testing.T) {
	secret := "0123456789abcdef0123456789abcdef0123456789abcdef0123456789abcdef"
	id, got, ok := parseResetToken("42." + secret)
	if !ok || id != 42 || got != secret {
		t.Fatalf("expected valid token, got id=%d ok=%v", id, ok)
	}

	if _, _, ok := parseResetToken(secret); ok {
		t.Fatal("expected token without user id to fail")
	}
	if _, _, ok := parseResetToken("x." + secret); ok {
		t.Fatal("expected non-numeric user id to fail")
	}
}
