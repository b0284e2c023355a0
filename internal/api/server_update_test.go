package api

import (
	"bytes"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"shotnews/internal/model"

	"github.com/gin-gonic/gin"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormLogger "gorm.io/gorm/logger"
)

func newTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	path := filepath.Join(t.TempDir(), "test.db")
	db, err := gorm.Open(sqlite.Open(path), &gorm.Config{
		Logger:         gormLogger.Default.LogMode(gormLogger.Silent),
		TranslateError: true,
	})
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	if err := db.AutoMigrate(&model.User{}, &model.Category{}, &model.News{}, &model.Comment{}); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	return db
}

func newTestServer(t *testing.T) *Server {
	t.Helper()
	db := newTestDB(t)
	return &Server{
		logger: slog.New(slog.NewTextHandler(io.Discard, nil)),
		db:     db,
		users:  dbUserStore{db: db},
	}
}

// adminRouter 以管理员身份（userID=1）挂载单个处理函数。
func adminRouter(method, path string, handler gin.HandlerFunc) *gin.Engine {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.Handle(method, path, func(c *gin.Context) {
		c.Set("userID", uint(1))
		c.Set("role", model.RoleAdmin)
	}, handler)
	return r
}

func doRequest(r *gin.Engine, method, path, body string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, bytes.NewReader([]byte(body)))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func TestBlockUser_IdempotentAndMissing(t *testing.T) {
	s := newTestServer(t)
	admin := model.User{Name: "Admin", Email: "admin@example.com", Password: "x", Role: model.RoleAdmin}
	target := model.User{Name: "Bob", Email: "bob@example.com", Password: "x", Role: model.RoleSubscriber, IsBlocked: true}
	if err := s.db.Create(&admin).Error; err != nil {
		t.Fatalf("create admin: %v", err)
	}
	if err := s.db.Create(&target).Error; err != nil {
		t.Fatalf("create target: %v", err)
	}

	r := adminRouter(http.MethodPatch, "/users/:id/block", s.handleBlockUser)

	// 重复封禁已封禁的用户应当幂等成功，不能因为没有行变化而报 404
	w := doRequest(r, http.MethodPatch, "/users/2/block", `{"blocked": true}`)
	if w.Code != http.StatusOK {
		t.Fatalf("idempotent block: expected 200, got %d: %s", w.Code, w.Body.String())
	}

	w = doRequest(r, http.MethodPatch, "/users/999/block", `{"blocked": true}`)
	if w.Code != http.StatusNotFound {
		t.Fatalf("missing user: expected 404, got %d", w.Code)
	}

	w = doRequest(r, http.MethodPatch, "/users/1/block", `{"blocked": true}`)
	if w.Code != http.StatusBadRequest {
		t.Fatalf("self block: expected 400, got %d", w.Code)
	}
}

func TestChangeRole_IdempotentAndMissing(t *testing.T) {
	s := newTestServer(t)
	admin := model.User{Name: "Admin", Email: "admin@example.com", Password: "x", Role: model.RoleAdmin}
	target := model.User{Name: "Bob", Email: "bob@example.com", Password: "x", Role: model.RoleSubscriber}
	if err := s.db.Create(&admin).Error; err != nil {
		t.Fatalf("create admin: %v", err)
	}
	if err := s.db.Create(&target).Error; err != nil {
		t.Fatalf("create target: %v", err)
	}

	r := adminRouter(http.MethodPatch, "/users/:id/role", s.handleChangeRole)

	// 重新赋予当前角色应当幂等成功
	w := doRequest(r, http.MethodPatch, "/users/2/role", `{"role": "subscriber"}`)
	if w.Code != http.StatusOK {
		t.Fatalf("idempotent role: expected 200, got %d: %s", w.Code, w.Body.String())
	}

	w = doRequest(r, http.MethodPatch, "/users/999/role", `{"role": "admin"}`)
	if w.Code != http.StatusNotFound {
		t.Fatalf("missing user: expected 404, got %d", w.Code)
	}

	w = doRequest(r, http.MethodPatch, "/users/2/role", `{"role": "superuser"}`)
	if w.Code != http.StatusBadRequest {
		t.Fatalf("invalid role: expected 400, got %d", w.Code)
	}
}

func TestUpdateNews_UnchangedValuesAndMissing(t *testing.T) {
	s := newTestServer(t)
	news := model.News{Title: "Headline", Visibility: model.VisibilityPublic, PublishedAt: time.Now()}
	if err := s.db.Create(&news).Error; err != nil {
		t.Fatalf("create news: %v", err)
	}

	r := adminRouter(http.MethodPut, "/news/:id", s.handleUpdateNews)

	// 提交与当前值相同的更新应当成功
	w := doRequest(r, http.MethodPut, "/news/1", `{"title": "Headline"}`)
	if w.Code != http.StatusOK {
		t.Fatalf("unchanged update: expected 200, got %d: %s", w.Code, w.Body.String())
	}

	w = doRequest(r, http.MethodPut, "/news/999", `{"title": "Other"}`)
	if w.Code != http.StatusNotFound {
		t.Fatalf("missing news: expected 404, got %d", w.Code)
	}
}

func TestUpdateCategory_UnchangedValuesAndMissing(t *testing.T) {
	s := newTestServer(t)
	cat := model.Category{Name: "Tech", Description: "Tech news"}
	if err := s.db.Create(&cat).Error; err != nil {
		t.Fatalf("create category: %v", err)
	}

	r := adminRouter(http.MethodPut, "/categories/:id", s.handleUpdateCategory)

	// 同名同描述的更新应当幂等成功
	w := doRequest(r, http.MethodPut, "/categories/1", `{"name": "Tech", "description": "Tech news"}`)
	if w.Code != http.StatusOK {
		t.Fatalf("unchanged update: expected 200, got %d: %s", w.Code, w.Body.String())
	}

	w = doRequest(r, http.MethodPut, "/categories/999", `{"name": "Other"}`)
	if w.Code != http.StatusNotFound {
		t.Fatalf("missing category: expected 404, got %d", w.Code)
	}
}
