package api

import (
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"shotnews/internal/model"

	"github.com/gin-gonic/gin"
	"gorm.io/gorm"
)

// userListItem 管理端用户列表的投影（无密码）。
type userListItem struct {
	ID        uint      `json:"id"`
	Name      string    `json:"name"`
	Email     string    `json:"email"`
	Role      string    `json:"role"`
	IsBlocked bool      `json:"is_blocked"`
	CreatedAt time.Time `json:"created_at"`
}

type blockUserRequest struct {
	Blocked *bool `json:"blocked" binding:"required"`
}

type changeRoleRequest struct {
	Role string `json:"role" binding:"required"`
}

// handleSubscribe 订阅分类。
//
// POST /me/subscriptions/:categoryID，重复订阅为幂等操作。
func (s *Server) handleSubscribe(c *gin.Context) {
	categoryID, ok := parseIDParam(c, "categoryID")
	if !ok {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid category id"})
		return
	}

	var category model.Category
	err := s.db.WithContext(c.Request.Context()).First(&category, categoryID).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		c.JSON(http.StatusNotFound, gin.H{"error": "category not found"})
		return
	}
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "query category failed"})
		return
	}

	user := model.User{ID: getUserID(c)}
	if err := s.db.WithContext(c.Request.Context()).Model(&user).
		Association("Subscriptions").Append(&category); err != nil {
		s.logger.Error("subscribe failed", slog.String("error", err.Error()))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "subscribe failed"})
		return
	}

	c.JSON(http.StatusOK, gin.H{"subscribed": category.Name})
}

// handleUnsubscribe 取消订阅分类。
//
// DELETE /me/subscriptions/:categoryID
func (s *Server) handleUnsubscribe(c *gin.Context) {
	categoryID, ok := parseIDParam(c, "categoryID")
	if !ok {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid category id"})
		return
	}

	user := model.User{ID: getUserID(c)}
	category := model.Category{ID: categoryID}
	if err := s.db.WithContext(c.Request.Context()).Model(&user).
		Association("Subscriptions").Delete(&category); err != nil {
		s.logger.Error("unsubscribe failed", slog.String("error", err.Error()))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "unsubscribe failed"})
		return
	}

	c.JSON(http.StatusOK, gin.H{"unsubscribed": categoryID})
}

// handleSaveNews 收藏新闻。
//
// POST /me/saved-news/:newsID
func (s *Server) handleSaveNews(c *gin.Context) {
	newsID, ok := parseIDParam(c, "newsID")
	if !ok {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid news id"})
		return
	}

	var news model.News
	err := s.db.WithContext(c.Request.Context()).First(&news, newsID).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		c.JSON(http.StatusNotFound, gin.H{"error": "news not found"})
		return
	}
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "query news failed"})
		return
	}
	if news.Visibility == model.VisibilityPrivate && !isAdmin(c) {
		c.JSON(http.StatusNotFound, gin.H{"error": "news not found"})
		return
	}

	user := model.User{ID: getUserID(c)}
	if err := s.db.WithContext(c.Request.Context()).Model(&user).
		Association("SavedNews").Append(&news); err != nil {
		s.logger.Error("save news failed", slog.String("error", err.Error()))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "save news failed"})
		return
	}

	c.JSON(http.StatusOK, gin.H{"saved": newsID})
}

// handleUnsaveNews 取消收藏。
//
// DELETE /me/saved-news/:newsID
func (s *Server) handleUnsaveNews(c *gin.Context) {
	newsID, ok := parseIDParam(c, "newsID")
	if !ok {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid news id"})
		return
	}

	user := model.User{ID: getUserID(c)}
	news := model.News{ID: newsID}
	if err := s.db.WithContext(c.Request.Context()).Model(&user).
		Association("SavedNews").Delete(&news); err != nil {
		s.logger.Error("unsave news failed", slog.String("error", err.Error()))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "unsave news failed"})
		return
	}

	c.JSON(http.StatusOK, gin.H{"unsaved": newsID})
}

// handleListUsers 管理端用户列表。
//
// GET /users?limit=50&offset=0
func (s *Server) handleListUsers(c *gin.Context) {
	limit := parseQueryInt(c, "limit", 50)
	if limit <= 0 || limit > 200 {
		limit = 50
	}
	offset := parseQueryInt(c, "offset", 0)

	users := []userListItem{}
	if err := s.db.WithContext(c.Request.Context()).Model(&model.User{}).
		Select("id, name, email, role, is_blocked, created_at").
		Order("id ASC").
		Limit(limit).Offset(offset).
		Scan(&users).Error; err != nil {
		s.logger.Error("list users failed", slog.String("error", err.Error()))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "list users failed"})
		return
	}

	c.JSON(http.StatusOK, gin.H{"items": users})
}

// handleBlockUser 封禁或解封用户。
//
// PATCH /users/:id/block {"blocked": true}
// 被封禁的用户即使密码正确也无法登录。
func (s *Server) handleBlockUser(c *gin.Context) {
	id, ok := parseIDParam(c, "id")
	if !ok {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid user id"})
		return
	}

	var req blockUserRequest
	if err := c.ShouldBindJSON(&req); err != nil || req.Blocked == nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "missing blocked flag"})
		return
	}

	if id == getUserID(c) {
		c.JSON(http.StatusBadRequest, gin.H{"error": "cannot block yourself"})
		return
	}

	// 先确认存在：MySQL 对未变更的 UPDATE 报告 0 行，不能用 RowsAffected 判断 404
	var exists int64
	if err := s.db.WithContext(c.Request.Context()).Model(&model.User{}).
		Where("id = ?", id).Count(&exists).Error; err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "query user failed"})
		return
	}
	if exists == 0 {
		c.JSON(http.StatusNotFound, gin.H{"error": "user not found"})
		return
	}

	if err := s.db.WithContext(c.Request.Context()).Model(&model.User{}).
		Where("id = ?", id).
		Update("is_blocked", *req.Blocked).Error; err != nil {
		s.logger.Error("block user failed", slog.String("error", err.Error()))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "block user failed"})
		return
	}

	s.logger.Info("user block updated", slog.Uint64("user_id", uint64(id)), slog.Bool("blocked", *req.Blocked))
	c.JSON(http.StatusOK, gin.H{"blocked": *req.Blocked})
}

// handleChangeRole 修改用户角色。
//
// PATCH /users/:id/role {"role": "admin"}
func (s *Server) handleChangeRole(c *gin.Context) {
	id, ok := parseIDParam(c, "id")
	if !ok {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid user id"})
		return
	}

	var req changeRoleRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	role := strings.ToLower(strings.TrimSpace(req.Role))
	if role != model.RoleAdmin && role != model.RoleSubscriber {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid role"})
		return
	}

	// 重新赋予当前角色应当幂等成功，存在性单独确认
	var exists int64
	if err := s.db.WithContext(c.Request.Context()).Model(&model.User{}).
		Where("id = ?", id).Count(&exists).Error; err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "query user failed"})
		return
	}
	if exists == 0 {
		c.JSON(http.StatusNotFound, gin.H{"error": "user not found"})
		return
	}

	if err := s.db.WithContext(c.Request.Context()).Model(&model.User{}).
		Where("id = ?", id).
		Update("role", role).Error; err != nil {
		s.logger.Error("change role failed", slog.String("error", err.Error()))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "change role failed"})
		return
	}

	c.JSON(http.StatusOK, gin.H{"role": role})
}

// handleDeleteUser 删除用户及其关联数据。
//
// DELETE /users/:id
// 评论、订阅与收藏关系一并删除；用户发布的内容（新闻）不受影响。
func (s *Server) handleDeleteUser(c *gin.Context) {
	id, ok := parseIDParam(c, "id")
	if !ok {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid user id"})
		return
	}
	if id == getUserID(c) {
		c.JSON(http.StatusBadRequest, gin.H{"error": "cannot delete yourself"})
		return
	}

	tx := s.db.WithContext(c.Request.Context()).Begin()
	if tx.Error != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "transaction failed"})
		return
	}
	defer func() {
		if r := recover(); r != nil {
			tx.Rollback()
		}
	}()

	var user model.User
	err := tx.First(&user, id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		tx.Rollback()
		c.JSON(http.StatusNotFound, gin.H{"error": "user not found"})
		return
	}
	if err != nil {
		tx.Rollback()
		c.JSON(http.StatusInternalServerError, gin.H{"error": "query user failed"})
		return
	}

	if err := tx.Where("user_id = ?", id).Delete(&model.Comment{}).Error; err != nil {
		tx.Rollback()
		c.JSON(http.StatusInternalServerError, gin.H{"error": "delete comments failed"})
		return
	}
	if err := tx.Exec("DELETE FROM user_subscriptions WHERE user_id = ?", id).Error; err != nil {
		tx.Rollback()
		c.JSON(http.StatusInternalServerError, gin.H{"error": "delete subscriptions failed"})
		return
	}
	if err := tx.Exec("DELETE FROM user_saved_news WHERE user_id = ?", id).Error; err != nil {
		tx.Rollback()
		c.JSON(http.StatusInternalServerError, gin.H{"error": "delete saved refs failed"})
		return
	}
	if err := tx.Delete(&model.User{}, id).Error; err != nil {
		tx.Rollback()
		c.JSON(http.StatusInternalServerError, gin.H{"error": "delete user failed"})
		return
	}

	if err := tx.Commit().Error; err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "commit failed"})
		return
	}

	s.logger.Info("user deleted", slog.Uint64("user_id", uint64(id)))
	c.JSON(http.StatusOK, gin.H{"deleted": id})
}
