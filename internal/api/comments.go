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

type createCommentRequest struct {
	Text string `json:"text" binding:"required"`
}

// commentResponse 评论的响应投影。
type commentResponse struct {
	ID        uint      `json:"id"`
	Text      string    `json:"text"`
	UserID    uint      `json:"user_id"`
	UserName  string    `json:"user_name"`
	NewsID    uint      `json:"news_id"`
	CreatedAt time.Time `json:"created_at"`
}

// handleCreateComment 在新闻下创建评论。
//
// POST /news/:id/comments
func (s *Server) handleCreateComment(c *gin.Context) {
	newsID, ok := parseIDParam(c, "id")
	if !ok {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid news id"})
		return
	}

	var req createCommentRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	text := strings.TrimSpace(req.Text)
	if text == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "empty comment"})
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

	comment := model.Comment{
		Text:   text,
		UserID: getUserID(c),
		NewsID: newsID,
	}
	if err := s.db.WithContext(c.Request.Context()).Create(&comment).Error; err != nil {
		s.logger.Error("create comment failed", slog.String("error", err.Error()))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "create comment failed"})
		return
	}

	c.JSON(http.StatusCreated, commentResponse{
		ID:        comment.ID,
		Text:      comment.Text,
		UserID:    comment.UserID,
		NewsID:    comment.NewsID,
		CreatedAt: comment.CreatedAt,
	})
}

// handleListComments 返回新闻下的评论，最新在前。
//
// GET /news/:id/comments
func (s *Server) handleListComments(c *gin.Context) {
	newsID, ok := parseIDParam(c, "id")
	if !ok {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid news id"})
		return
	}

	comments := []model.Comment{}
	if err := s.db.WithContext(c.Request.Context()).
		Preload("User").
		Where("news_id = ?", newsID).
		Order("created_at DESC").
		Find(&comments).Error; err != nil {
		s.logger.Error("list comments failed", slog.String("error", err.Error()))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "list comments failed"})
		return
	}

	items := make([]commentResponse, 0, len(comments))
	for _, cm := range comments {
		items = append(items, commentResponse{
			ID:        cm.ID,
			Text:      cm.Text,
			UserID:    cm.UserID,
			UserName:  cm.User.Name,
			NewsID:    cm.NewsID,
			CreatedAt: cm.CreatedAt,
		})
	}
	c.JSON(http.StatusOK, gin.H{"items": items})
}

// handleDeleteComment 删除评论。
//
// DELETE /comments/:id
// 只有评论作者本人或管理员可以删除。
func (s *Server) handleDeleteComment(c *gin.Context) {
	id, ok := parseIDParam(c, "id")
	if !ok {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid comment id"})
		return
	}

	var comment model.Comment
	err := s.db.WithContext(c.Request.Context()).First(&comment, id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		c.JSON(http.StatusNotFound, gin.H{"error": "comment not found"})
		return
	}
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "query comment failed"})
		return
	}

	if comment.UserID != getUserID(c) && !isAdmin(c) {
		c.JSON(http.StatusForbidden, gin.H{"error": "not your comment"})
		return
	}

	if err := s.db.WithContext(c.Request.Context()).Delete(&model.Comment{}, id).Error; err != nil {
		s.logger.Error("delete comment failed", slog.String("error", err.Error()))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "delete comment failed"})
		return
	}

	c.JSON(http.StatusOK, gin.H{"deleted": id})
}
