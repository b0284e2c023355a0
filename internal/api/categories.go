package api

import (
	"errors"
	"log/slog"
	"net/http"
	"strings"

	"shotnews/internal/model"

	"github.com/gin-gonic/gin"
	"gorm.io/gorm"
)

type categoryRequest struct {
	Name        string `json:"name" binding:"required"`
	Description string `json:"description"`
}

// handleCreateCategory 创建新闻分类。
//
// POST /categories，名称重复返回 409。
func (s *Server) handleCreateCategory(c *gin.Context) {
	var req categoryRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	category := model.Category{
		Name:        strings.TrimSpace(req.Name),
		Description: strings.TrimSpace(req.Description),
	}
	if err := s.db.WithContext(c.Request.Context()).Create(&category).Error; err != nil {
		if errors.Is(err, gorm.ErrDuplicatedKey) {
			c.JSON(http.StatusConflict, gin.H{"error": "category already exists"})
			return
		}
		s.logger.Error("create category failed", slog.String("error", err.Error()))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "create category failed"})
		return
	}

	c.JSON(http.StatusCreated, category)
}

// handleListCategories 返回所有分类。
func (s *Server) handleListCategories(c *gin.Context) {
	categories := []model.Category{}
	if err := s.db.WithContext(c.Request.Context()).Order("name ASC").Find(&categories).Error; err != nil {
		s.logger.Error("list categories failed", slog.String("error", err.Error()))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "list categories failed"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"items": categories})
}

// handleUpdateCategory 更新分类名称或描述。
//
// PUT /categories/:id
func (s *Server) handleUpdateCategory(c *gin.Context) {
	id, ok := parseIDParam(c, "id")
	if !ok {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid category id"})
		return
	}

	var req categoryRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	// 重命名为同一个名字应当幂等成功，不能靠 RowsAffected 判断存在性
	var exists int64
	if err := s.db.WithContext(c.Request.Context()).Model(&model.Category{}).
		Where("id = ?", id).Count(&exists).Error; err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "query category failed"})
		return
	}
	if exists == 0 {
		c.JSON(http.StatusNotFound, gin.H{"error": "category not found"})
		return
	}

	updates := map[string]interface{}{
		"name":        strings.TrimSpace(req.Name),
		"description": strings.TrimSpace(req.Description),
	}
	if err := s.db.WithContext(c.Request.Context()).Model(&model.Category{}).
		Where("id = ?", id).Updates(updates).Error; err != nil {
		if errors.Is(err, gorm.ErrDuplicatedKey) {
			c.JSON(http.StatusConflict, gin.H{"error": "category already exists"})
			return
		}
		s.logger.Error("update category failed", slog.String("error", err.Error()))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "update category failed"})
		return
	}

	c.JSON(http.StatusOK, gin.H{"updated": true})
}

// handleDeleteCategory 删除分类。
//
// DELETE /categories/:id
// 引用该分类的新闻 category_id 置空，订阅关系删除；不级联删除新闻。
func (s *Server) handleDeleteCategory(c *gin.Context) {
	id, ok := parseIDParam(c, "id")
	if !ok {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid category id"})
		return
	}

	var category model.Category
	err := s.db.WithContext(c.Request.Context()).First(&category, id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		c.JSON(http.StatusNotFound, gin.H{"error": "category not found"})
		return
	}
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "query category failed"})
		return
	}

	if err := s.db.WithContext(c.Request.Context()).Model(&model.News{}).
		Where("category_id = ?", id).
		Update("category_id", nil).Error; err != nil {
		s.logger.Warn("clear news references failed", slog.String("error", err.Error()))
	}
	if err := s.db.WithContext(c.Request.Context()).Exec("DELETE FROM user_subscriptions WHERE category_id = ?", id).Error; err != nil {
		s.logger.Warn("delete subscriptions failed", slog.String("error", err.Error()))
	}

	if err := s.db.WithContext(c.Request.Context()).Delete(&model.Category{}, id).Error; err != nil {
		s.logger.Error("delete category failed", slog.String("error", err.Error()))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "delete category failed"})
		return
	}

	c.JSON(http.StatusOK, gin.H{"deleted": id})
}
