package api

import (
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"shotnews/internal/model"
	"shotnews/internal/pkg/metrics"

	"github.com/gin-gonic/gin"
	"gorm.io/gorm"
)

// createNewsRequest 创建新闻的请求参数。
type createNewsRequest struct {
	Title       string   `json:"title" binding:"required"`
	Description string   `json:"description"`
	ImageURL    string   `json:"image_url"`
	PublishedAt string   `json:"published_at"` // RFC3339，为空表示立即发布
	Tags        []string `json:"tags"`
	CategoryID  *uint    `json:"category_id"`
	Visibility  string   `json:"visibility"`
}

type updateNewsRequest struct {
	Title       *string   `json:"title"`
	Description *string   `json:"description"`
	ImageURL    *string   `json:"image_url"`
	PublishedAt *string   `json:"published_at"`
	Tags        *[]string `json:"tags"`
	CategoryID  *uint     `json:"category_id"`
	Visibility  *string   `json:"visibility"`
}

// newsResponse 新闻的响应投影。
type newsResponse struct {
	ID          uint      `json:"id"`
	Title       string    `json:"title"`
	Description string    `json:"description"`
	ImageURL    string    `json:"image_url"`
	PublishedAt time.Time `json:"published_at"`
	Tags        []string  `json:"tags"`
	CategoryID  *uint     `json:"category_id"`
	Category    string    `json:"category,omitempty"`
	Visibility  string    `json:"visibility"`
	Views       int64     `json:"views"`
}

func toNewsResponse(n *model.News) newsResponse {
	resp := newsResponse{
		ID:          n.ID,
		Title:       n.Title,
		Description: n.Description,
		ImageURL:    n.ImageURL,
		PublishedAt: n.PublishedAt,
		Tags:        n.TagList(),
		CategoryID:  n.CategoryID,
		Visibility:  n.Visibility,
		Views:       n.Views,
	}
	if n.Category != nil {
		resp.Category = n.Category.Name
	}
	return resp
}

// handleCreateNews 处理创建新闻的请求。
//
// POST /news
func (s *Server) handleCreateNews(c *gin.Context) {
	var req createNewsRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	visibility := strings.ToLower(strings.TrimSpace(req.Visibility))
	if visibility == "" {
		visibility = model.VisibilityPublic
	}
	if visibility != model.VisibilityPublic && visibility != model.VisibilityPrivate {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid visibility"})
		return
	}

	publishedAt := time.Now()
	if req.PublishedAt != "" {
		parsed, err := time.Parse(time.RFC3339, req.PublishedAt)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid published_at"})
			return
		}
		publishedAt = parsed
	}

	if req.CategoryID != nil {
		var count int64
		if err := s.db.Model(&model.Category{}).Where("id = ?", *req.CategoryID).Count(&count).Error; err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "query category failed"})
			return
		}
		if count == 0 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "unknown category"})
			return
		}
	}

	news := model.News{
		Title:       strings.TrimSpace(req.Title),
		Description: req.Description,
		ImageURL:    req.ImageURL,
		PublishedAt: publishedAt,
		CategoryID:  req.CategoryID,
		Visibility:  visibility,
	}
	news.SetTagList(req.Tags)

	if err := s.db.WithContext(c.Request.Context()).Create(&news).Error; err != nil {
		s.logger.Error("create news failed", slog.String("error", err.Error()))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "create news failed"})
		return
	}

	c.JSON(http.StatusCreated, toNewsResponse(&news))
}

// handleListNews 返回新闻列表。
//
// GET /news?title=&tag=&category=&limit=20&offset=0
// 匿名与订阅者只能看到 public 新闻，管理员可见全部。
func (s *Server) handleListNews(c *gin.Context) {
	limit := parseQueryInt(c, "limit", 20)
	if limit <= 0 || limit > 100 {
		limit = 20
	}
	offset := parseQueryInt(c, "offset", 0)

	query := s.db.WithContext(c.Request.Context()).Model(&model.News{}).Preload("Category")
	if !isAdmin(c) {
		query = query.Where("visibility = ?", model.VisibilityPublic)
	}
	if title := strings.TrimSpace(c.Query("title")); title != "" {
		query = query.Where("title LIKE ?", "%"+title+"%")
	}
	if tag := strings.TrimSpace(c.Query("tag")); tag != "" {
		query = query.Where("tags LIKE ?", "%"+tag+"%")
	}
	if category := strings.TrimSpace(c.Query("category")); category != "" {
		query = query.Where("category_id = ?", category)
	}

	newsList := []model.News{}
	if err := query.Order("published_at DESC").Limit(limit).Offset(offset).Find(&newsList).Error; err != nil {
		s.logger.Error("list news failed", slog.String("error", err.Error()))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "list news failed"})
		return
	}

	items := make([]newsResponse, 0, len(newsList))
	for i := range newsList {
		items = append(items, toNewsResponse(&newsList[i]))
	}
	c.JSON(http.StatusOK, gin.H{"items": items})
}

// handleGetNews 返回新闻详情并累加浏览数。
//
// GET /news/:id
func (s *Server) handleGetNews(c *gin.Context) {
	id, ok := parseIDParam(c, "id")
	if !ok {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid news id"})
		return
	}

	var news model.News
	err := s.db.WithContext(c.Request.Context()).Preload("Category").First(&news, id).Error
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

	// 浏览计数：DB 列 + Redis 热榜，计数失败不影响读取
	if err := s.db.WithContext(c.Request.Context()).Model(&model.News{}).
		Where("id = ?", news.ID).
		UpdateColumn("views", gorm.Expr("views + 1")).Error; err != nil {
		s.logger.Warn("bump views failed", slog.String("error", err.Error()))
	} else {
		news.Views++
	}
	if _, err := s.views.Incr(c.Request.Context(), news.ID); err != nil {
		s.logger.Warn("trending incr failed", slog.String("error", err.Error()))
	}
	metrics.NewsViewsTotal.Inc()

	c.JSON(http.StatusOK, toNewsResponse(&news))
}

// handleUpdateNews 更新新闻字段（部分更新）。
//
// PUT /news/:id
func (s *Server) handleUpdateNews(c *gin.Context) {
	id, ok := parseIDParam(c, "id")
	if !ok {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid news id"})
		return
	}

	var req updateNewsRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	updates := map[string]interface{}{}
	if req.Title != nil {
		title := strings.TrimSpace(*req.Title)
		if title == "" {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid title"})
			return
		}
		updates["title"] = title
	}
	if req.Description != nil {
		updates["description"] = *req.Description
	}
	if req.ImageURL != nil {
		updates["image_url"] = *req.ImageURL
	}
	if req.PublishedAt != nil {
		parsed, err := time.Parse(time.RFC3339, *req.PublishedAt)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid published_at"})
			return
		}
		updates["published_at"] = parsed
	}
	if req.Tags != nil {
		var n model.News
		n.SetTagList(*req.Tags)
		updates["tags"] = n.Tags
	}
	if req.CategoryID != nil {
		var count int64
		if err := s.db.Model(&model.Category{}).Where("id = ?", *req.CategoryID).Count(&count).Error; err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "query category failed"})
			return
		}
		if count == 0 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "unknown category"})
			return
		}
		updates["category_id"] = *req.CategoryID
	}
	if req.Visibility != nil {
		v := strings.ToLower(strings.TrimSpace(*req.Visibility))
		if v != model.VisibilityPublic && v != model.VisibilityPrivate {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid visibility"})
			return
		}
		updates["visibility"] = v
	}

	if len(updates) == 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "no updates"})
		return
	}

	// MySQL 对值未变化的 UPDATE 报告 0 行，404 判断依赖显式存在性检查
	var exists int64
	if err := s.db.WithContext(c.Request.Context()).Model(&model.News{}).
		Where("id = ?", id).Count(&exists).Error; err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "query news failed"})
		return
	}
	if exists == 0 {
		c.JSON(http.StatusNotFound, gin.H{"error": "news not found"})
		return
	}

	if err := s.db.WithContext(c.Request.Context()).Model(&model.News{}).
		Where("id = ?", id).Updates(updates).Error; err != nil {
		s.logger.Error("update news failed", slog.String("error", err.Error()))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "update news failed"})
		return
	}

	c.JSON(http.StatusOK, gin.H{"updated": true})
}

// handleDeleteNews 删除新闻并清理关联。
//
// DELETE /news/:id
// 评论、收藏关联一并删除；封面图与热榜记录尽力清理。
func (s *Server) handleDeleteNews(c *gin.Context) {
	id, ok := parseIDParam(c, "id")
	if !ok {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid news id"})
		return
	}

	var news model.News
	err := s.db.WithContext(c.Request.Context()).First(&news, id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		c.JSON(http.StatusNotFound, gin.H{"error": "news not found"})
		return
	}
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "query news failed"})
		return
	}

	if err := s.db.WithContext(c.Request.Context()).Where("news_id = ?", id).Delete(&model.Comment{}).Error; err != nil {
		s.logger.Warn("delete comments failed", slog.String("error", err.Error()))
	}
	if err := s.db.WithContext(c.Request.Context()).Exec("DELETE FROM user_saved_news WHERE news_id = ?", id).Error; err != nil {
		s.logger.Warn("delete saved refs failed", slog.String("error", err.Error()))
	}

	if err := s.db.WithContext(c.Request.Context()).Delete(&model.News{}, id).Error; err != nil {
		s.logger.Error("delete news failed", slog.String("error", err.Error()))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "delete news failed"})
		return
	}

	if news.ImageKey != "" && s.media != nil {
		if err := s.media.Delete(c.Request.Context(), news.ImageKey); err != nil {
			s.logger.Warn("delete image failed", slog.String("key", news.ImageKey), slog.String("error", err.Error()))
		}
	}
	if err := s.views.Remove(c.Request.Context(), id); err != nil {
		s.logger.Warn("trending remove failed", slog.String("error", err.Error()))
	}

	c.JSON(http.StatusOK, gin.H{"deleted": id})
}

// handleTrendingNews 返回浏览量最高的公开新闻。
//
// GET /news/trending?limit=10
func (s *Server) handleTrendingNews(c *gin.Context) {
	limit := parseQueryInt(c, "limit", s.cfg.App.TrendingSize)
	if limit <= 0 || limit > 50 {
		limit = 10
	}

	ids, err := s.views.Top(c.Request.Context(), limit)
	if err != nil {
		s.logger.Error("trending query failed", slog.String("error", err.Error()))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "trending query failed"})
		return
	}
	if len(ids) == 0 {
		c.JSON(http.StatusOK, gin.H{"items": []newsResponse{}})
		return
	}

	newsList := []model.News{}
	if err := s.db.WithContext(c.Request.Context()).Preload("Category").
		Where("id IN ?", ids).
		Where("visibility = ?", model.VisibilityPublic).
		Find(&newsList).Error; err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "query news failed"})
		return
	}

	// 保持热榜顺序
	byID := make(map[uint]*model.News, len(newsList))
	for i := range newsList {
		byID[newsList[i].ID] = &newsList[i]
	}
	items := make([]newsResponse, 0, len(ids))
	for _, id := range ids {
		if n, ok := byID[id]; ok {
			items = append(items, toNewsResponse(n))
		}
	}

	c.JSON(http.StatusOK, gin.H{"items": items})
}

// handleUploadNewsImage 上传新闻封面图。
//
// POST /news/:id/image (multipart, 字段名 "image")
// 上传成功后替换旧图并尽力删除旧对象。
func (s *Server) handleUploadNewsImage(c *gin.Context) {
	if s.media == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "media storage not configured"})
		return
	}

	id, ok := parseIDParam(c, "id")
	if !ok {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid news id"})
		return
	}

	var news model.News
	err := s.db.WithContext(c.Request.Context()).First(&news, id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		c.JSON(http.StatusNotFound, gin.H{"error": "news not found"})
		return
	}
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "query news failed"})
		return
	}

	fileHeader, err := c.FormFile("image")
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "missing image file"})
		return
	}
	file, err := fileHeader.Open()
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "open upload failed"})
		return
	}
	defer file.Close()

	contentType := fileHeader.Header.Get("Content-Type")
	if !strings.HasPrefix(contentType, "image/") {
		c.JSON(http.StatusBadRequest, gin.H{"error": "not an image"})
		return
	}

	url, key, err := s.media.Upload(c.Request.Context(), fileHeader.Filename, contentType, file)
	if err != nil {
		s.logger.Error("upload image failed", slog.String("error", err.Error()))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "upload image failed"})
		return
	}

	oldKey := news.ImageKey
	updates := map[string]interface{}{"image_url": url, "image_key": key}
	if err := s.db.WithContext(c.Request.Context()).Model(&model.News{}).Where("id = ?", id).Updates(updates).Error; err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "save image failed"})
		return
	}

	if oldKey != "" && oldKey != key {
		if err := s.media.Delete(c.Request.Context(), oldKey); err != nil {
			s.logger.Warn("delete old image failed", slog.String("key", oldKey), slog.String("error", err.Error()))
		}
	}

	c.JSON(http.StatusOK, gin.H{"image_url": url})
}
