// Package digest 实现订阅摘要的定时派发循环。
package digest

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"shotnews/internal/model"
	"shotnews/internal/pkg/metrics"
	"shotnews/internal/pkg/notify"
	"shotnews/internal/pkg/queue"

	"gorm.io/gorm"
)

// Digest 周期性扫描新发布的公开新闻，并按分类给订阅用户发送摘要邮件。
//
// 每个周期只关注上个周期之后发布的文章；没有新文章的分类不发信。
// 邮件通过内存队列异步发送，发送失败不会阻塞下一轮扫描。
type Digest struct {
	db        *gorm.DB
	logger    *slog.Logger
	notifier  notify.Notifier
	mailQueue *queue.Queue
	interval  time.Duration

	lastRun time.Time
}

// New 创建摘要派发器。interval 小于等于 0 时 Run 直接返回（功能关闭）。
func New(db *gorm.DB, logger *slog.Logger, notifier notify.Notifier, mailQueue *queue.Queue, interval time.Duration) *Digest {
	return &Digest{
		db:        db,
		logger:    logger,
		notifier:  notifier,
		mailQueue: mailQueue,
		interval:  interval,
		lastRun:   time.Now(),
	}
}

// Run 启动派发循环，直到 ctx 被取消。
func (d *Digest) Run(ctx context.Context) {
	if d.interval <= 0 {
		d.logger.Info("digest disabled")
		return
	}
	d.logger.Info("digest loop started", slog.String("interval", d.interval.String()))

	ticker := time.NewTicker(d.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			d.logger.Info("digest loop stopped")
			return
		case <-ticker.C:
			d.runOnce(ctx)
		}
	}
}

// runOnce 执行一轮扫描与派发。
//
// 扫描失败时窗口不前移，漏掉的文章会在下一轮补发。
func (d *Digest) runOnce(ctx context.Context) {
	since := d.lastRun
	now := time.Now()

	var articles []model.News
	if err := d.db.WithContext(ctx).
		Where("visibility = ? AND category_id IS NOT NULL AND published_at > ? AND published_at <= ?",
			model.VisibilityPublic, since, now).
		Order("published_at DESC").
		Find(&articles).Error; err != nil {
		d.logger.Error("digest scan failed", slog.String("error", err.Error()))
		return
	}
	d.lastRun = now
	if len(articles) == 0 {
		return
	}

	// 按分类分组
	byCategory := make(map[uint][]notify.DigestArticle)
	for _, a := range articles {
		if a.CategoryID == nil {
			continue
		}
		byCategory[*a.CategoryID] = append(byCategory[*a.CategoryID], notify.DigestArticle{
			Title:    a.Title,
			ImageURL: a.ImageURL,
			URL:      fmt.Sprintf("/news/%d", a.ID),
		})
	}

	for categoryID, items := range byCategory {
		d.dispatchCategory(ctx, categoryID, items)
	}
}

// dispatchCategory 给某个分类的所有订阅者入队摘要邮件。
func (d *Digest) dispatchCategory(ctx context.Context, categoryID uint, articles []notify.DigestArticle) {
	var category model.Category
	if err := d.db.WithContext(ctx).First(&category, categoryID).Error; err != nil {
		d.logger.Warn("digest load category failed",
			slog.Uint64("category_id", uint64(categoryID)),
			slog.String("error", err.Error()))
		return
	}

	var emails []string
	if err := d.db.WithContext(ctx).
		Table("users").
		Select("users.email").
		Joins("JOIN user_subscriptions ON user_subscriptions.user_id = users.id").
		Where("user_subscriptions.category_id = ? AND users.is_blocked = ?", categoryID, false).
		Pluck("email", &emails).Error; err != nil {
		d.logger.Error("digest load subscribers failed",
			slog.Uint64("category_id", uint64(categoryID)),
			slog.String("error", err.Error()))
		return
	}
	if len(emails) == 0 {
		return
	}

	d.logger.Info("dispatching digest",
		slog.String("category", category.Name),
		slog.Int("articles", len(articles)),
		slog.Int("subscribers", len(emails)))

	for _, email := range emails {
		toEmail := email
		job := func(ctx context.Context) error {
			return d.notifier.SendDigest(toEmail, category.Name, articles)
		}
		if d.mailQueue != nil && d.mailQueue.Enqueue(job) {
			metrics.EmailsQueuedTotal.Inc()
			continue
		}
		// 队列满或未启动时降级为同步发送
		if err := d.notifier.SendDigest(toEmail, category.Name, articles); err != nil {
			metrics.EmailsFailedTotal.Inc()
			d.logger.Warn("digest mail failed",
				slog.String("category", category.Name),
				slog.String("error", err.Error()))
		}
	}
}
