package model

import "time"

// 用户角色。
const (
	RoleAdmin      = "admin"
	RoleSubscriber = "subscriber"
)

// User 表示系统用户。
type User struct {
	ID        uint      `gorm:"primaryKey"`                          // 用户 ID
	Name      string    `gorm:"type:varchar(64)"`                    // 昵称
	Email     string    `gorm:"type:varchar(191);uniqueIndex"`       // 邮箱（唯一）
	Password  string    `gorm:"not null"`                            // bcrypt 哈希
	Role      string    `gorm:"type:varchar(16);default:subscriber"` // 角色: admin / subscriber
	IsBlocked bool      `gorm:"default:false"`                       // 是否被封禁（封禁后无法登录）
	CreatedAt time.Time // 创建时间
	UpdatedAt time.Time // 更新时间

	ResetTokenHash string     `gorm:"type:varchar(191)"` // 重置令牌的 bcrypt 哈希（明文不落库）
	ResetExpiresAt *time.Time // 重置令牌过期时间

	Subscriptions []Category `gorm:"many2many:user_subscriptions"` // 订阅的分类
	SavedNews     []News     `gorm:"many2many:user_saved_news"`    // 收藏的新闻
}
