package model

import (
	"strings"
	"time"
)

// 新闻可见性。
const (
	VisibilityPublic  = "public"
	VisibilityPrivate = "private"
)

// Category 表示新闻分类。
//
// 分类由管理员维护，News 与用户订阅均引用它。
// 删除分类不会级联删除引用它的新闻（引用被置空）。
type Category struct {
	ID          uint      `gorm:"primaryKey"`                   // 分类 ID
	Name        string    `gorm:"type:varchar(64);uniqueIndex"` // 名称（唯一）
	Description string    `gorm:"type:varchar(255)"`            // 描述
	CreatedAt   time.Time // 创建时间
}

// News 表示一篇新闻。
//
// Tags 在数据库中以逗号分隔存储，读写通过 TagList / SetTagList 转换。
type News struct {
	ID        uint      `gorm:"primaryKey"` // 新闻 ID
	CreatedAt time.Time // 创建时间
	UpdatedAt time.Time // 更新时间

	Title       string    `gorm:"type:varchar(255);not null"` // 标题
	Description string    `gorm:"type:text"`                  // 正文
	ImageURL    string    `gorm:"type:varchar(512)"`          // 封面图公开链接
	ImageKey    string    `gorm:"type:varchar(191)"`          // 对象存储中的 key（用于删除）
	PublishedAt time.Time // 发布时间
	Tags        string    `gorm:"type:varchar(512)"`               // 逗号分隔的标签
	CategoryID  *uint     `gorm:"index"`                           // 所属分类（可为空）
	Category    *Category `gorm:"foreignKey:CategoryID"`           // 所属分类
	Visibility  string    `gorm:"type:varchar(16);default:public"` // public / private
	Views       int64     `gorm:"default:0"`                       // 浏览计数

	Comments []Comment `gorm:"foreignKey:NewsID"` // 评论列表
}

// Comment 表示新闻下的一条评论。
//
// 评论只有创建与删除，没有编辑。
type Comment struct {
	ID        uint      `gorm:"primaryKey"` // 评论 ID
	CreatedAt time.Time // 创建时间

	Text   string `gorm:"type:text;not null"` // 内容
	UserID uint   `gorm:"index;not null"`     // 评论者
	User   User   `gorm:"foreignKey:UserID"`
	NewsID uint   `gorm:"index;not null"` // 所属新闻
}

// TagList 返回解析后的标签切片。
func (n *News) TagList() []string {
	if strings.TrimSpace(n.Tags) == "" {
		return []string{}
	}
	parts := strings.Split(n.Tags, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if t := strings.TrimSpace(p); t != "" {
			out = append(out, t)
		}
	}
	return out
}

// SetTagList 规范化并写入标签。
func (n *News) SetTagList(tags []string) {
	cleaned := make([]string, 0, len(tags))
	for _, t := range tags {
		if t = strings.TrimSpace(t); t != "" {
			cleaned = append(cleaned, t)
		}
	}
	n.Tags = strings.Join(cleaned, ",")
}
