package notify

// DigestArticle 摘要邮件中的一条新闻。
type DigestArticle struct {
	Title    string // 标题
	ImageURL string // 封面图链接
	URL      string // 文章链接
}

// Notifier 定义通知接口。
//
// 所有通知都是尽力而为：发送失败只记录日志，不影响主流程。
type Notifier interface {
	// SendWelcome 发送注册欢迎邮件。
	SendWelcome(toEmail string, name string) error

	// SendPasswordReset 发送密码重置邮件。
	//
	// 参数:
	//   toEmail: 接收邮箱
	//   token: 重置令牌明文（只在此处出现一次，不落库）
	//   ttlMinutes: 令牌有效期（分钟）
	SendPasswordReset(toEmail string, token string, ttlMinutes int) error

	// SendDigest 发送分类订阅摘要。
	SendDigest(toEmail string, category string, articles []DigestArticle) error
}
