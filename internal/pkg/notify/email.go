package notify

import (
	"fmt"
	"log/slog"
	"strings"

	"shotnews/internal/config"

	"gopkg.in/gomail.v2"
)

// EmailNotifier 实现邮件通知。
type EmailNotifier struct {
	cfg    *config.EmailConfig
	logger *slog.Logger
}

// NewEmailNotifier 创建一个新的邮件通知器。
func NewEmailNotifier(cfg *config.EmailConfig, logger *slog.Logger) *EmailNotifier {
	return &EmailNotifier{
		cfg:    cfg,
		logger: logger,
	}
}

// SendWelcome 发送注册欢迎邮件。
func (n *EmailNotifier) SendWelcome(toEmail string, name string) error {
	body := fmt.Sprintf(`<!DOCTYPE html>
<html>
<body style="font-family: Arial, sans-serif;">
  <div style="max-width: 520px; margin: 0 auto; padding: 16px;">
    <h2>Welcome to Shot News</h2>
    <p>Hi %s,</p>
    <p>Your account is ready. Subscribe to categories you care about and we will
    keep the headlines coming.</p>
  </div>
</body>
</html>`, htmlEscape(name))

	return n.send(toEmail, "[Shot News] Welcome aboard", body)
}

// SendPasswordReset 发送密码重置邮件。
func (n *EmailNotifier) SendPasswordReset(toEmail string, token string, ttlMinutes int) error {
	body := fmt.Sprintf(`<!DOCTYPE html>
<html>
<body style="font-family: Arial, sans-serif;">
  <div style="max-width: 520px; margin: 0 auto; padding: 16px;">
    <h2>Shot News password reset</h2>
    <p>Use the token below to reset your password:</p>
    <div style="font-size: 16px; font-weight: bold; word-break: break-all;">%s</div>
    <p>The token expires in %d minutes. If you did not request a reset you can
    ignore this email.</p>
  </div>
</body>
</html>`, token, ttlMinutes)

	return n.send(toEmail, "[Shot News] Password reset", body)
}

// SendDigest 发送分类订阅摘要。
func (n *EmailNotifier) SendDigest(toEmail string, category string, articles []DigestArticle) error {
	if len(articles) == 0 {
		return nil
	}

	var items strings.Builder
	for _, a := range articles {
		img := ""
		if a.ImageURL != "" {
			img = fmt.Sprintf(`<img src="%s" alt="" style="width: 100%%; max-width: 480px; border-radius: 8px; margin-bottom: 8px;" />`, a.ImageURL)
		}
		items.WriteString(fmt.Sprintf(`
      <div style="margin-bottom: 20px;">
        %s
        <div style="font-size: 16px; font-weight: bold;"><a href="%s" style="color: #0f172a; text-decoration: none;">%s</a></div>
      </div>`, img, a.URL, htmlEscape(a.Title)))
	}

	body := fmt.Sprintf(`<!DOCTYPE html>
<html>
<body style="font-family: Arial, sans-serif; background: #f6f7fb; color: #1f2937;">
  <div style="max-width: 600px; margin: 24px auto; background: #ffffff; border-radius: 12px; border: 1px solid #e5e7eb;">
    <div style="background: #0f172a; color: #ffffff; padding: 16px 20px; font-size: 16px; font-weight: bold;">[Shot News] New in %s</div>
    <div style="padding: 20px;">%s</div>
    <div style="padding: 0 20px 20px; font-size: 12px; color: #6b7280;">You receive this because you subscribed to %s.</div>
  </div>
</body>
</html>`, htmlEscape(category), items.String(), htmlEscape(category))

	return n.send(toEmail, fmt.Sprintf("[Shot News] New in %s", category), body)
}

func (n *EmailNotifier) send(toEmail string, subject string, htmlBody string) error {
	if n.cfg.SMTPHost == "" || n.cfg.SMTPUser == "" || n.cfg.FromEmail == "" {
		n.logger.Warn("email config missing, skip notification")
		return nil
	}
	if strings.TrimSpace(toEmail) == "" {
		return fmt.Errorf("empty recipient")
	}

	m := gomail.NewMessage()
	m.SetHeader("From", n.cfg.FromEmail)
	m.SetHeader("To", toEmail)
	m.SetHeader("Subject", subject)
	m.SetBody("text/html", htmlBody)

	d := gomail.NewDialer(n.cfg.SMTPHost, n.cfg.SMTPPort, n.cfg.SMTPUser, n.cfg.SMTPPass)
	if err := d.DialAndSend(m); err != nil {
		return fmt.Errorf("send email: %w", err)
	}

	n.logger.Info("email sent", slog.String("to", toEmail), slog.String("subject", subject))
	return nil
}

func htmlEscape(s string) string {
	r := strings.NewReplacer("&", "&amp;", "<", "&lt;", ">", "&gt;", `"`, "&quot;")
	return r.Replace(s)
}
