// mail — отправка служебных писем (коды сброса пароля).
// Бизнес-логика зависит от интерфейса Sender, чтобы в тестах
// подменять SMTP на мок.
package mail

import (
	"context"
	"fmt"
	"time"

	gomail "github.com/wneessen/go-mail"

	"github.com/advisoria/auth-service/internal/config"
)

// Sender отправляет одноразовый код сброса пароля.
type Sender interface {
	// SendOTP отправляет письмо с кодом code, действительным до expiresAt.
	SendOTP(ctx context.Context, to, name, code string, expiresAt time.Time) error
}

// SMTPSender — реализация Sender поверх SMTP.
type SMTPSender struct {
	client *gomail.Client
	from   string
}

// NewSMTPSender создаёт SMTP-клиент по конфигурации.
// Отправка идёт синхронно в рамках запроса (см. forgot-password).
func NewSMTPSender(cfg config.SMTPConfig) (*SMTPSender, error) {
	const op = "mail.NewSMTPSender"

	opts := []gomail.Option{
		gomail.WithPort(cfg.Port),
		gomail.WithTLSPolicy(gomail.TLSOpportunistic),
	}

	if cfg.Username != "" {
		opts = append(opts,
			gomail.WithSMTPAuth(gomail.SMTPAuthPlain),
			gomail.WithUsername(cfg.Username),
			gomail.WithPassword(cfg.Password),
		)
	}

	client, err := gomail.NewClient(cfg.Host, opts...)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	return &SMTPSender{client: client, from: cfg.From}, nil
}

// SendOTP отправляет письмо с кодом сброса пароля.
func (s *SMTPSender) SendOTP(ctx context.Context, to, name, code string, expiresAt time.Time) error {
	const op = "mail.SendOTP"

	msg := gomail.NewMsg()
	if err := msg.From(s.from); err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	if err := msg.To(to); err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}

	msg.Subject("Код для сброса пароля")
	msg.SetBodyString(gomail.TypeTextPlain, otpBody(name, code, expiresAt))

	if err := s.client.DialAndSendWithContext(ctx, msg); err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}

	return nil
}

func otpBody(name, code string, expiresAt time.Time) string {
	return fmt.Sprintf(
		"Здравствуйте, %s!\n\n"+
			"Ваш одноразовый код для сброса пароля: %s\n"+
			"Код действителен до %s (UTC).\n\n"+
			"Если вы не запрашивали сброс пароля, проигнорируйте это письмо.\n",
		name, code, expiresAt.UTC().Format("15:04 02.01.2006"),
	)
}

var _ Sender = (*SMTPSender)(nil)
