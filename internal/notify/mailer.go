// Package notify はSendGridを使用したメール送信を提供する。
package notify

import (
	"context"
	"fmt"
	"html"
	"log/slog"
	"time"

	"github.com/sendgrid/sendgrid-go"
	"github.com/sendgrid/sendgrid-go/helpers/mail"

	"github.com/trackpay/trackpay-api/internal/model"
)

// senderName は送信元の表示名。
const senderName = "TrackPay"

// InviteEmail は招待コードメールの内容。
type InviteEmail struct {
	To           string
	ClientName   string
	ProviderName string
	Code         string
	Language     model.Language
	ExpiresAt    time.Time
}

// Mailer はメール送信のインターフェース。
type Mailer interface {
	SendInvite(ctx context.Context, msg InviteEmail) error
}

// SendGridMailer はSendGrid v3 APIでメールを送信する。
type SendGridMailer struct {
	client *sendgrid.Client
	from   *mail.Email
}

// NewSendGridMailer はSendGridMailerを生成する。
func NewSendGridMailer(apiKey, sender string) *SendGridMailer {
	return &SendGridMailer{
		client: sendgrid.NewSendClient(apiKey),
		from:   mail.NewEmail(senderName, sender),
	}
}

// newSendGridMailerWithHost は送信先ホストを差し替えたSendGridMailerを生成する。テスト用。
func newSendGridMailerWithHost(apiKey, sender, host string) *SendGridMailer {
	req := sendgrid.GetRequest(apiKey, "/v3/mail/send", host)
	req.Method = "POST"
	return &SendGridMailer{
		client: &sendgrid.Client{Request: req},
		from:   mail.NewEmail(senderName, sender),
	}
}

// SendInvite は招待コードをクライアントの言語で送信する。
func (m *SendGridMailer) SendInvite(ctx context.Context, msg InviteEmail) error {
	content := renderInvite(msg)
	to := mail.NewEmail(msg.ClientName, msg.To)
	message := mail.NewSingleEmail(m.from, content.subject, to, content.text, content.html)

	resp, err := m.client.SendWithContext(ctx, message)
	if err != nil {
		return fmt.Errorf("failed to send invite email: %w", err)
	}
	if resp.StatusCode >= 300 {
		return fmt.Errorf("sendgrid returned status %d: %s", resp.StatusCode, resp.Body)
	}

	slog.Info("invite email sent",
		slog.String("language", string(msg.Language)),
		slog.Int("status", resp.StatusCode),
	)
	return nil
}

type inviteContent struct {
	subject string
	text    string
	html    string
}

// renderInvite は言語別の件名と本文を組み立てる。
func renderInvite(msg InviteEmail) inviteContent {
	expires := msg.ExpiresAt.UTC().Format("2006-01-02")

	var subject, text, body string
	switch msg.Language {
	case model.LanguageSpanish:
		subject = fmt.Sprintf("%s te invitó a TrackPay", msg.ProviderName)
		text = fmt.Sprintf(
			"Hola %s,\n\n%s te invitó a ver tus sesiones y pagos en TrackPay.\n\nTu código de invitación es: %s\n\nEl código vence el %s.\n",
			msg.ClientName, msg.ProviderName, msg.Code, expires)
		body = fmt.Sprintf(
			"<p>Hola %s,</p><p>%s te invitó a ver tus sesiones y pagos en TrackPay.</p><p>Tu código de invitación es: <strong>%s</strong></p><p>El código vence el %s.</p>",
			html.EscapeString(msg.ClientName), html.EscapeString(msg.ProviderName), html.EscapeString(msg.Code), expires)
	default:
		subject = fmt.Sprintf("%s invited you to TrackPay", msg.ProviderName)
		text = fmt.Sprintf(
			"Hi %s,\n\n%s invited you to see your sessions and payments on TrackPay.\n\nYour invite code is: %s\n\nThe code expires on %s.\n",
			msg.ClientName, msg.ProviderName, msg.Code, expires)
		body = fmt.Sprintf(
			"<p>Hi %s,</p><p>%s invited you to see your sessions and payments on TrackPay.</p><p>Your invite code is: <strong>%s</strong></p><p>The code expires on %s.</p>",
			html.EscapeString(msg.ClientName), html.EscapeString(msg.ProviderName), html.EscapeString(msg.Code), expires)
	}
	return inviteContent{subject: subject, text: text, html: body}
}

// compile-time interface check
var _ Mailer = (*SendGridMailer)(nil)
