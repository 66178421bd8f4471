package email

import (
	"context"
	"crypto/tls"
	"fmt"
	"html"
	"time"

	"gopkg.in/gomail.v2"

	"github.com/jwalitptl/sisreg-api/internal/model"
)

type Service interface {
	SendReferralScheduled(ctx context.Context, to string, ev *model.ReferralEvent) error
	SendReferralDenied(ctx context.Context, to string, ev *model.ReferralEvent) error
	SendRevisionRequested(ctx context.Context, to string, ev *model.ReferralEvent) error
	SendCustom(ctx context.Context, to string, subject string, content string) error
}

type Config struct {
	Host               string
	Port               int
	Username           string
	Password           string
	From               string
	SenderName         string
	InsecureSkipVerify bool
}

// dialer is the part of gomail.Dialer the mailer needs.
type dialer interface {
	DialAndSend(m ...*gomail.Message) error
}

type mailer struct {
	dialer dialer
	from   string
	loc    *time.Location
}

func NewService(cfg Config, loc *time.Location) Service {
	d := gomail.NewDialer(cfg.Host, cfg.Port, cfg.Username, cfg.Password)
	if cfg.InsecureSkipVerify {
		d.TLSConfig = &tls.Config{InsecureSkipVerify: true}
	}
	return newMailer(d, cfg, loc)
}

func newMailer(d dialer, cfg Config, loc *time.Location) *mailer {
	from := cfg.From
	if from == "" {
		from = cfg.Username
	}
	if cfg.SenderName != "" {
		from = fmt.Sprintf("%s <%s>", cfg.SenderName, from)
	}
	if loc == nil {
		loc = time.UTC
	}
	return &mailer{dialer: d, from: from, loc: loc}
}

func (s *mailer) SendReferralScheduled(ctx context.Context, to string, ev *model.ReferralEvent) error {
	subject := fmt.Sprintf("Encaminhamento agendado - %s", ev.PatientName)
	var when string
	if ev.Schedule != nil {
		when = fmt.Sprintf("<p>Data: <b>%s</b> às <b>%s</b><br>Local: %s<br>Médico: %s</p>",
			ev.Schedule.Date.Format("02/01/2006"),
			html.EscapeString(ev.Schedule.Slot),
			html.EscapeString(ev.Schedule.Destination),
			html.EscapeString(ev.Schedule.Physician))
	}
	body := fmt.Sprintf(`
		<div style="font-family: Arial, sans-serif; padding: 20px;">
			<h2>Encaminhamento agendado</h2>
			<p>O encaminhamento de <b>%s</b> foi autorizado pela regulação.</p>
			%s
			<p>Registrado por %s em %s.</p>
		</div>
	`, html.EscapeString(ev.PatientName), when, html.EscapeString(ev.ActorName), s.stamp(ev.OccurredAt))
	return s.send(ctx, to, subject, body)
}

func (s *mailer) SendReferralDenied(ctx context.Context, to string, ev *model.ReferralEvent) error {
	subject := fmt.Sprintf("Encaminhamento negado - %s", ev.PatientName)
	body := fmt.Sprintf(`
		<div style="font-family: Arial, sans-serif; padding: 20px;">
			<h2>Encaminhamento negado</h2>
			<p>O encaminhamento de <b>%s</b> foi negado.</p>
			<p>Justificativa: %s</p>
			<p>Registrado por %s em %s.</p>
		</div>
	`, html.EscapeString(ev.PatientName), html.EscapeString(ev.Reason), html.EscapeString(ev.ActorName), s.stamp(ev.OccurredAt))
	return s.send(ctx, to, subject, body)
}

func (s *mailer) SendRevisionRequested(ctx context.Context, to string, ev *model.ReferralEvent) error {
	subject := fmt.Sprintf("Revisão solicitada - %s", ev.PatientName)
	body := fmt.Sprintf(`
		<div style="font-family: Arial, sans-serif; padding: 20px;">
			<h2>Revisão solicitada</h2>
			<p>A regulação pediu a revisão do encaminhamento de <b>%s</b>.</p>
			<p>Motivo: %s</p>
			<p>Corrija os dados e reenvie o encaminhamento.</p>
		</div>
	`, html.EscapeString(ev.PatientName), html.EscapeString(ev.Reason))
	return s.send(ctx, to, subject, body)
}

func (s *mailer) SendCustom(ctx context.Context, to string, subject string, content string) error {
	return s.send(ctx, to, subject, content)
}

func (s *mailer) stamp(t time.Time) string {
	if t.IsZero() {
		return "-"
	}
	return t.In(s.loc).Format(model.AuditTimeLayout)
}

func (s *mailer) send(ctx context.Context, to, subject, body string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m := gomail.NewMessage()
	m.SetHeader("From", s.from)
	m.SetHeader("To", to)
	m.SetHeader("Subject", subject)
	m.SetBody("text/html", body)

	if err := s.dialer.DialAndSend(m); err != nil {
		return fmt.Errorf("send mail to %s: %w", to, err)
	}
	return nil
}
