// Package handlers provides the finished-run handlers for the worker.
// Each handler receives the final snapshot of one run and can be registered
// with the worker under its own name.
package handlers

import (
	"context"
	"errors"
	"fmt"
	"html"
	"strings"
	"time"

	"github.com/nadmax/autocourse/internal/logger"
	"github.com/nadmax/autocourse/internal/task"
	"github.com/sendgrid/rest"
	"github.com/sendgrid/sendgrid-go"
	"github.com/sendgrid/sendgrid-go/helpers/mail"
)

var ErrNoRecipients = errors.New("no notification recipients")

// Sender is the part of the SendGrid client the notifier uses.
type Sender interface {
	SendWithContext(ctx context.Context, email *mail.SGMailV3) (*rest.Response, error)
}

type EmailNotifier struct {
	client Sender
	from   *mail.Email
	to     []string
	log    *logger.Logger
}

func NewEmailNotifier(apiKey, fromName, fromAddress, to string, log *logger.Logger) *EmailNotifier {
	return NewEmailNotifierWithSender(sendgrid.NewSendClient(apiKey), fromName, fromAddress, to, log)
}

func NewEmailNotifierWithSender(client Sender, fromName, fromAddress, to string, log *logger.Logger) *EmailNotifier {
	if log == nil {
		log = logger.Nop()
	}

	return &EmailNotifier{
		client: client,
		from:   mail.NewEmail(fromName, fromAddress),
		to:     splitRecipients(to),
		log:    log.With("handler", "email"),
	}
}

// Notify mails a summary of a completed or failed run. Paused runs are
// stopped on request and are not reported.
func (n *EmailNotifier) Notify(ctx context.Context, t task.Task) error {
	if !t.Status.IsTerminal() {
		return nil
	}
	if len(n.to) == 0 {
		return ErrNoRecipients
	}

	subject, plain, htmlBody := Summary(t)

	msg := mail.NewV3Mail()
	msg.SetFrom(n.from)
	msg.Subject = subject
	p := mail.NewPersonalization()
	for _, addr := range n.to {
		p.AddTos(mail.NewEmail("", addr))
	}
	msg.AddPersonalizations(p)
	msg.AddContent(mail.NewContent("text/plain", plain), mail.NewContent("text/html", htmlBody))

	response, err := n.client.SendWithContext(ctx, msg)
	if err != nil {
		return fmt.Errorf("failed to send email: %w", err)
	}
	if response.StatusCode >= 400 {
		return fmt.Errorf("sendgrid error: status %d", response.StatusCode)
	}

	n.log.Info("run summary sent", "key", t.Key, "recipients", len(n.to), "status", response.StatusCode)
	return nil
}

// Summary renders the subject and bodies of a run summary.
func Summary(t task.Task) (string, string, string) {
	subject := fmt.Sprintf("[autocourse] %s %s", t.Key, t.Status)

	lines := []string{
		fmt.Sprintf("Task: %s (%s)", t.Key, t.Type),
		fmt.Sprintf("Course: %s", t.CourseSlug),
		fmt.Sprintf("Status: %s", t.Status),
		fmt.Sprintf("Progress: %d%%", t.Progress),
		fmt.Sprintf("Result: %s", t.Message),
	}
	if t.FinishedAt != nil {
		lines = append(lines, fmt.Sprintf("Duration: %s", t.FinishedAt.Sub(t.StartTime).Round(time.Second)))
	}

	var b strings.Builder
	b.WriteString("<ul>")
	for _, l := range lines {
		b.WriteString("<li>")
		b.WriteString(html.EscapeString(l))
		b.WriteString("</li>")
	}
	b.WriteString("</ul>")

	return subject, strings.Join(lines, "\n"), b.String()
}

func splitRecipients(to string) []string {
	var out []string
	for _, addr := range strings.Split(to, ",") {
		if addr = strings.TrimSpace(addr); addr != "" {
			out = append(out, addr)
		}
	}
	return out
}
