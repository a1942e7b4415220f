package service

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"html/template"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	repository "github.com/ds124wfegd/library-reservations/internal/database/postgres"
	"github.com/ds124wfegd/library-reservations/internal/locale"
)

const noticeDateLayout = "02/01/2006"

// NoticeLine is one reserved item in a cardholder's pickup summary.
type NoticeLine struct {
	QueueID    int64     `json:"queue_id"`
	Title      string    `json:"title"`
	Author     string    `json:"author"`
	Code       string    `json:"code"`
	ExpiryDate time.Time `json:"expiry_date"`
}

// AssignmentNotice groups everything assigned to one cardholder in one run.
type AssignmentNotice struct {
	LibraryCardID uuid.UUID    `json:"library_card_id"`
	Email         string       `json:"email"`
	Name          string       `json:"name"`
	TelegramID    string       `json:"telegram_id"`
	Lines         []NoticeLine `json:"lines"`
}

func (n *AssignmentNotice) QueueIDs() []int64 {
	ids := make([]int64, 0, len(n.Lines))
	for _, line := range n.Lines {
		ids = append(ids, line.QueueID)
	}
	return ids
}

// MailSender отправляет HTML-письмо
type MailSender interface {
	Send(ctx context.Context, to, subject, htmlBody string) error
}

// MessageSender отправляет текстовое сообщение в мессенджер
type MessageSender interface {
	SendMessage(chatID, text string) error
}

var assignedMailTemplate = template.Must(template.New("assigned").Parse(`<!DOCTYPE html>
<html>
<body>
<h2>{{.Heading}}</h2>
<p>{{.Intro}}</p>
<table border="1" cellpadding="6" cellspacing="0">
<tr><th>{{.ColTitle}}</th><th>{{.ColAuthor}}</th><th>{{.ColCode}}</th><th>{{.ColExpiry}}</th></tr>
{{range .Rows}}<tr><td>{{.Title}}</td><td>{{.Author}}</td><td>{{.Code}}</td><td>{{.Expiry}}</td></tr>
{{end}}</table>
<p>{{.Footer}}</p>
</body>
</html>`))

type mailRow struct {
	Title  string
	Author string
	Code   string
	Expiry string
}

type mailView struct {
	Heading   string
	Intro     string
	ColTitle  string
	ColAuthor string
	ColCode   string
	ColExpiry string
	Rows      []mailRow
	Footer    string
}

// RenderAssignedMail returns the localized subject and HTML body of a pickup summary.
func RenderAssignedMail(lang locale.Lang, notice *AssignmentNotice, loc *time.Location) (string, string, error) {
	view := mailView{
		Heading:   locale.Msg(lang, locale.MailAssignedHeading),
		Intro:     locale.Msg(lang, locale.MailAssignedIntro, notice.Name),
		ColTitle:  locale.Msg(lang, locale.MailColTitle),
		ColAuthor: locale.Msg(lang, locale.MailColAuthor),
		ColCode:   locale.Msg(lang, locale.MailColCode),
		ColExpiry: locale.Msg(lang, locale.MailColExpiry),
		Footer:    locale.Msg(lang, locale.MailAssignedFooter),
	}
	for _, line := range notice.Lines {
		view.Rows = append(view.Rows, mailRow{
			Title:  line.Title,
			Author: line.Author,
			Code:   line.Code,
			Expiry: line.ExpiryDate.In(loc).Format(noticeDateLayout),
		})
	}

	var body bytes.Buffer
	if err := assignedMailTemplate.Execute(&body, view); err != nil {
		return "", "", fmt.Errorf("failed to render notification: %w", err)
	}

	return locale.Msg(lang, locale.MailAssignedSubject), body.String(), nil
}

func renderAssignedText(lang locale.Lang, notice *AssignmentNotice, loc *time.Location) string {
	var b strings.Builder
	b.WriteString(locale.Msg(lang, locale.MailAssignedIntro, notice.Name))
	for _, line := range notice.Lines {
		fmt.Fprintf(&b, "\n- %s (%s): %s, %s",
			line.Title, line.Code, locale.Msg(lang, locale.MailColExpiry), line.ExpiryDate.In(loc).Format(noticeDateLayout))
	}
	return b.String()
}

// notificationSender доставляет уведомление сразу
type notificationSender struct {
	mailer          MailSender
	messenger       MessageSender
	reservationRepo repository.ReservationRepository
	loc             *time.Location
}

func NewNotificationSender(
	mailer MailSender,
	messenger MessageSender,
	reservationRepo repository.ReservationRepository,
	loc *time.Location,
) Notifier {
	return &notificationSender{
		mailer:          mailer,
		messenger:       messenger,
		reservationRepo: reservationRepo,
		loc:             loc,
	}
}

func (n *notificationSender) NotifyAssigned(ctx context.Context, lang locale.Lang, notice *AssignmentNotice) error {
	if len(notice.Lines) == 0 {
		return nil
	}

	if n.mailer != nil && notice.Email != "" {
		subject, body, err := RenderAssignedMail(lang, notice, n.loc)
		if err != nil {
			return err
		}
		if err := n.mailer.Send(ctx, notice.Email, subject, body); err != nil {
			return fmt.Errorf("failed to send email to card %s: %w", notice.LibraryCardID, err)
		}
	}

	// Telegram дополнительный канал, ошибка не критична
	if n.messenger != nil && notice.TelegramID != "" {
		if err := n.messenger.SendMessage(notice.TelegramID, renderAssignedText(lang, notice, n.loc)); err != nil {
			logrus.WithError(err).WithField("card_id", notice.LibraryCardID).Warn("Failed to send telegram notification")
		}
	}

	if err := n.reservationRepo.MarkNotified(ctx, notice.QueueIDs()); err != nil {
		return err
	}

	logrus.WithFields(logrus.Fields{
		"card_id": notice.LibraryCardID,
		"items":   len(notice.Lines),
	}).Info("Assignment notification delivered")

	return nil
}

// queuedNotifier откладывает доставку в очередь задач
type queuedNotifier struct {
	queue      TaskPublisher
	maxRetries int
}

func NewQueuedNotifier(queue TaskPublisher, maxRetries int) Notifier {
	return &queuedNotifier{queue: queue, maxRetries: maxRetries}
}

func (n *queuedNotifier) NotifyAssigned(ctx context.Context, lang locale.Lang, notice *AssignmentNotice) error {
	raw, err := json.Marshal(notice)
	if err != nil {
		return fmt.Errorf("failed to encode notice: %w", err)
	}

	var payload map[string]interface{}
	if err := json.Unmarshal(raw, &payload); err != nil {
		return fmt.Errorf("failed to encode notice: %w", err)
	}

	return n.queue.Publish(ctx, &Task{
		ID:   uuid.NewString(),
		Type: TaskTypeSendNotification,
		Data: map[string]interface{}{
			"lang":   string(lang),
			"notice": payload,
		},
		MaxRetries: n.maxRetries,
	})
}

// DecodeNotificationTask восстанавливает уведомление из данных задачи
func DecodeNotificationTask(data map[string]interface{}) (locale.Lang, *AssignmentNotice, error) {
	lang := locale.English
	if s, ok := data["lang"].(string); ok {
		lang = locale.Lang(s)
	}

	raw, err := json.Marshal(data["notice"])
	if err != nil {
		return "", nil, fmt.Errorf("failed to decode notice: %w", err)
	}

	var notice AssignmentNotice
	if err := json.Unmarshal(raw, &notice); err != nil {
		return "", nil, fmt.Errorf("failed to decode notice: %w", err)
	}
	if len(notice.Lines) == 0 {
		return "", nil, fmt.Errorf("notice for card %s has no lines", notice.LibraryCardID)
	}

	return lang, &notice, nil
}
