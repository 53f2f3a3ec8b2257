// Package notification turns relayed appointment events into patient e-mails.
package notification

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"html/template"

	"github.com/rs/zerolog"

	"github.com/careflow/careflow-api/internal/email"
	"github.com/careflow/careflow-api/internal/model"
	"github.com/careflow/careflow-api/pkg/messaging"
)

var subjects = map[string]string{
	model.EventAppointmentCreated:     "Your appointment is booked",
	model.EventAppointmentRescheduled: "Your appointment has moved",
	model.EventAppointmentCancelled:   "Your appointment was cancelled",
}

var body = template.Must(template.New("notice").Parse(`<p>Hello {{.PatientName}},</p>
<p>{{.Headline}}</p>
<p>{{.Date}} {{.Start}}-{{.End}} with {{.PractitionerName}}.</p>
{{if .Reason}}<p>Reason: {{.Reason}}</p>{{end}}`))

type Service struct {
	broker  messaging.Broker
	mail    email.Service
	channel string
	log     zerolog.Logger
}

func NewService(broker messaging.Broker, mail email.Service, channel string, log zerolog.Logger) *Service {
	return &Service{
		broker:  broker,
		mail:    mail,
		channel: channel,
		log:     log.With().Str("component", "notification").Logger(),
	}
}

// Run consumes the event channel until ctx is done or the subscription closes.
func (s *Service) Run(ctx context.Context) error {
	messages, err := s.broker.Subscribe(ctx, s.channel)
	if err != nil {
		return fmt.Errorf("subscribe %s: %w", s.channel, err)
	}
	for {
		select {
		case <-ctx.Done():
			return nil
		case raw, ok := <-messages:
			if !ok {
				return nil
			}
			if err := s.Handle(ctx, raw); err != nil {
				s.log.Error().Err(err).Msg("notification failed")
			}
		}
	}
}

// Handle sends the e-mail for one relayed message. Events that carry no
// patient-facing notice are ignored.
func (s *Service) Handle(ctx context.Context, raw []byte) error {
	var msg messaging.Message
	if err := json.Unmarshal(raw, &msg); err != nil {
		return fmt.Errorf("decode message: %w", err)
	}
	subject, ok := subjects[msg.Type]
	if !ok {
		return nil
	}

	var notice model.AppointmentNotice
	if err := json.Unmarshal(msg.Payload, &notice); err != nil {
		return fmt.Errorf("decode %s payload: %w", msg.Type, err)
	}
	if notice.PatientEmail == "" {
		s.log.Debug().Str("appointment_id", notice.AppointmentID.String()).Msg("patient has no e-mail")
		return nil
	}

	html, err := render(subject, notice)
	if err != nil {
		return err
	}
	text := fmt.Sprintf("%s: %s with %s.", subject, notice.Interval.String(), notice.PractitionerName)
	if err := s.mail.Send(ctx, email.Message{To: notice.PatientEmail, Subject: subject, Text: text, HTML: html}); err != nil {
		return fmt.Errorf("send %s for %s: %w", msg.Type, notice.AppointmentID, err)
	}
	s.log.Info().Str("event", msg.Type).Str("appointment_id", notice.AppointmentID.String()).Msg("notification sent")
	return nil
}

func render(headline string, n model.AppointmentNotice) (string, error) {
	var buf bytes.Buffer
	err := body.Execute(&buf, map[string]interface{}{
		"PatientName":      n.PatientName,
		"PractitionerName": n.PractitionerName,
		"Headline":         headline,
		"Date":             n.Date.String(),
		"Start":            n.Start.String(),
		"End":              n.End.String(),
		"Reason":           n.Reason,
	})
	return buf.String(), err
}
