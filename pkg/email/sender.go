package email

import (
	"context"
	"strings"
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"golang.org/x/time/rate"

	"github.com/odvcencio/excella/pkg/conversation"
	"github.com/odvcencio/excella/pkg/errors"
	"github.com/odvcencio/excella/pkg/logging"
	"github.com/odvcencio/excella/pkg/telemetry"
)

var metricSends = promauto.NewCounterVec(prometheus.CounterOpts{
	Namespace: "excella",
	Name:      "email_sends_total",
	Help:      "send_email calls by outcome.",
}, []string{"outcome"})

const defaultFrom = "Excella <excella@localhost>"

// Sender resolves handles and delivers the approved drafts.
type Sender struct {
	mailer  Mailer
	limiter *rate.Limiter
	from    string
	logger  *logging.Logger
	hub     *telemetry.Hub
	now     func() time.Time
}

// Option configures a Sender.
type Option func(*Sender)

// WithFrom sets the From header.
func WithFrom(from string) Option {
	return func(s *Sender) {
		if strings.TrimSpace(from) != "" {
			s.from = strings.TrimSpace(from)
		}
	}
}

// WithRateLimit allows perMinute sends with the given burst. Zero disables
// limiting.
func WithRateLimit(perMinute, burst int) Option {
	return func(s *Sender) {
		if perMinute <= 0 {
			s.limiter = nil
			return
		}
		if burst <= 0 {
			burst = 1
		}
		s.limiter = rate.NewLimiter(rate.Every(time.Minute/time.Duration(perMinute)), burst)
	}
}

// WithLogger attaches a logger.
func WithLogger(l *logging.Logger) Option {
	return func(s *Sender) { s.logger = l }
}

// WithHub publishes send events.
func WithHub(h *telemetry.Hub) Option {
	return func(s *Sender) { s.hub = h }
}

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(s *Sender) {
		if now != nil {
			s.now = now
		}
	}
}

// NewSender creates a Sender delivering through mailer. A nil mailer makes
// every send fail with a configuration error.
func NewSender(mailer Mailer, opts ...Option) *Sender {
	s := &Sender{mailer: mailer, from: defaultFrom, now: time.Now}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Send delivers the draft behind handle. Only a handle found in a prior
// accepted propose_email result, and not yet used, is honoured; everything
// else fails with InvalidHandleMessage.
func (s *Sender) Send(ctx context.Context, h conversation.History, handle string) (SendResult, error) {
	if s.mailer == nil {
		metricSends.WithLabelValues("unconfigured").Inc()
		return SendResult{}, errors.New(errors.ErrCodeConfigInvalid, "no mailer configured").
			WithUserMessage("Email sending is not configured. Ask the user to configure an email outbox.")
	}

	res := Registry.ResolveContext(ctx, h, handle)
	if !res.OK() {
		metricSends.WithLabelValues(string(res.Status)).Inc()
		s.logger.Warn(logging.CategoryEmail, "handle_rejected", res.Err.Message, map[string]any{
			"handle": handle,
			"status": string(res.Status),
		})
		s.hub.Publish(telemetry.Event{
			Type: telemetry.EventEmailRejected,
			Data: map[string]any{"handle": handle, "status": string(res.Status)},
		})
		return SendResult{}, res.Err
	}

	if s.limiter != nil {
		if err := s.limiter.Wait(ctx); err != nil {
			metricSends.WithLabelValues("rate_limited").Inc()
			return SendResult{}, errors.Wrap(err, errors.ErrCodeExecution, "email rate limit wait").
				WithUserMessage("Too many emails were sent recently. Try again in a minute.")
		}
	}

	p := res.Record.Payload
	htmlBody, err := RenderHTML(p.Body)
	if err != nil {
		return SendResult{}, errors.Wrap(err, errors.ErrCodeInternal, "render email")
	}
	msg := Message{
		ID:        ulid.Make().String(),
		Handle:    p.EmailHandle,
		From:      s.from,
		To:        []string{p.To},
		Subject:   p.Subject,
		Text:      p.Body,
		HTML:      htmlBody,
		CreatedAt: s.now().UTC(),
	}
	if err := s.mailer.Deliver(ctx, msg); err != nil {
		metricSends.WithLabelValues("failed").Inc()
		s.logger.Error(logging.CategoryEmail, "deliver_failed", err.Error(), map[string]any{"handle": p.EmailHandle})
		return SendResult{}, errors.Wrap(err, errors.ErrCodeExecution, "deliver email").
			WithUserMessage("The email could not be delivered: " + err.Error())
	}

	metricSends.WithLabelValues("sent").Inc()
	s.logger.Info(logging.CategoryEmail, "sent", p.Subject, map[string]any{
		"handle": p.EmailHandle,
		"id":     msg.ID,
	})
	s.hub.Publish(telemetry.Event{
		Type: telemetry.EventEmailSent,
		Data: map[string]any{"handle": p.EmailHandle, "messageId": msg.ID},
	})
	return SendResult{Response: SentResponse, EmailHandle: p.EmailHandle, Sent: true, MessageID: msg.ID}, nil
}
