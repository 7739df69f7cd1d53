// Package delivery hands issued one-time codes to the voter. Senders never
// return the code to the caller and only log it when explicitly allowed.
package delivery

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/kozaktomas/voter-gate/internal/apperrors"
	"github.com/kozaktomas/voter-gate/internal/config"
	"github.com/kozaktomas/voter-gate/internal/identity"
	"github.com/kozaktomas/voter-gate/internal/logger"
)

// Delivery modes as used in DELIVERY_MODE.
const (
	ModeLog    = "log"
	ModeDirect = "direct"
	ModeQueue  = "queue"
)

// Message is one code to deliver.
type Message struct {
	To        string    `json:"to"`
	Code      string    `json:"code"`
	ExpiresAt time.Time `json:"expires_at"`
	Identity  string    `json:"identity"` // short identity key, for logs only
}

type Sender interface {
	Send(ctx context.Context, msg Message) error
}

// SenderFunc adapts a function to the Sender interface.
type SenderFunc func(ctx context.Context, msg Message) error

func (f SenderFunc) Send(ctx context.Context, msg Message) error { return f(ctx, msg) }

// New builds the sender selected by DELIVERY_MODE.
func New(cfg *config.Config, log *zap.Logger) (Sender, error) {
	switch cfg.Delivery.Mode {
	case "", ModeLog:
		return NewLogSender(log, cfg.OTP.ExposeCode && !cfg.IsProduction()), nil
	case ModeDirect:
		return NewDirectSender(cfg.Delivery, log)
	case ModeQueue:
		return NewQueueSender(cfg.Redis, log), nil
	default:
		return nil, fmt.Errorf("unknown DELIVERY_MODE %q", cfg.Delivery.Mode)
	}
}

// NewDirectSender builds the SMS/email router used by direct mode and by the
// queue worker.
func NewDirectSender(cfg config.DeliveryConfig, log *zap.Logger) (*Router, error) {
	var smsSender, emailSender Sender
	if cfg.SMSGatewayURL != "" {
		smsSender = NewSMSSender(cfg.SMSGatewayURL, cfg.SMSAPIKey, cfg.SMSSender)
	}
	if cfg.ResendAPIKey != "" {
		emailSender = NewEmailSender(cfg.ResendAPIKey, cfg.EmailFrom)
	}
	if smsSender == nil && emailSender == nil {
		return nil, errors.New("direct delivery needs SMS_GATEWAY_URL or RESEND_API_KEY")
	}
	return NewRouter(smsSender, emailSender, log), nil
}

// LogSender writes deliveries to the log instead of sending them.
type LogSender struct {
	log        *zap.Logger
	exposeCode bool
}

// NewLogSender creates a log sender. The code itself is only logged when
// exposeCode is set, which configuration allows in development only.
func NewLogSender(log *zap.Logger, exposeCode bool) *LogSender {
	return &LogSender{log: log, exposeCode: exposeCode}
}

func (s *LogSender) Send(ctx context.Context, msg Message) error {
	fields := []zap.Field{
		logger.Identity(msg.Identity),
		zap.String("to", MaskContact(msg.To)),
		zap.Time("expires_at", msg.ExpiresAt),
	}
	if s.exposeCode {
		fields = append(fields, zap.String("code", msg.Code))
	}
	s.log.Info("otp delivery (log only)", fields...)
	return nil
}

// Router sends to email addresses through the email sender and to anything
// else through the SMS sender.
type Router struct {
	sms   Sender
	email Sender
	log   *zap.Logger
}

func NewRouter(sms, email Sender, log *zap.Logger) *Router {
	return &Router{sms: sms, email: email, log: log}
}

func (r *Router) Send(ctx context.Context, msg Message) error {
	to := strings.TrimSpace(msg.To)
	if to == "" {
		return apperrors.Validation("contact is required to deliver the code")
	}
	target, channel := r.sms, "sms"
	if IsEmail(to) {
		target, channel = r.email, "email"
	}
	if target == nil {
		return apperrors.Newf(apperrors.KindValidation, "%s delivery is not configured", channel)
	}

	msg.To = to
	if err := target.Send(ctx, msg); err != nil {
		r.log.Error("otp delivery failed",
			logger.Identity(msg.Identity),
			zap.String("channel", channel),
			zap.Error(err),
		)
		return apperrors.Wrap(apperrors.KindInternal, err, "could not deliver the code")
	}
	r.log.Info("otp delivered",
		logger.Identity(msg.Identity),
		zap.String("channel", channel),
		zap.String("to", MaskContact(to)),
	)
	return nil
}

func IsEmail(contact string) bool {
	at := strings.LastIndexByte(contact, '@')
	return at > 0 && at < len(contact)-1
}

// MaskContact hides most of a phone number or the local part of an email.
func MaskContact(contact string) string {
	if IsEmail(contact) {
		at := strings.LastIndexByte(contact, '@')
		local := contact[:at]
		return local[:1] + strings.Repeat("*", len(local)-1) + contact[at:]
	}
	return identity.Mask(contact)
}
