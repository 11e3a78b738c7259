// Package alert renders integrity alerts and mails them to the registered
// recipients.
package alert

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/jmerrifield20/DocumentChain/internal/email"
	"github.com/jmerrifield20/DocumentChain/internal/recipients"
	"github.com/jmerrifield20/DocumentChain/internal/webhooks"
)

const (
	// Subject is the subject line of every integrity alert.
	Subject = "ALERT: Blockchain Integrity Compromised"

	testSubject = "Test: Blockchain Integrity Monitor"

	// DefaultSendTimeout bounds one batched send.
	DefaultSendTimeout = 10 * time.Second

	timestampLayout = "2006-01-02 15:04:05"
)

// DeliveryError wraps a mail transport failure.
type DeliveryError struct {
	Recipients int
	Err        error
}

func (e *DeliveryError) Error() string {
	return fmt.Sprintf("alert delivery to %d recipient(s) failed: %v", e.Recipients, e.Err)
}

func (e *DeliveryError) Unwrap() error { return e.Err }

// Delivery reports what Notify did.
type Delivery struct {
	Recipients int
	Sent       bool
}

// RecipientLister returns the current recipients. *recipients.Registry
// implements it.
type RecipientLister interface {
	List() []string
}

var (
	_ RecipientLister   = (*recipients.Registry)(nil)
	_ WebhookDispatcher = (*webhooks.Notifier)(nil)
)

// WebhookDispatcher posts an event to HTTP endpoints without blocking.
// *webhooks.Notifier implements it.
type WebhookDispatcher interface {
	Dispatch(ctx context.Context, eventType string, details json.RawMessage)
}

// Dispatcher sends integrity alerts.
type Dispatcher struct {
	recipients RecipientLister
	sender     email.EmailSender
	timeout    time.Duration
	logger     *zap.Logger
	now        func() time.Time
	webhooks   WebhookDispatcher
}

// NewDispatcher creates a Dispatcher. A zero timeout uses DefaultSendTimeout.
func NewDispatcher(list RecipientLister, sender email.EmailSender, timeout time.Duration, logger *zap.Logger) *Dispatcher {
	if timeout <= 0 {
		timeout = DefaultSendTimeout
	}
	return &Dispatcher{
		recipients: list,
		sender:     sender,
		timeout:    timeout,
		logger:     logger,
		now:        time.Now,
	}
}

// SetWebhooks adds a webhook channel that receives every alert, whether
// or not any recipient is registered.
func (d *Dispatcher) SetWebhooks(w WebhookDispatcher) {
	d.webhooks = w
}

// Notify mails one alert carrying details to every current recipient.
// Delivery failures are logged and reported through the result only.
func (d *Dispatcher) Notify(ctx context.Context, details json.RawMessage) Delivery {
	if d.webhooks != nil {
		d.webhooks.Dispatch(ctx, webhooks.EventIntegrityCompromised, details)
	}

	to := d.recipients.List()
	if len(to) == 0 {
		d.logger.Warn("integrity alert not sent: no recipients registered")
		return Delivery{}
	}

	body := RenderAlert(d.now(), details)
	if err := d.send(ctx, to, Subject, body); err != nil {
		d.logger.Error("integrity alert delivery failed",
			zap.Int("recipients", err.Recipients),
			zap.Error(err.Err),
		)
		return Delivery{Recipients: len(to)}
	}

	d.logger.Info("integrity alert sent", zap.Int("recipients", len(to)))
	return Delivery{Recipients: len(to), Sent: true}
}

// SendTest mails a test message to addr. Unlike Notify it returns the
// delivery error.
func (d *Dispatcher) SendTest(ctx context.Context, addr string) error {
	if !recipients.Valid(addr) {
		return fmt.Errorf("%w: %q", recipients.ErrInvalidAddress, addr)
	}
	body := fmt.Sprintf("This is a test email from the blockchain integrity monitor.\nTime: %s\n",
		d.now().UTC().Format(timestampLayout))
	if err := d.send(ctx, []string{strings.TrimSpace(addr)}, testSubject, body); err != nil {
		return err
	}
	return nil
}

// send runs the transport in its own goroutine so a hung server cannot hold
// the caller past the timeout.
func (d *Dispatcher) send(ctx context.Context, to []string, subject, body string) *DeliveryError {
	ctx, cancel := context.WithTimeout(ctx, d.timeout)
	defer cancel()

	done := make(chan error, 1)
	go func() {
		done <- d.sender.Send(ctx, to, subject, body)
	}()

	var err error
	select {
	case err = <-done:
	case <-ctx.Done():
		err = ctx.Err()
	}
	if err != nil {
		return &DeliveryError{Recipients: len(to), Err: err}
	}
	return nil
}

// RenderAlert builds the alert body.
func RenderAlert(at time.Time, details json.RawMessage) string {
	var b strings.Builder
	b.WriteString("Blockchain Integrity Alert\n\n")
	fmt.Fprintf(&b, "Time: %s\n", at.UTC().Format(timestampLayout))
	b.WriteString("Status: INTEGRITY COMPROMISED\n\n")
	b.WriteString("Details:\n")
	b.WriteString(formatDetails(details))
	b.WriteString("\n")
	return b.String()
}

func formatDetails(details json.RawMessage) string {
	if len(bytes.TrimSpace(details)) == 0 {
		return "{}"
	}
	var out bytes.Buffer
	if err := json.Indent(&out, details, "", "  "); err != nil {
		return string(details)
	}
	return out.String()
}
