// Package email delivers plain-text alert mail.
package email

import (
	"context"
	"errors"
)

// ErrNoRecipients is returned by Send when to is empty.
var ErrNoRecipients = errors.New("email: no recipients")

// EmailSender delivers one message to every address in to.
type EmailSender interface {
	Send(ctx context.Context, to []string, subject, body string) error
}
