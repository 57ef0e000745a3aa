// Package notify decouples email notifications from the requests that trigger them.
package notify

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/Gyan-Raj/interview-prep-next-app-sub000/internal/email"
)

// Message is one email notification. It is the queue payload, so keep it JSON friendly.
type Message struct {
	Kind email.Kind `json:"kind"`
	To   string     `json:"to"`
	Data email.Data `json:"data"`
}

type Notifier interface {
	Notify(ctx context.Context, msg Message) error
	Close() error
}

type Mailer interface {
	IsConfigured() bool
	SendHTMLEmail(to []string, subject, htmlBody, textBody string) error
}

// Deliverer renders and sends a message. Without SMTP it logs the message instead.
type Deliverer struct {
	mailer Mailer
	log    *slog.Logger
}

func NewDeliverer(mailer Mailer, log *slog.Logger) *Deliverer {
	if log == nil {
		log = slog.Default()
	}
	return &Deliverer{mailer: mailer, log: log}
}

func (d *Deliverer) Deliver(_ context.Context, msg Message) error {
	if msg.To == "" {
		return fmt.Errorf("notification %s has no recipient", msg.Kind)
	}
	subject, html, err := email.Render(msg.Kind, msg.Data)
	if err != nil {
		return err
	}
	if d.mailer == nil || !d.mailer.IsConfigured() {
		d.log.Info("email not configured, notification logged",
			"kind", msg.Kind,
			"to", msg.To,
			"subject", subject,
			"action_url", msg.Data.ActionURL,
		)
		return nil
	}
	text := subject
	if msg.Data.ActionURL != "" {
		text += "\r\n\r\n" + msg.Data.ActionURL
	}
	if err := d.mailer.SendHTMLEmail([]string{msg.To}, subject, html, text); err != nil {
		return fmt.Errorf("send %s email: %w", msg.Kind, err)
	}
	return nil
}

// Async delivers each message on its own goroutine. Close waits for in-flight sends.
type Async struct {
	deliverer *Deliverer
	log       *slog.Logger
	timeout   time.Duration
	wg        sync.WaitGroup
}

func NewAsync(deliverer *Deliverer, log *slog.Logger) *Async {
	if log == nil {
		log = slog.Default()
	}
	return &Async{deliverer: deliverer, log: log, timeout: 30 * time.Second}
}

func (a *Async) Notify(_ context.Context, msg Message) error {
	a.wg.Add(1)
	go func() {
		defer a.wg.Done()
		// The request context is gone by the time this runs.
		ctx, cancel := context.WithTimeout(context.Background(), a.timeout)
		defer cancel()
		if err := a.deliverer.Deliver(ctx, msg); err != nil {
			a.log.Error("notification delivery failed", "kind", msg.Kind, "to", msg.To, "error", err)
		}
	}()
	return nil
}

func (a *Async) Close() error {
	a.wg.Wait()
	return nil
}
