package errortracker

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"
)

const postmarkEndpoint = "https://api.postmarkapp.com/email"

// Alert is the notification raised when a group is created or reopened.
type Alert struct {
	GroupID       int64
	Project       string
	Environment   string
	ExceptionType string
	Message       string
	RequestURL    string
	RequestMethod string
	FirstSeen     string
	Traceback     string
	Reopened      bool
}

// Mailer sends alert emails through the Postmark HTTP API.
type Mailer struct {
	// Endpoint is the Postmark API URL; tests point it at a local server.
	Endpoint string

	token   string
	from    string
	to      []string
	baseURL string
	client  *http.Client
}

// NewMailer builds a Mailer from the service configuration.
func NewMailer(cfg *Config) *Mailer {
	return &Mailer{
		Endpoint: postmarkEndpoint,
		token:    cfg.PostmarkAPIToken,
		from:     cfg.PostmarkFrom,
		to:       cfg.AlertEmails,
		baseURL:  strings.TrimRight(cfg.BaseURL, "/"),
		client:   &http.Client{Timeout: 10 * time.Second},
	}
}

// Send posts one alert email. The caller treats failures as log-and-drop.
func (m *Mailer) Send(ctx context.Context, a *Alert) error {
	subject := fmt.Sprintf("[%s] %s: %s", a.Project, a.ExceptionType, truncate(a.Message, 50))

	var b strings.Builder
	if a.Reopened {
		fmt.Fprintf(&b, "A resolved error has reoccurred.\n\n")
	} else {
		fmt.Fprintf(&b, "A new error was captured.\n\n")
	}
	fmt.Fprintf(&b, "Project:     %s\n", a.Project)
	fmt.Fprintf(&b, "Environment: %s\n", a.Environment)
	fmt.Fprintf(&b, "Type:        %s\n", a.ExceptionType)
	fmt.Fprintf(&b, "Message:     %s\n", a.Message)
	if a.RequestURL != "" {
		fmt.Fprintf(&b, "Request:     %s %s\n", a.RequestMethod, a.RequestURL)
	}
	fmt.Fprintf(&b, "First seen:  %s\n\n", a.FirstSeen)
	fmt.Fprintf(&b, "Traceback:\n%s\n\n", a.Traceback)
	fmt.Fprintf(&b, "Dashboard: %s/errors/%d\n", m.baseURL, a.GroupID)

	payload, err := json.Marshal(map[string]string{
		"From":     m.from,
		"To":       strings.Join(m.to, ","),
		"Subject":  subject,
		"TextBody": b.String(),
	})
	if err != nil {
		return fmt.Errorf("marshal alert: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, m.Endpoint, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("build alert request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	req.Header.Set("X-Postmark-Server-Token", m.token)

	resp, err := m.client.Do(req)
	if err != nil {
		return fmt.Errorf("send alert: %w", err)
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, resp.Body)
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return fmt.Errorf("postmark status %d", resp.StatusCode)
	}
	return nil
}

// Dispatcher decouples ingest from alert delivery: Enqueue never blocks,
// and a single worker drains the queue. Overflow drops the alert with a
// warning; the ingest path must never wait on Postmark.
type Dispatcher struct {
	mailer *Mailer
	queue  chan *Alert
	logger *slog.Logger
}

// NewDispatcher creates a Dispatcher with a bounded queue.
func NewDispatcher(mailer *Mailer, logger *slog.Logger) *Dispatcher {
	if logger == nil {
		logger = slog.Default()
	}
	return &Dispatcher{
		mailer: mailer,
		queue:  make(chan *Alert, 64),
		logger: logger,
	}
}

// Enqueue queues an alert for delivery. Non-blocking.
func (d *Dispatcher) Enqueue(a *Alert) {
	select {
	case d.queue <- a:
	default:
		d.logger.Warn("alert queue full, dropping alert",
			"project", a.Project, "group_id", a.GroupID)
	}
}

// Run drains the queue until ctx is cancelled. Delivery failures are
// logged and swallowed.
func (d *Dispatcher) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case a := <-d.queue:
			sendCtx, cancel := context.WithTimeout(ctx, 15*time.Second)
			if err := d.mailer.Send(sendCtx, a); err != nil {
				d.logger.Error("alert delivery failed",
					"project", a.Project, "group_id", a.GroupID, "error", err)
			}
			cancel()
		}
	}
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}
