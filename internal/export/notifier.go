package export

import (
	"context"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/ion606/workout-api/internal/domain"
)

// DownloadPath is the route that serves completed exports.
const DownloadPath = "/api/exports/download"

// Notification tells an owner their export can be downloaded.
type Notification struct {
	RequestID   uuid.UUID
	To          string
	Name        string
	Format      domain.ExportFormat
	DownloadURL string
	ExpiresAt   time.Time
}

// Notifier delivers "export ready" messages. Delivery failures are logged
// by the caller and never fail the export.
type Notifier interface {
	NotifyExportReady(ctx context.Context, n Notification) error
}

// NotifierFunc adapts a function to the Notifier interface.
type NotifierFunc func(ctx context.Context, n Notification) error

// NotifyExportReady calls f(ctx, n).
func (f NotifierFunc) NotifyExportReady(ctx context.Context, n Notification) error {
	return f(ctx, n)
}

// DownloadURL builds the link mailed to the owner.
func DownloadURL(publicURL, email, secret string) (string, error) {
	base, err := url.Parse(strings.TrimRight(publicURL, "/"))
	if err != nil {
		return "", fmt.Errorf("invalid public url: %w", err)
	}
	if base.Scheme == "" || base.Host == "" {
		return "", fmt.Errorf("invalid public url %q: scheme and host required", publicURL)
	}

	base.Path = strings.TrimRight(base.Path, "/") + DownloadPath
	base.RawQuery = url.Values{
		"email":  []string{email},
		"secret": []string{secret},
	}.Encode()
	return base.String(), nil
}
