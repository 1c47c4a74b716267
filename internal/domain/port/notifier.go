package port

import "context"

// NotifyResult records the outcome of a webhook delivery. Delivery failures
// are data, never errors.
type NotifyResult struct {
	Success  bool
	Attempts int
	Error    string
}

// WebhookNotifier delivers at-least-once job completion/failure callbacks.
type WebhookNotifier interface {
	Notify(ctx context.Context, url string, payload any) NotifyResult
}
