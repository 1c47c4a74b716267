package webhook

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/superwebpros/content-generation-service/internal/domain/port"
)

const userAgent = "ContentGenerationService/1.0"

type NotifierConfig struct {
	MaxAttempts    int
	AttemptTimeout time.Duration
	BaseDelay      time.Duration
}

// Notifier delivers webhook callbacks with a bounded retry loop: up to
// MaxAttempts tries, each with its own timeout, backing off exponentially
// from BaseDelay between attempts. Any 2xx response is success; everything
// else, timeouts included, counts as a failed attempt.
type Notifier struct {
	cfg    NotifierConfig
	client *http.Client
	logger *zap.Logger
}

func NewNotifier(cfg NotifierConfig, logger *zap.Logger) *Notifier {
	if cfg.MaxAttempts == 0 {
		cfg.MaxAttempts = 3
	}
	if cfg.AttemptTimeout == 0 {
		cfg.AttemptTimeout = 10 * time.Second
	}
	if cfg.BaseDelay == 0 {
		cfg.BaseDelay = time.Second
	}
	return &Notifier{
		cfg:    cfg,
		client: &http.Client{},
		logger: logger,
	}
}

func (n *Notifier) Notify(ctx context.Context, url string, payload any) port.NotifyResult {
	if url == "" {
		return port.NotifyResult{Success: false, Error: "no webhook URL"}
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return port.NotifyResult{Success: false, Error: fmt.Sprintf("marshal payload: %v", err)}
	}

	var lastErr string
	for attempt := 1; attempt <= n.cfg.MaxAttempts; attempt++ {
		status, err := n.post(ctx, url, body)
		if err == nil && status >= 200 && status < 300 {
			n.logger.Info("webhook delivered",
				zap.String("url", url),
				zap.Int("status", status),
				zap.Int("attempts", attempt),
			)
			return port.NotifyResult{Success: true, Attempts: attempt}
		}

		if err != nil {
			lastErr = err.Error()
		} else {
			lastErr = fmt.Sprintf("webhook returned %d", status)
		}
		n.logger.Warn("webhook attempt failed",
			zap.String("url", url),
			zap.Int("attempt", attempt),
			zap.String("error", lastErr),
		)

		if attempt == n.cfg.MaxAttempts {
			break
		}

		// 1s, 2s, 4s... doubling per retry.
		delay := n.cfg.BaseDelay << (attempt - 1)
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return port.NotifyResult{Success: false, Attempts: attempt, Error: ctx.Err().Error()}
		}
	}

	return port.NotifyResult{Success: false, Attempts: n.cfg.MaxAttempts, Error: lastErr}
}

func (n *Notifier) post(ctx context.Context, url string, body []byte) (int, error) {
	ctx, cancel := context.WithTimeout(ctx, n.cfg.AttemptTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return 0, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", userAgent)

	resp, err := n.client.Do(req)
	if err != nil {
		return 0, err
	}
	defer resp.Body.Close()
	return resp.StatusCode, nil
}
