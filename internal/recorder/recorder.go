package recorder

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"vetsmint/internal/hmacauth"
	"vetsmint/internal/ledger"

	"github.com/go-resty/resty/v2"
	log "github.com/sirupsen/logrus"
)

const purchasesPath = "/api/v1/purchases"

// HTTPRecorder mirrors completed purchases to the ledger service.
type HTTPRecorder struct {
	client *resty.Client
	secret string
	now    func() time.Time
}

// New builds a recorder posting to baseURL. When secret is set, bodies are HMAC-signed.
func New(baseURL, secret string, timeout time.Duration) *HTTPRecorder {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	client := resty.New().
		SetBaseURL(baseURL).
		SetTimeout(timeout).
		SetHeader("Content-Type", "application/json")
	return &HTTPRecorder{client: client, secret: secret, now: time.Now}
}

// Record posts one purchase. The transaction hash doubles as the idempotency key so the
// ledger can drop replays.
func (r *HTTPRecorder) Record(ctx context.Context, p ledger.Purchase) error {
	body, err := json.Marshal(p)
	if err != nil {
		return fmt.Errorf("encode purchase: %w", err)
	}

	req := r.client.R().
		SetContext(ctx).
		SetHeader("X-Idempotency-Key", p.Key()).
		SetBody(body)
	if r.secret != "" {
		req.SetHeaders(hmacauth.SignHeaders(r.secret, r.now(), body))
	}

	resp, err := req.Post(purchasesPath)
	if err != nil {
		return fmt.Errorf("post purchase: %w", err)
	}
	if resp.IsError() {
		return fmt.Errorf("post purchase: status %d: %s", resp.StatusCode(), resp.String())
	}

	log.WithFields(log.Fields{
		"tx_hash":     p.TxHash,
		"campaign_id": p.CampaignID,
		"status":      resp.StatusCode(),
	}).Debug("purchase recorded")
	return nil
}

// StoreRecorder writes straight to a ledger store, for processes that own the ledger.
type StoreRecorder struct {
	Store ledger.Store
	Now   func() time.Time
}

func (s StoreRecorder) Record(ctx context.Context, p ledger.Purchase) error {
	if err := p.Validate(); err != nil {
		return err
	}
	now := time.Now
	if s.Now != nil {
		now = s.Now
	}
	_, err := s.Store.Save(ctx, ledger.Record{Purchase: p, CreatedAt: now().UTC()})
	return err
}
