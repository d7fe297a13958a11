package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math/big"
	"net/http"
	"strconv"
	"strings"
	"time"

	"vetsmint/internal/backoff"
	"vetsmint/internal/classify"
	"vetsmint/internal/config"
	"vetsmint/internal/hmacauth"
	"vetsmint/internal/ledger"
	"vetsmint/internal/mint"
	"vetsmint/internal/pricing"
	"vetsmint/internal/wallet"

	"github.com/ethereum/go-ethereum/common"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	log "github.com/sirupsen/logrus"
)

const headerRequestID = "X-Request-Id"

type Server struct {
	cfg         *config.AppConfig
	orch        *mint.Orchestrator
	store       ledger.Store
	wallet      wallet.Provider
	hmac        *hmacauth.Verifier
	httpServer  *http.Server
	metrics     *metricsRegistry
	dbHealthFn  func(context.Context) error
	rpcHealthFn func(context.Context) error
}

// NewServer wires the ledger, quote and checkout endpoints. w may be nil, which disables
// custodial checkout.
func NewServer(cfg *config.AppConfig, orch *mint.Orchestrator, store ledger.Store, w wallet.Provider) *Server {
	hmacVerifier := &hmacauth.Verifier{
		Secret:  cfg.Service.HMACSecret,
		MaxSkew: cfg.Service.HMACClockSkew,
	}

	metrics := newMetricsRegistry()

	s := &Server{
		cfg:     cfg,
		orch:    orch,
		store:   store,
		wallet:  w,
		hmac:    hmacVerifier,
		metrics: metrics,
	}

	if checker, ok := store.(interface{ Ping(context.Context) error }); ok {
		s.dbHealthFn = checker.Ping
	}
	if checker, ok := w.(interface{ Ping(context.Context) error }); ok {
		s.rpcHealthFn = checker.Ping
	}

	mux := http.NewServeMux()
	mux.Handle("POST /api/v1/purchases", s.hmac.Middleware(http.HandlerFunc(s.handleRecordPurchase)))
	mux.HandleFunc("GET /api/v1/purchases/{txHash}", s.handleGetPurchase)
	mux.HandleFunc("GET /api/v1/campaigns/{campaignId}/purchases", s.handleCampaignPurchases)
	mux.HandleFunc("GET /api/v1/quote", s.handleQuote)
	mux.Handle("POST /api/v1/checkout", s.hmac.Middleware(http.HandlerFunc(s.handleCheckout)))
	mux.Handle("GET /api/v1/metrics", metrics.handler())
	mux.HandleFunc("GET /api/v1/health", s.handleHealth)

	s.httpServer = &http.Server{
		Addr:              ":" + strconv.Itoa(cfg.Service.HTTPPort),
		Handler:           requestIDMiddleware(mux),
		ReadHeaderTimeout: 15 * time.Second,
	}
	return s
}

func (s *Server) Start() error {
	log.WithField("addr", s.httpServer.Addr).Info("API listening")
	return s.httpServer.ListenAndServe()
}

func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func (s *Server) handleRecordPurchase(w http.ResponseWriter, r *http.Request) {
	var payload ledger.Purchase
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		s.metrics.incPurchase("invalid")
		http.Error(w, "invalid json payload", http.StatusBadRequest)
		return
	}
	if err := payload.Validate(); err != nil {
		s.metrics.incPurchase("invalid")
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	if key := strings.TrimSpace(r.Header.Get("X-Idempotency-Key")); key != "" && !strings.EqualFold(key, payload.TxHash) {
		s.metrics.incPurchase("invalid")
		http.Error(w, "X-Idempotency-Key must equal txHash", http.StatusBadRequest)
		return
	}

	ctx := r.Context()
	created, err := s.store.Save(ctx, ledger.Record{Purchase: payload, CreatedAt: time.Now().UTC()})
	if err != nil {
		s.metrics.incPurchase("failed")
		log.WithError(err).WithField("tx_hash", payload.TxHash).Error("ledger save failed")
		http.Error(w, "failed to save purchase", http.StatusInternalServerError)
		return
	}

	stored, err := s.store.Get(ctx, payload.TxHash)
	if err != nil || stored == nil {
		s.metrics.incPurchase("failed")
		http.Error(w, "failed to load purchase", http.StatusInternalServerError)
		return
	}

	status, label := http.StatusCreated, "created"
	if !created {
		status, label = http.StatusOK, "duplicate"
	}
	s.metrics.incPurchase(label)
	log.WithFields(log.Fields{
		"tx_hash":     payload.TxHash,
		"campaign_id": payload.CampaignID,
		"quantity":    payload.Quantity,
		"result":      label,
	}).Info("purchase recorded")
	writeJSON(w, status, stored)
}

func (s *Server) handleGetPurchase(w http.ResponseWriter, r *http.Request) {
	rec, err := s.store.Get(r.Context(), r.PathValue("txHash"))
	if err != nil {
		http.Error(w, "failed to load purchase", http.StatusInternalServerError)
		return
	}
	if rec == nil {
		http.Error(w, "purchase not found", http.StatusNotFound)
		return
	}
	writeJSON(w, http.StatusOK, rec)
}

func (s *Server) handleCampaignPurchases(w http.ResponseWriter, r *http.Request) {
	records, err := s.store.ListByCampaign(r.Context(), r.PathValue("campaignId"))
	if err != nil {
		http.Error(w, "failed to list purchases", http.StatusInternalServerError)
		return
	}
	if records == nil {
		records = []ledger.Record{}
	}
	writeJSON(w, http.StatusOK, records)
}

type quoteResponse struct {
	Chain           string `json:"chain"`
	ChainID         uint64 `json:"chainId"`
	ContractAddress string `json:"contractAddress"`
	CurrencySymbol  string `json:"currencySymbol"`
	Rate            string `json:"rate"`
	Fallback        bool   `json:"fallback"`
	Quantity        int    `json:"quantity"`
	EditionWei      string `json:"editionWei"`
	GratuityWei     string `json:"gratuityWei"`
	TotalWei        string `json:"totalWei"`
	TotalNative     string `json:"totalNative"`
	GasCeiling      uint64 `json:"gasCeiling"`
	Confirmations   uint64 `json:"confirmations"`
}

func newQuoteResponse(plan mint.Plan) quoteResponse {
	total := plan.Total()
	return quoteResponse{
		Chain:           plan.Profile.Key,
		ChainID:         plan.Profile.ChainID,
		ContractAddress: plan.Profile.ContractAddress.Hex(),
		CurrencySymbol:  plan.Profile.CurrencySymbol,
		Rate:            plan.Quote.Rate.String(),
		Fallback:        plan.Quote.Fallback,
		Quantity:        plan.Quantity,
		EditionWei:      plan.EditionValue.String(),
		GratuityWei:     plan.GratuityValue.String(),
		TotalWei:        total.String(),
		TotalNative:     pricing.FromWei(total).String(),
		GasCeiling:      plan.GasCeiling,
		Confirmations:   plan.Confirmations,
	}
}

func (s *Server) handleQuote(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	in := mint.Intent{
		CampaignID: new(big.Int),
		Quantity:   1,
		ChainKey:   q.Get("chain"),
	}
	if raw := q.Get("quantity"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil {
			http.Error(w, "quantity must be an integer", http.StatusBadRequest)
			return
		}
		in.Quantity = n
	}
	var err error
	if in.PricePerEditionUSD, in.DonationUSD, in.GratuityUSD, err = parseAmounts(q.Get("priceUsd"), q.Get("donationUsd"), q.Get("gratuityUsd")); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	plan, err := s.orch.Quote(r.Context(), in)
	if err != nil {
		status := http.StatusBadRequest
		if errors.Is(err, pricing.ErrNoRate) {
			status = http.StatusBadGateway
		}
		http.Error(w, err.Error(), status)
		return
	}
	source := "live"
	if plan.Quote.Fallback {
		source = "fallback"
	}
	s.metrics.incQuote(source)
	writeJSON(w, http.StatusOK, newQuoteResponse(plan))
}

func parseAmounts(price, donation, gratuity string) (*decimal.Decimal, decimal.Decimal, decimal.Decimal, error) {
	var (
		perEdition *decimal.Decimal
		don, grat  decimal.Decimal
	)
	if price != "" {
		d, err := decimal.NewFromString(price)
		if err != nil {
			return nil, don, grat, fmt.Errorf("invalid priceUsd: %w", err)
		}
		perEdition = &d
	}
	if donation != "" {
		d, err := decimal.NewFromString(donation)
		if err != nil {
			return nil, don, grat, fmt.Errorf("invalid donationUsd: %w", err)
		}
		don = d
	}
	if gratuity != "" {
		d, err := decimal.NewFromString(gratuity)
		if err != nil {
			return nil, don, grat, fmt.Errorf("invalid gratuityUsd: %w", err)
		}
		grat = d
	}
	return perEdition, don, grat, nil
}

type checkoutRequest struct {
	CampaignID      string       `json:"campaignId"`
	Quantity        int          `json:"quantity"`
	PriceUSD        string       `json:"priceUsd"`
	DonationUSD     string       `json:"donationUsd"`
	GratuityUSD     string       `json:"gratuityUsd"`
	Chain           string       `json:"chain"`
	ContractAddress string       `json:"contractAddress"`
	CampaignStatus  string       `json:"campaignStatus"`
	Session         mint.Session `json:"session"`
	BuyerName       string       `json:"buyerName"`
	Note            string       `json:"note"`
}

type checkoutResponse struct {
	AttemptID    string   `json:"attemptId"`
	Success      bool     `json:"success"`
	State        string   `json:"state"`
	Quantity     int      `json:"quantity"`
	Minted       int      `json:"minted"`
	TxHashes     []string `json:"txHashes"`
	EditionIDs   []string `json:"editionIds"`
	ExplorerURLs []string `json:"explorerUrls,omitempty"`
	FailedTxHash string   `json:"failedTxHash,omitempty"`
	ErrorKind    string   `json:"errorKind,omitempty"`
	Error        string   `json:"error,omitempty"`
}

func newCheckoutResponse(res mint.Result) checkoutResponse {
	out := checkoutResponse{
		AttemptID:  res.AttemptID,
		Success:    res.Success,
		State:      string(res.State),
		Quantity:   res.Quantity,
		Minted:     res.Minted(),
		TxHashes:   []string{},
		EditionIDs: []string{},
		ErrorKind:  string(res.ErrorKind),
		Error:      res.Error,
	}
	for _, h := range res.TxHashes {
		out.TxHashes = append(out.TxHashes, h.Hex())
		if url := res.Plan.Profile.TxURL(h); url != "" {
			out.ExplorerURLs = append(out.ExplorerURLs, url)
		}
	}
	for _, id := range res.EditionIDs {
		out.EditionIDs = append(out.EditionIDs, id.String())
	}
	if res.FailedTxHash != (common.Hash{}) {
		out.FailedTxHash = res.FailedTxHash.Hex()
	}
	return out
}

func checkoutStatus(res mint.Result) int {
	switch {
	case res.Success:
		return http.StatusCreated
	case res.ErrorKind == classify.KindPrecondition, res.ErrorKind == classify.KindVerification:
		return http.StatusUnprocessableEntity
	case res.ErrorKind == classify.KindInsufficientFunds:
		return http.StatusPaymentRequired
	default:
		return http.StatusBadGateway
	}
}

func (s *Server) handleCheckout(w http.ResponseWriter, r *http.Request) {
	if s.wallet == nil {
		http.Error(w, "custodial checkout is not configured", http.StatusNotImplemented)
		return
	}

	var payload checkoutRequest
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		http.Error(w, "invalid json payload", http.StatusBadRequest)
		return
	}
	campaignID, ok := new(big.Int).SetString(strings.TrimSpace(payload.CampaignID), 10)
	if !ok {
		http.Error(w, "campaignId must be a decimal integer", http.StatusBadRequest)
		return
	}
	perEdition, donation, gratuity, err := parseAmounts(payload.PriceUSD, payload.DonationUSD, payload.GratuityUSD)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	in := mint.Intent{
		CampaignID:         campaignID,
		Quantity:           payload.Quantity,
		PricePerEditionUSD: perEdition,
		DonationUSD:        donation,
		GratuityUSD:        gratuity,
		ChainKey:           payload.Chain,
		ContractAddress:    payload.ContractAddress,
		BuyerWallet:        s.wallet.Address(),
		Session:            payload.Session,
		CampaignStatus:     payload.CampaignStatus,
		PaymentMethod:      mint.PaymentMethodCrypto,
		BuyerName:          payload.BuyerName,
		Note:               payload.Note,
	}

	// Broadcast editions must confirm and be recorded even if the client goes away.
	// A disconnect only skips editions that have not been sent yet.
	res := s.orch.Purchase(context.WithoutCancel(r.Context()), s.wallet, in, mint.Hooks{
		Stop:    r.Context().Done(),
		OnRetry: func(backoff.Status) { s.metrics.incVerificationRetry() },
		OnSubmitted: func(i int, hash common.Hash) {
			log.WithFields(log.Fields{
				"request_id": r.Header.Get(headerRequestID),
				"edition":    i,
				"tx_hash":    hash.Hex(),
			}).Debug("checkout edition submitted")
		},
	})

	result := "success"
	if !res.Success {
		result = string(res.ErrorKind)
	}
	s.metrics.incCheckout(result)
	s.metrics.addEditions(res.Plan.Profile, res.Minted())
	writeJSON(w, checkoutStatus(res), newCheckoutResponse(res))
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	overallHealthy := true

	rpcInfo := struct {
		Connected bool    `json:"connected"`
		LatencyMs float64 `json:"latency_ms"`
		Error     string  `json:"error,omitempty"`
	}{}

	if s.rpcHealthFn != nil {
		start := time.Now()
		rpcCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
		defer cancel()
		if err := s.rpcHealthFn(rpcCtx); err != nil {
			rpcInfo.Connected = false
			rpcInfo.Error = err.Error()
			overallHealthy = false
		} else {
			rpcInfo.Connected = true
			rpcInfo.LatencyMs = float64(time.Since(start).Microseconds()) / 1000.0
		}
	} else {
		rpcInfo.Connected = true
	}

	dbInfo := struct {
		Connected bool   `json:"connected"`
		Error     string `json:"error,omitempty"`
	}{Connected: true}

	if s.dbHealthFn != nil {
		dbCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
		defer cancel()
		if err := s.dbHealthFn(dbCtx); err != nil {
			dbInfo.Connected = false
			dbInfo.Error = err.Error()
			overallHealthy = false
		}
	}

	status := "healthy"
	if !overallHealthy {
		status = "degraded"
	}

	resp := struct {
		Status   string      `json:"status"`
		RPC      interface{} `json:"rpc"`
		Database interface{} `json:"database"`
		Checkout bool        `json:"checkout"`
	}{
		Status:   status,
		RPC:      rpcInfo,
		Database: dbInfo,
		Checkout: s.wallet != nil,
	}

	code := http.StatusOK
	if !overallHealthy {
		code = http.StatusServiceUnavailable
	}
	writeJSON(w, code, resp)
}

func requestIDMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := r.Header.Get(headerRequestID)
		if id == "" {
			id = uuid.NewString()
			r.Header.Set(headerRequestID, id)
		}
		w.Header().Set(headerRequestID, id)
		start := time.Now()
		next.ServeHTTP(w, r)
		log.WithFields(log.Fields{
			"request_id":  id,
			"method":      r.Method,
			"path":        r.URL.Path,
			"duration_ms": time.Since(start).Milliseconds(),
		}).Debug("request served")
	})
}
