package cln

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	decodepay "github.com/nbd-wtf/ln-decodepay"
	"github.com/rs/zerolog"

	"github.com/rodrigodh/robosats/constants"
	"github.com/rodrigodh/robosats/lnclient"
	"github.com/rodrigodh/robosats/logger"
)

// CLNService talks to a CLN node through the clnrest API of the hold invoice
// plugin. Every RPC is a POST of a JSON body to /v1/<method> authenticated
// with a rune header.
type CLNService struct {
	restUrl    string
	rune       string
	httpClient *http.Client
	logger     zerolog.Logger
}

func NewCLNService(ctx context.Context, restUrl, restRune string) (lnclient.LNClient, error) {
	if restUrl == "" || restRune == "" {
		return nil, errors.New("one or more required CLN configuration are missing")
	}

	svc := &CLNService{
		restUrl: strings.TrimSuffix(restUrl, "/"),
		rune:    restRune,
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
		logger: logger.Logger.With().Str("backend", "CLN").Logger(),
	}

	nodeInfo, err := svc.GetInfo(ctx)
	if err != nil {
		logger.Logger.Error().Err(err).Msg("Failed to connect to CLN")
		return nil, err
	}
	logger.Logger.Info().Str("alias", nodeInfo.Alias).Msg("Connected to CLN")

	return svc, nil
}

type clnError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

func (svc *CLNService) request(ctx context.Context, method string, params interface{}, result interface{}) error {
	var body io.Reader
	if params != nil {
		payload, err := json.Marshal(params)
		if err != nil {
			return err
		}
		body = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, svc.restUrl+"/v1/"+method, body)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Rune", svc.rune)

	res, err := svc.httpClient.Do(req)
	if err != nil {
		return lnclient.NewBackendUnavailableError(err)
	}
	defer res.Body.Close()

	resBody, err := io.ReadAll(res.Body)
	if err != nil {
		return lnclient.NewBackendUnavailableError(err)
	}

	if res.StatusCode >= 500 {
		return lnclient.NewBackendUnavailableError(fmt.Errorf("CLN REST returned status %d: %s", res.StatusCode, string(resBody)))
	}

	if res.StatusCode >= 400 {
		var rpcError clnError
		if err := json.Unmarshal(resBody, &rpcError); err == nil && rpcError.Message != "" {
			return mapCLNError(rpcError)
		}
		return fmt.Errorf("CLN REST returned status %d: %s", res.StatusCode, string(resBody))
	}

	if result != nil {
		if err := json.Unmarshal(resBody, result); err != nil {
			return fmt.Errorf("failed to decode CLN response for %s: %w", method, err)
		}
	}
	return nil
}

func mapCLNError(rpcError clnError) error {
	message := strings.ToLower(rpcError.Message)
	if strings.Contains(message, "already settled") {
		return lnclient.NewInvoiceAlreadySettledError()
	}
	if strings.Contains(message, "already canceled") || strings.Contains(message, "already cancelled") {
		return lnclient.NewInvoiceAlreadyCanceledError()
	}
	return fmt.Errorf("CLN error %d: %s", rpcError.Code, rpcError.Message)
}

func (svc *CLNService) GetBackendType() string {
	return constants.LN_BACKEND_TYPE_CLN
}

type clnGetInfoResponse struct {
	ID          string `json:"id"`
	Alias       string `json:"alias"`
	Network     string `json:"network"`
	BlockHeight uint32 `json:"blockheight"`
}

func (svc *CLNService) GetInfo(ctx context.Context) (*lnclient.NodeInfo, error) {
	var info clnGetInfoResponse
	if err := svc.request(ctx, "getinfo", map[string]interface{}{}, &info); err != nil {
		return nil, err
	}
	network := info.Network
	if network == "bitcoin" {
		network = "mainnet"
	}
	return &lnclient.NodeInfo{
		Alias:       info.Alias,
		Pubkey:      info.ID,
		Network:     network,
		BlockHeight: info.BlockHeight,
	}, nil
}

type clnHoldInvoiceResponse struct {
	Bolt11      string `json:"bolt11"`
	PaymentHash string `json:"payment_hash"`
	ExpiresAt   int64  `json:"expires_at"`
}

func (svc *CLNService) CreateHoldInvoice(ctx context.Context, amountSat int64, description string, expiry int64, paymentHash string) (*lnclient.Invoice, error) {
	if len(paymentHash) != 64 {
		return nil, lnclient.NewInvalidParametersError("payment hash must be 32 bytes hex")
	}
	if amountSat <= 0 {
		return nil, lnclient.NewInvalidParametersError("hold invoice amount must be positive")
	}
	if expiry == 0 {
		expiry = lnclient.DEFAULT_INVOICE_EXPIRY
	}

	var holdInvoice clnHoldInvoiceResponse
	err := svc.request(ctx, "holdinvoice", map[string]interface{}{
		"amount_msat":  amountSat * 1000,
		"label":        "robosats-" + paymentHash,
		"description":  description,
		"expiry":       expiry,
		"payment_hash": paymentHash,
	}, &holdInvoice)
	if err != nil {
		svc.logger.Error().Err(err).Msg("Failed to create hold invoice")
		return nil, err
	}

	return svc.LookupHoldInvoice(ctx, holdInvoice.PaymentHash)
}

type clnHoldLookupResponse struct {
	State       string `json:"state"`
	Bolt11      string `json:"bolt11"`
	AmountMsat  int64  `json:"amount_msat"`
	Preimage    string `json:"payment_preimage"`
	CreatedAt   int64  `json:"created_at"`
	ExpiresAt   int64  `json:"expires_at"`
	PaidAt      *int64 `json:"paid_at"`
	PaymentHash string `json:"payment_hash"`
}

func (svc *CLNService) LookupHoldInvoice(ctx context.Context, paymentHash string) (*lnclient.Invoice, error) {
	var lookup clnHoldLookupResponse
	err := svc.request(ctx, "holdinvoicelookup", map[string]interface{}{
		"payment_hash": paymentHash,
	}, &lookup)
	if err != nil {
		svc.logger.Error().Err(err).
			Str("payment_hash", paymentHash).
			Msg("Failed to lookup hold invoice")
		return nil, err
	}

	var state string
	switch strings.ToLower(lookup.State) {
	case "open", "unpaid":
		state = lnclient.INVOICE_STATE_OPEN
	case "accepted":
		state = lnclient.INVOICE_STATE_ACCEPTED
	case "settled", "paid":
		state = lnclient.INVOICE_STATE_SETTLED
	case "canceled", "cancelled", "expired":
		state = lnclient.INVOICE_STATE_CANCELED
	default:
		return nil, fmt.Errorf("unknown CLN hold invoice state: %s", lookup.State)
	}

	amountSat := lookup.AmountMsat / 1000
	createdAt := lookup.CreatedAt
	if createdAt == 0 && lookup.Bolt11 != "" {
		// the plugin omits created_at; recover it from the invoice itself
		if decoded, err := decodepay.Decodepay(lookup.Bolt11); err == nil {
			createdAt = int64(decoded.CreatedAt)
		}
	}

	expiresAt := lookup.ExpiresAt
	return &lnclient.Invoice{
		PaymentRequest: lookup.Bolt11,
		PaymentHash:    paymentHash,
		Preimage:       lookup.Preimage,
		AmountSat:      amountSat,
		State:          state,
		CreatedAt:      createdAt,
		ExpiresAt:      &expiresAt,
		SettledAt:      lookup.PaidAt,
	}, nil
}

func (svc *CLNService) SettleHoldInvoice(ctx context.Context, preimage string) error {
	if len(preimage) != 64 {
		return lnclient.NewInvalidParametersError("preimage must be 32 bytes hex")
	}
	err := svc.request(ctx, "holdinvoicesettle", map[string]interface{}{
		"preimage": preimage,
	}, nil)
	if err != nil {
		svc.logger.Error().Err(err).Msg("Failed to settle hold invoice")
		return err
	}
	return nil
}

func (svc *CLNService) CancelHoldInvoice(ctx context.Context, paymentHash string) error {
	err := svc.request(ctx, "holdinvoicecancel", map[string]interface{}{
		"payment_hash": paymentHash,
	}, nil)
	if err != nil {
		svc.logger.Error().Err(err).
			Str("payment_hash", paymentHash).
			Msg("Failed to cancel hold invoice")
		return err
	}
	return nil
}

func (svc *CLNService) Shutdown() error {
	svc.logger.Info().Msg("Closing CLN connection")
	svc.httpClient.CloseIdleConnections()
	return nil
}
