package lnd

import (
	"context"
	"encoding/hex"
	"errors"
	"strings"
	"time"

	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/lightningnetwork/lnd/lnrpc"
	"github.com/lightningnetwork/lnd/lnrpc/invoicesrpc"
	"github.com/rs/zerolog"

	"github.com/rodrigodh/robosats/constants"
	"github.com/rodrigodh/robosats/lnclient"
	"github.com/rodrigodh/robosats/lnclient/lnd/wrapper"
	"github.com/rodrigodh/robosats/logger"
)

type LNDService struct {
	client   *wrapper.LNDWrapper
	nodeInfo *lnclient.NodeInfo
	logger   zerolog.Logger
}

func NewLNDService(ctx context.Context, lndAddress, lndCertHex, lndMacaroonHex string) (result lnclient.LNClient, err error) {
	if lndAddress == "" || lndMacaroonHex == "" {
		return nil, errors.New("one or more required LND configuration are missing")
	}

	lndClient, err := wrapper.NewLNDclient(wrapper.LNDoptions{
		Address:     lndAddress,
		CertHex:     lndCertHex,
		MacaroonHex: lndMacaroonHex,
	})
	if err != nil {
		logger.Logger.Error().Err(err).Msg("Failed to create new LND client")
		return nil, err
	}

	var nodeInfo *lnclient.NodeInfo
	maxRetries := 5
	for i := range maxRetries {
		nodeInfo, err = fetchNodeInfo(ctx, lndClient)
		if err == nil {
			break
		}
		logger.Logger.Error().Err(err).
			Int("iteration", i).
			Msg("Failed to connect to LND, retrying in 2s")

		select {
		case <-time.After(2 * time.Second):
		case <-ctx.Done():
			logger.Logger.Error().Err(ctx.Err()).Msg("Context cancelled during LND connection retries")
			return nil, ctx.Err()
		}
	}

	if err != nil {
		logger.Logger.Error().Err(err).Msg("Failed to connect to LND on final attempt, not attempting further retries")
		return nil, err
	}

	lndService := &LNDService{
		client:   lndClient,
		nodeInfo: nodeInfo,
		logger:   logger.Logger.With().Str("backend", "LND").Logger(),
	}

	logger.Logger.Info().Str("alias", nodeInfo.Alias).Msg("Connected to LND")

	return lndService, nil
}

func fetchNodeInfo(ctx context.Context, client *wrapper.LNDWrapper) (*lnclient.NodeInfo, error) {
	resp, err := client.GetInfo(ctx, &lnrpc.GetInfoRequest{})
	if err != nil {
		return nil, wrapLNDError(err)
	}
	network := "mainnet"
	if len(resp.Chains) > 0 {
		network = resp.Chains[0].Network
	}
	return &lnclient.NodeInfo{
		Alias:       resp.Alias,
		Pubkey:      resp.IdentityPubkey,
		Network:     network,
		BlockHeight: resp.BlockHeight,
	}, nil
}

func (svc *LNDService) GetBackendType() string {
	return constants.LN_BACKEND_TYPE_LND
}

func (svc *LNDService) GetInfo(ctx context.Context) (*lnclient.NodeInfo, error) {
	return fetchNodeInfo(ctx, svc.client)
}

func (svc *LNDService) CreateHoldInvoice(ctx context.Context, amountSat int64, description string, expiry int64, paymentHash string) (*lnclient.Invoice, error) {
	paymentHashBytes, err := hex.DecodeString(paymentHash)
	if err != nil || len(paymentHashBytes) != 32 {
		if err == nil {
			err = errors.New("payment hash must be 32 bytes hex")
		}
		svc.logger.Error().Err(err).
			Str("payment_hash", paymentHash).
			Msg("Invalid payment hash")
		return nil, lnclient.NewInvalidParametersError(err.Error())
	}

	if amountSat <= 0 {
		return nil, lnclient.NewInvalidParametersError("hold invoice amount must be positive")
	}

	if expiry == 0 {
		expiry = lnclient.DEFAULT_INVOICE_EXPIRY
	}

	addInvoiceRequest := &invoicesrpc.AddHoldInvoiceRequest{
		Value:  amountSat,
		Memo:   description,
		Expiry: expiry,
		Hash:   paymentHashBytes,
	}

	_, err = svc.client.AddHoldInvoice(ctx, addInvoiceRequest)
	if err != nil {
		svc.logger.Error().Err(err).Msg("Failed to create hold invoice")
		return nil, wrapLNDError(err)
	}

	inv, err := svc.client.LookupInvoice(ctx, &lnrpc.PaymentHash{RHash: paymentHashBytes})
	if err != nil {
		svc.logger.Error().Err(err).Str("payment_hash", paymentHash).Msg("Failed to lookup hold invoice after creation")
		return nil, wrapLNDError(err)
	}

	return lndInvoiceToInvoice(inv), nil
}

func (svc *LNDService) LookupHoldInvoice(ctx context.Context, paymentHash string) (*lnclient.Invoice, error) {
	paymentHashBytes, err := hex.DecodeString(paymentHash)
	if err != nil || len(paymentHashBytes) != 32 {
		if err == nil {
			err = errors.New("payment hash must be 32 bytes hex")
		}
		svc.logger.Error().Err(err).
			Str("payment_hash", paymentHash).
			Msg("Invalid payment hash")
		return nil, lnclient.NewInvalidParametersError(err.Error())
	}

	lndInvoice, err := svc.client.LookupInvoice(ctx, &lnrpc.PaymentHash{RHash: paymentHashBytes})
	if err != nil {
		svc.logger.Error().Err(err).
			Str("payment_hash", paymentHash).
			Msg("Failed to lookup invoice")
		return nil, wrapLNDError(err)
	}

	return lndInvoiceToInvoice(lndInvoice), nil
}

func (svc *LNDService) SettleHoldInvoice(ctx context.Context, preimage string) error {
	preimageBytes, err := hex.DecodeString(preimage)
	if err != nil || len(preimageBytes) != 32 {
		if err == nil {
			err = errors.New("preimage must be 32 bytes hex")
		}
		svc.logger.Error().Err(err).
			Str("preimage", preimage).
			Msg("Invalid preimage")
		return lnclient.NewInvalidParametersError(err.Error())
	}

	_, err = svc.client.SettleInvoice(ctx, &invoicesrpc.SettleInvoiceMsg{
		Preimage: preimageBytes,
	})
	if err != nil {
		svc.logger.Error().Err(err).
			Str("preimage", preimage).
			Msg("Failed to settle hold invoice")
		return wrapLNDError(err)
	}
	return nil
}

func (svc *LNDService) CancelHoldInvoice(ctx context.Context, paymentHash string) error {
	paymentHashBytes, err := hex.DecodeString(paymentHash)
	if err != nil || len(paymentHashBytes) != 32 {
		if err == nil {
			err = errors.New("payment hash must be 32 bytes hex")
		}
		svc.logger.Error().Err(err).
			Str("payment_hash", paymentHash).
			Msg("Invalid payment hash")
		return lnclient.NewInvalidParametersError(err.Error())
	}

	_, err = svc.client.CancelInvoice(ctx, &invoicesrpc.CancelInvoiceMsg{
		PaymentHash: paymentHashBytes,
	})
	if err != nil {
		svc.logger.Error().Err(err).
			Str("payment_hash", paymentHash).
			Msg("Failed to cancel hold invoice")
		return wrapLNDError(err)
	}
	return nil
}

func (svc *LNDService) Shutdown() error {
	svc.logger.Info().Msg("Closing LND connection")
	return svc.client.Close()
}

func lndInvoiceToInvoice(invoice *lnrpc.Invoice) *lnclient.Invoice {
	var state string
	switch invoice.State {
	case lnrpc.Invoice_OPEN:
		state = lnclient.INVOICE_STATE_OPEN
	case lnrpc.Invoice_ACCEPTED:
		state = lnclient.INVOICE_STATE_ACCEPTED
	case lnrpc.Invoice_SETTLED:
		state = lnclient.INVOICE_STATE_SETTLED
	case lnrpc.Invoice_CANCELED:
		state = lnclient.INVOICE_STATE_CANCELED
	}

	var preimage string
	if invoice.State == lnrpc.Invoice_SETTLED && invoice.RPreimage != nil {
		preimage = hex.EncodeToString(invoice.RPreimage)
	}

	expiresAt := invoice.CreationDate + invoice.Expiry
	var settledAt *int64
	if invoice.SettleDate > 0 {
		settledAt = &invoice.SettleDate
	}

	return &lnclient.Invoice{
		PaymentRequest: invoice.PaymentRequest,
		PaymentHash:    hex.EncodeToString(invoice.RHash),
		Preimage:       preimage,
		AmountSat:      invoice.Value,
		State:          state,
		CreatedAt:      invoice.CreationDate,
		ExpiresAt:      &expiresAt,
		SettledAt:      settledAt,
	}
}

func wrapLNDError(err error) error {
	st, ok := status.FromError(err)
	if !ok {
		return lnclient.NewBackendUnavailableError(err)
	}
	switch st.Code() {
	case codes.Unavailable, codes.DeadlineExceeded, codes.Canceled:
		return lnclient.NewBackendUnavailableError(err)
	case codes.FailedPrecondition:
		message := strings.ToLower(st.Message())
		if strings.Contains(message, "already settled") || strings.Contains(message, "invoice is settled") {
			return lnclient.NewInvoiceAlreadySettledError()
		}
		if strings.Contains(message, "already canceled") || strings.Contains(message, "invoice is canceled") {
			return lnclient.NewInvoiceAlreadyCanceledError()
		}
		return err
	case codes.InvalidArgument:
		return lnclient.NewInvalidParametersError(st.Message())
	default:
		return err
	}
}
