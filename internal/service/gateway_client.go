package service

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"credit-ledger/internal/models"
	"credit-ledger/internal/util"

	"go.uber.org/zap"
)

// GatewayClient reads final charge status from the payment gateway's status
// API. The gateway is a black box and the single source of truth for whether
// money moved; this client only ever issues reads, and always outside any
// storage transaction.
type GatewayClient struct {
	baseURL string
	http    *http.Client
	logger  *zap.Logger
}

// NewGatewayClient creates a new gateway client
func NewGatewayClient(baseURL string, timeout time.Duration) *GatewayClient {
	return &GatewayClient{
		baseURL: baseURL,
		http:    &http.Client{Timeout: timeout},
		logger:  util.GetLogger(),
	}
}

// ChargeStatus fetches the final status of a charge by its reference.
func (gc *GatewayClient) ChargeStatus(ctx context.Context, reference string) (*models.ChargeStatus, error) {
	ctx, span := util.StartSpan(ctx, "GatewayClient.ChargeStatus")
	defer span.End()

	endpoint := fmt.Sprintf("%s/charges/%s", gc.baseURL, url.PathEscape(reference))
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "application/json")

	resp, err := gc.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("gateway request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return &models.ChargeStatus{
			Reference: reference,
			Status:    models.ChargeStatusFailed,
		}, nil
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("gateway returned status %d for charge %s", resp.StatusCode, reference)
	}

	var status models.ChargeStatus
	if err := json.NewDecoder(resp.Body).Decode(&status); err != nil {
		return nil, fmt.Errorf("failed to decode gateway response: %w", err)
	}

	gc.logger.Debug("Charge status resolved",
		zap.String("reference", reference),
		zap.String("status", status.Status))
	return &status, nil
}
