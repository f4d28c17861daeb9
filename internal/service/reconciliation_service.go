package service

import (
	"context"
	"fmt"

	"credit-ledger/internal/models"
	"credit-ledger/internal/util"

	"go.uber.org/zap"
)

// ReconciliationService is the read-only auditor: it finds completed carts
// whose credits were never granted and totals what is owed. It takes no
// locks and never mutates state; the report is advisory, a point-in-time
// snapshot that drives the manual-recovery workflow.
type ReconciliationService struct {
	store  LedgerStore
	logger *zap.Logger
}

// NewReconciliationService creates a new reconciliation service
func NewReconciliationService(store LedgerStore) *ReconciliationService {
	return &ReconciliationService{
		store:  store,
		logger: util.GetLogger(),
	}
}

// GetReport computes the drift between payments collected and credits
// granted.
func (rs *ReconciliationService) GetReport(ctx context.Context) (*models.ReconciliationReport, error) {
	ctx, span := util.StartSpan(ctx, "ReconciliationService.GetReport")
	defer span.End()

	ungranted, err := rs.store.ListUngrantedCarts(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list ungranted carts: %w", err)
	}

	granted, err := rs.store.CountGrantedCarts(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to count granted carts: %w", err)
	}

	totalOwed := 0
	for _, cart := range ungranted {
		totalOwed += cart.SessionsOwed
	}

	util.SessionsOwedGauge.Set(float64(totalOwed))
	util.UngrantedCartsGauge.Set(float64(len(ungranted)))

	if totalOwed > 0 {
		rs.logger.Warn("Reconciliation drift detected",
			zap.Int("ungranted_carts", len(ungranted)),
			zap.Int("total_sessions_owed", totalOwed))
	}

	return &models.ReconciliationReport{
		UngrantedCarts:    len(ungranted),
		GrantedCarts:      granted,
		TotalSessionsOwed: totalOwed,
		UngrantedDetails:  ungranted,
	}, nil
}
