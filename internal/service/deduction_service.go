package service

import (
	"context"
	"fmt"
	"time"

	"credit-ledger/internal/ledgererr"
	"credit-ledger/internal/models"
	"credit-ledger/internal/util"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// DeductionService keeps balances accurate as sessions are consumed. It is a
// scan-based batch: a credit leaves the balance when the session has actually
// occurred, never when it is merely scheduled, so cancellations need no
// refund step.
type DeductionService struct {
	store          LedgerStore
	eventPublisher EventPublisher
	batchSize      int
	logger         *zap.Logger
}

// NewDeductionService creates a new deduction service
func NewDeductionService(store LedgerStore, eventPublisher EventPublisher, batchSize int) *DeductionService {
	if batchSize <= 0 {
		batchSize = 100
	}
	return &DeductionService{
		store:          store,
		eventPublisher: eventPublisher,
		batchSize:      batchSize,
		logger:         util.GetLogger(),
	}
}

// ProcessSessionDeductions sweeps past-due booked sessions in bounded pages.
// Each session transitions to completed; the owning client's balance is
// decremented once per session while it stays above zero. Zero-balance
// clients keep credit_deducted = false on the completed session and surface
// in the needs-payment worklist instead of going negative.
//
// Re-entrant and safe to run concurrently: claimed sessions are excluded by
// the conditional update, so a second run finds nothing left to deduct.
func (ds *DeductionService) ProcessSessionDeductions(ctx context.Context) (*models.DeductionRunResult, error) {
	ctx, span := util.StartSpan(ctx, "DeductionService.ProcessSessionDeductions")
	defer span.End()

	start := time.Now()
	defer func() {
		util.DeductionRunLatency.Observe(time.Since(start).Seconds())
	}()
	util.DeductionRunsTotal.Inc()

	now := time.Now()
	result := &models.DeductionRunResult{}

	// Sessions that already produced an error this run. A failed session
	// stays in the scan, so without this a rescan would report it again.
	failed := make(map[int64]bool)

	for {
		page, err := ds.store.ListDueSessions(ctx, now, ds.batchSize)
		if err != nil {
			return nil, fmt.Errorf("failed to scan due sessions: %w", err)
		}
		if len(page) == 0 {
			break
		}

		progressed := ds.processPage(ctx, page, now, result, failed)
		if !progressed {
			// Every session in the page failed or was claimed elsewhere;
			// rescanning would loop on the same rows.
			break
		}
		if len(page) < ds.batchSize {
			break
		}
	}

	util.CreditsDeductedTotal.Add(float64(result.Deducted))
	ds.logger.Info("Deduction run finished",
		zap.Int("processed", result.Processed),
		zap.Int("deducted", result.Deducted),
		zap.Int("no_credits", len(result.NoCredits)),
		zap.Int("errors", len(result.Errors)))

	ds.publishRun(ctx, result)
	return result, nil
}

// processPage groups one page of due sessions by client and settles each
// client in its own transaction. Returns whether any session changed state.
func (ds *DeductionService) processPage(ctx context.Context, page []models.DueSession, now time.Time, result *models.DeductionRunResult, failed map[int64]bool) bool {
	grouped := make(map[int64][]int64)
	order := []int64{}

	progressed := false
	for _, due := range page {
		if failed[due.SessionID] {
			continue
		}
		if due.ClientID == nil {
			// Orphaned booking: close it out so the scan stops finding it.
			result.Processed++
			progressed = true
			if err := ds.store.CompleteOrphanSession(ctx, due.SessionID, now); err != nil {
				ds.logger.Error("Failed to complete orphan session",
					zap.Int64("session_id", due.SessionID), zap.Error(err))
			}
			failed[due.SessionID] = true
			result.Errors = append(result.Errors, models.DeductionError{
				SessionID: due.SessionID,
				Reason:    "no client found",
			})
			continue
		}
		cid := *due.ClientID
		if _, ok := grouped[cid]; !ok {
			order = append(order, cid)
		}
		grouped[cid] = append(grouped[cid], due.SessionID)
	}

	for _, clientID := range order {
		sessionIDs := grouped[clientID]
		cd, err := ds.store.DeductForClient(ctx, clientID, sessionIDs, now)
		if err != nil {
			if ledgererr.CodeOf(err) == ledgererr.CodeInvalidClient {
				// Client deleted after booking; settle the sessions as orphans.
				for _, sid := range sessionIDs {
					result.Processed++
					progressed = true
					if orphanErr := ds.store.CompleteOrphanSession(ctx, sid, now); orphanErr != nil {
						ds.logger.Error("Failed to complete orphan session",
							zap.Int64("session_id", sid), zap.Error(orphanErr))
					}
					failed[sid] = true
					result.Errors = append(result.Errors, models.DeductionError{
						SessionID: sid,
						Reason:    "client not found",
					})
				}
				continue
			}
			ds.logger.Error("Failed to deduct for client",
				zap.Int64("client_id", clientID), zap.Error(err))
			for _, sid := range sessionIDs {
				failed[sid] = true
				result.Errors = append(result.Errors, models.DeductionError{
					SessionID: sid,
					Reason:    "processing error",
				})
			}
			continue
		}

		if cd.Completed > 0 {
			progressed = true
		}
		result.Processed += cd.Completed
		result.Deducted += cd.Deducted
		for _, sid := range cd.NoCredit {
			result.NoCredits = append(result.NoCredits, models.NoCreditSession{
				SessionID: sid,
				ClientID:  clientID,
			})
			util.SessionsWithoutCreditTotal.Inc()
			ds.publishNeedsPayment(ctx, clientID, sid)
		}
	}

	return progressed
}

func (ds *DeductionService) publishRun(ctx context.Context, result *models.DeductionRunResult) {
	if ds.eventPublisher == nil {
		return
	}
	event := &models.CreditsDeductedEvent{
		BaseEvent: models.BaseEvent{
			EventID:   uuid.New().String(),
			EventType: models.EventTypeCreditsDeducted,
			Timestamp: time.Now(),
		},
		Processed: result.Processed,
		Deducted:  result.Deducted,
		NoCredits: len(result.NoCredits),
	}
	if err := ds.eventPublisher.PublishCreditsDeducted(ctx, event); err != nil {
		ds.logger.Error("Failed to publish CreditsDeducted event", zap.Error(err))
	}
}

func (ds *DeductionService) publishNeedsPayment(ctx context.Context, clientID, sessionID int64) {
	if ds.eventPublisher == nil {
		return
	}
	event := &models.ClientNeedsPaymentEvent{
		BaseEvent: models.BaseEvent{
			EventID:   uuid.New().String(),
			EventType: models.EventTypeClientNeedsPayment,
			Timestamp: time.Now(),
		},
		ClientID:  clientID,
		SessionID: sessionID,
	}
	if err := ds.eventPublisher.PublishClientNeedsPayment(ctx, event); err != nil {
		ds.logger.Error("Failed to publish ClientNeedsPayment event", zap.Error(err))
	}
}
