package worker

import (
	"context"
	"log"
	"time"

	"credit-ledger/internal/broker"
	"credit-ledger/internal/ledgererr"
	"credit-ledger/internal/models"
	"credit-ledger/internal/redisclient"
	"credit-ledger/internal/service"
	"credit-ledger/internal/store"
)

// CartWorker runs the automatic checkout-to-grant pipeline: it consumes
// CartCompleted events and turns each completed cart into credits exactly
// once.
type CartWorker struct {
	consumer     *broker.Consumer
	eventHandler *broker.EventHandler
	grantService *service.GrantService
	store        *store.Store
}

// NewCartWorker creates a new cart worker
func NewCartWorker(
	consumer *broker.Consumer,
	grantService *service.GrantService,
	store *store.Store,
) *CartWorker {
	w := &CartWorker{
		consumer:     consumer,
		grantService: grantService,
		store:        store,
	}

	eventHandler := broker.NewEventHandler()
	eventHandler.OnCartCompleted(w.handleCartCompleted)
	w.eventHandler = eventHandler

	return w
}

// handleCartCompleted grants credits for a completed cart. Redeliveries are
// harmless twice over: the processed_events table skips seen event IDs, and
// the cart's one-shot sessions_granted flip rejects a second grant anyway.
func (w *CartWorker) handleCartCompleted(ctx context.Context, event *models.CartCompletedEvent) error {
	processed, err := w.store.IsEventProcessed(ctx, event.EventID)
	if err != nil {
		return err
	}
	if processed {
		log.Printf("Event already processed: %s", event.EventID)
		return nil
	}

	_, err = w.grantService.GrantCartSessions(ctx, event.CartID)
	if err != nil {
		switch ledgererr.CodeOf(err) {
		case ledgererr.CodeCartAlreadyGranted:
			log.Printf("Cart %d already granted, skipping", event.CartID)
		case ledgererr.CodeCartNotCompleted, ledgererr.CodeInvalidItem:
			// Malformed or premature event; retrying cannot fix it.
			log.Printf("Skipping cart %d: %v", event.CartID, err)
		default:
			return err
		}
	}

	if err := w.store.MarkEventProcessed(ctx, event.EventID, event.EventType); err != nil {
		log.Printf("Failed to mark event processed: %v", err)
	}
	return nil
}

// Start starts the worker
func (w *CartWorker) Start(ctx context.Context) error {
	log.Println("Starting cart worker...")
	return w.consumer.StartConsuming(ctx, w.eventHandler.HandleMessage)
}

// Stop stops the worker
func (w *CartWorker) Stop() error {
	log.Println("Stopping cart worker...")
	return w.consumer.Close()
}

const deductionLockKey = "session-deductions"

// DeductionWorker runs the batch deduction sweep on a fixed interval. A
// Redis lock keeps multiple instances from starting overlapping runs; the
// conditional per-session updates keep even an overlapping run correct.
type DeductionWorker struct {
	deductionService *service.DeductionService
	redis            *redisclient.Client
	interval         time.Duration
	stop             chan struct{}
}

// NewDeductionWorker creates a new deduction worker
func NewDeductionWorker(
	deductionService *service.DeductionService,
	redis *redisclient.Client,
	interval time.Duration,
) *DeductionWorker {
	return &DeductionWorker{
		deductionService: deductionService,
		redis:            redis,
		interval:         interval,
		stop:             make(chan struct{}),
	}
}

// Start starts the ticker loop
func (dw *DeductionWorker) Start(ctx context.Context) error {
	log.Printf("Starting deduction worker, interval=%s", dw.interval)

	ticker := time.NewTicker(dw.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-dw.stop:
			return nil
		case <-ticker.C:
			dw.runOnce(ctx)
		}
	}
}

func (dw *DeductionWorker) runOnce(ctx context.Context) {
	if dw.redis != nil {
		acquired, err := dw.redis.AcquireLock(ctx, deductionLockKey, dw.interval)
		if err != nil {
			log.Printf("Failed to acquire deduction lock: %v", err)
			return
		}
		if !acquired {
			log.Println("Deduction run already in progress elsewhere, skipping")
			return
		}
		defer func() {
			if err := dw.redis.ReleaseLock(ctx, deductionLockKey); err != nil {
				log.Printf("Failed to release deduction lock: %v", err)
			}
		}()
	}

	result, err := dw.deductionService.ProcessSessionDeductions(ctx)
	if err != nil {
		log.Printf("Deduction run failed: %v", err)
		return
	}
	log.Printf("Deduction run: processed=%d, deducted=%d", result.Processed, result.Deducted)
}

// Stop stops the worker
func (dw *DeductionWorker) Stop() error {
	log.Println("Stopping deduction worker...")
	close(dw.stop)
	return nil
}
