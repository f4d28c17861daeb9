package service

import (
	"context"
	"math/rand"
	"testing"
	"time"

	"credit-ledger/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestProcessSessionDeductions(t *testing.T) {
	store := newMemStore()
	client := store.addClient(1, models.RoleClient, 3)
	past := time.Now().Add(-2 * time.Hour)
	for i := int64(100); i < 105; i++ {
		store.addSession(i, &client.ID, past, models.SessionStatusScheduled)
	}

	pub := &memPublisher{}
	ds := NewDeductionService(store, pub, 100)

	result, err := ds.ProcessSessionDeductions(context.Background())
	require.NoError(t, err)

	// Five past sessions, three credits: all complete, three deduct, two
	// surface as no-credit.
	assert.Equal(t, 5, result.Processed)
	assert.Equal(t, 3, result.Deducted)
	assert.Len(t, result.NoCredits, 2)
	assert.Empty(t, result.Errors)

	got, _ := store.GetClientByID(context.Background(), 1)
	assert.Equal(t, 0, got.SessionCredits)

	for i := int64(100); i < 105; i++ {
		assert.Equal(t, models.SessionStatusCompleted, store.sessions[i].Status)
	}
	assert.True(t, store.sessions[100].CreditDeducted)
	assert.False(t, store.sessions[104].CreditDeducted)

	require.Len(t, pub.deducted, 1)
	assert.Equal(t, 3, pub.deducted[0].Deducted)
	assert.Len(t, pub.needsPay, 2)
}

func TestProcessSessionDeductionsIdempotent(t *testing.T) {
	store := newMemStore()
	client := store.addClient(1, models.RoleClient, 10)
	past := time.Now().Add(-time.Hour)
	store.addSession(100, &client.ID, past, models.SessionStatusConfirmed)

	ds := NewDeductionService(store, &memPublisher{}, 100)

	first, err := ds.ProcessSessionDeductions(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, first.Deducted)

	// A second run finds nothing: completed sessions are out of the scan.
	second, err := ds.ProcessSessionDeductions(context.Background())
	require.NoError(t, err)
	assert.Zero(t, second.Processed)
	assert.Zero(t, second.Deducted)

	got, _ := store.GetClientByID(context.Background(), 1)
	assert.Equal(t, 9, got.SessionCredits)
}

func TestProcessSessionDeductionsSkipsFutureAndCancelled(t *testing.T) {
	store := newMemStore()
	client := store.addClient(1, models.RoleClient, 10)
	store.addSession(100, &client.ID, time.Now().Add(24*time.Hour), models.SessionStatusScheduled)
	store.addSession(101, &client.ID, time.Now().Add(-time.Hour), models.SessionStatusCancelled)

	ds := NewDeductionService(store, &memPublisher{}, 100)

	result, err := ds.ProcessSessionDeductions(context.Background())
	require.NoError(t, err)
	assert.Zero(t, result.Processed)

	got, _ := store.GetClientByID(context.Background(), 1)
	assert.Equal(t, 10, got.SessionCredits)
	assert.Equal(t, models.SessionStatusScheduled, store.sessions[100].Status)
	assert.Equal(t, models.SessionStatusCancelled, store.sessions[101].Status)
}

func TestProcessSessionDeductionsOrphans(t *testing.T) {
	store := newMemStore()
	past := time.Now().Add(-time.Hour)
	store.addSession(100, nil, past, models.SessionStatusScheduled)

	deleted := int64(42)
	store.addSession(101, &deleted, past, models.SessionStatusScheduled)

	ds := NewDeductionService(store, &memPublisher{}, 100)

	result, err := ds.ProcessSessionDeductions(context.Background())
	require.NoError(t, err)

	// Both settle as errors rather than deductions, and both leave the scan.
	require.Len(t, result.Errors, 2)
	assert.Zero(t, result.Deducted)
	assert.Equal(t, models.SessionStatusCompleted, store.sessions[100].Status)
	assert.Equal(t, models.SessionStatusCompleted, store.sessions[101].Status)

	reasons := map[string]bool{}
	for _, e := range result.Errors {
		reasons[e.Reason] = true
	}
	assert.True(t, reasons["no client found"])
	assert.True(t, reasons["client not found"])
}

func TestGrantThenDeduct(t *testing.T) {
	store := newMemStore()
	client := store.addClient(1, models.RoleClient, 0)
	store.addItem(10, "10 Session Pack", 10, 75000)

	gs, _ := newTestGrantService(store)
	_, err := gs.PurchaseAndGrant(context.Background(), &PurchaseAndGrantRequest{
		ClientID:         1,
		StorefrontItemID: 10,
		Quantity:         1,
	})
	require.NoError(t, err)

	past := time.Now().Add(-time.Hour)
	for i := int64(100); i < 103; i++ {
		store.addSession(i, &client.ID, past, models.SessionStatusScheduled)
	}

	ds := NewDeductionService(store, &memPublisher{}, 100)
	result, err := ds.ProcessSessionDeductions(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 3, result.Deducted)

	got, _ := store.GetClientByID(context.Background(), 1)
	assert.Equal(t, 7, got.SessionCredits)
}

// flakyDeductStore fails every deduction for one client, leaving that
// client's sessions unclaimed in the scan.
type flakyDeductStore struct {
	*memStore
	failClientID int64
}

func (f *flakyDeductStore) DeductForClient(ctx context.Context, clientID int64, sessionIDs []int64, now time.Time) (*models.ClientDeduction, error) {
	if clientID == f.failClientID {
		return nil, context.DeadlineExceeded
	}
	return f.memStore.DeductForClient(ctx, clientID, sessionIDs, now)
}

func TestProcessSessionDeductionsReportsFailuresOnce(t *testing.T) {
	mem := newMemStore()
	healthy := mem.addClient(1, models.RoleClient, 5)
	flaky := mem.addClient(2, models.RoleClient, 5)
	past := time.Now().Add(-time.Hour)
	mem.addSession(100, &healthy.ID, past, models.SessionStatusScheduled)
	mem.addSession(101, &flaky.ID, past, models.SessionStatusScheduled)
	mem.addSession(102, &flaky.ID, past, models.SessionStatusScheduled)

	store := &flakyDeductStore{memStore: mem, failClientID: 2}

	// Batch of 3 makes the first page full, forcing a rescan that refetches
	// the failing client's still-unclaimed sessions
	ds := NewDeductionService(store, &memPublisher{}, 3)

	result, err := ds.ProcessSessionDeductions(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, result.Deducted)

	// Each failing session is reported exactly once across rescans
	require.Len(t, result.Errors, 2)
	seen := map[int64]int{}
	for _, e := range result.Errors {
		seen[e.SessionID]++
		assert.Equal(t, "processing error", e.Reason)
	}
	assert.Equal(t, 1, seen[101])
	assert.Equal(t, 1, seen[102])
}

// TestBalanceInvariantRandomized replays random interleavings of grants,
// session bookings, and deduction runs, checking after every step that the
// balance equals credits ever granted minus sessions deducted and never goes
// negative.
func TestBalanceInvariantRandomized(t *testing.T) {
	rng := rand.New(rand.NewSource(7))
	ctx := context.Background()

	store := newMemStore()
	client := store.addClient(1, models.RoleClient, 0)
	store.addItem(10, "5 Pack", 5, 40000)

	gs, _ := newTestGrantService(store)
	ds := NewDeductionService(store, &memPublisher{}, 4)

	granted := 0
	nextSessionID := int64(100)
	past := time.Now().Add(-time.Hour)

	for step := 0; step < 300; step++ {
		switch rng.Intn(3) {
		case 0:
			qty := 1 + rng.Intn(3)
			_, err := gs.PurchaseAndGrant(ctx, &PurchaseAndGrantRequest{
				ClientID:         1,
				StorefrontItemID: 10,
				Quantity:         qty,
			})
			require.NoError(t, err)
			granted += 5 * qty
		case 1:
			for n := 1 + rng.Intn(4); n > 0; n-- {
				store.addSession(nextSessionID, &client.ID, past, models.SessionStatusScheduled)
				nextSessionID++
			}
		case 2:
			_, err := ds.ProcessSessionDeductions(ctx)
			require.NoError(t, err)
		}

		deducted := 0
		for _, s := range store.sessions {
			if s.CreditDeducted {
				deducted++
			}
		}
		got, _ := store.GetClientByID(ctx, 1)
		require.Equal(t, granted-deducted, got.SessionCredits, "step %d", step)
		require.GreaterOrEqual(t, got.SessionCredits, 0, "step %d", step)
	}
}

func TestProcessSessionDeductionsPaging(t *testing.T) {
	store := newMemStore()
	client := store.addClient(1, models.RoleClient, 20)
	past := time.Now().Add(-time.Hour)
	for i := int64(100); i < 110; i++ {
		store.addSession(i, &client.ID, past, models.SessionStatusScheduled)
	}

	// Batch of 3 forces multiple pages over the ten due sessions
	ds := NewDeductionService(store, &memPublisher{}, 3)

	result, err := ds.ProcessSessionDeductions(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 10, result.Processed)
	assert.Equal(t, 10, result.Deducted)

	got, _ := store.GetClientByID(context.Background(), 1)
	assert.Equal(t, 10, got.SessionCredits)
}
