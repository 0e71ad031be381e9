package pos

import (
	"context"
	"testing"
	"time"
)

var matchBase = time.Date(2024, 3, 12, 14, 0, 0, 0, time.UTC)

func TestFindMatchingTransactionExactAmount(t *testing.T) {
	adapter := newStubAdapter(
		mkTx("tx-1", "loc-1", 8500, matchBase.Add(2*time.Minute)),
	)
	m := NewMatcher()

	res, err := m.FindMatchingTransaction(context.Background(), adapter, "loc-1", 8500, matchBase, 5*time.Minute)
	if err != nil {
		t.Fatalf("match: %v", err)
	}
	if res.Transaction == nil {
		t.Fatal("expected a match, got none")
	}
	if res.Transaction.ExternalID != "tx-1" {
		t.Errorf("matched %s, want tx-1", res.Transaction.ExternalID)
	}
	if res.Ambiguous {
		t.Error("single candidate flagged ambiguous")
	}
	if res.Candidates != 1 {
		t.Errorf("candidates = %d, want 1", res.Candidates)
	}
}

func TestFindMatchingTransactionAmountMismatch(t *testing.T) {
	adapter := newStubAdapter(
		mkTx("tx-1", "loc-1", 9000, matchBase.Add(2*time.Minute)),
	)
	m := NewMatcher()

	res, err := m.FindMatchingTransaction(context.Background(), adapter, "loc-1", 8500, matchBase, 5*time.Minute)
	if err != nil {
		t.Fatalf("match: %v", err)
	}
	if res.Transaction != nil {
		t.Fatalf("expected no match, got %s", res.Transaction.ExternalID)
	}
}

func TestFindMatchingTransactionOutsideTolerance(t *testing.T) {
	adapter := newStubAdapter(
		mkTx("tx-1", "loc-1", 8500, matchBase.Add(9*time.Minute)),
	)
	m := NewMatcher()

	res, err := m.FindMatchingTransaction(context.Background(), adapter, "loc-1", 8500, matchBase, 5*time.Minute)
	if err != nil {
		t.Fatalf("match: %v", err)
	}
	if res.Transaction != nil {
		t.Fatal("transaction outside tolerance window should not match")
	}
}

func TestFindMatchingTransactionAmbiguousReturnsClosest(t *testing.T) {
	adapter := newStubAdapter(
		mkTx("tx-far", "loc-1", 8500, matchBase.Add(3*time.Minute)),
		mkTx("tx-near", "loc-1", 8500, matchBase.Add(1*time.Minute)),
	)
	m := NewMatcher()

	res, err := m.FindMatchingTransaction(context.Background(), adapter, "loc-1", 8500, matchBase, 5*time.Minute)
	if err != nil {
		t.Fatalf("match: %v", err)
	}
	if res.Transaction == nil {
		t.Fatal("expected a match")
	}
	if !res.Ambiguous {
		t.Error("two equal-amount candidates must be flagged ambiguous")
	}
	if res.Candidates != 2 {
		t.Errorf("candidates = %d, want 2", res.Candidates)
	}
	if res.Transaction.ExternalID != "tx-near" {
		t.Errorf("matched %s, want tx-near (closer in time)", res.Transaction.ExternalID)
	}
}

func TestFindMatchingTransactionDeterministicTieBreak(t *testing.T) {
	// Equidistant candidates: the earlier one wins; equal timestamps fall
	// back to ExternalID order. Repeat to confirm stability.
	adapter := newStubAdapter(
		mkTx("tx-b", "loc-1", 8500, matchBase.Add(2*time.Minute)),
		mkTx("tx-a", "loc-1", 8500, matchBase.Add(2*time.Minute)),
	)
	m := NewMatcher()

	for i := 0; i < 5; i++ {
		m.InvalidateLocation("loc-1")
		res, err := m.FindMatchingTransaction(context.Background(), adapter, "loc-1", 8500, matchBase, 5*time.Minute)
		if err != nil {
			t.Fatalf("match: %v", err)
		}
		if res.Transaction.ExternalID != "tx-a" {
			t.Fatalf("run %d matched %s, want tx-a", i, res.Transaction.ExternalID)
		}
	}
}

func TestFindMatchingTransactionSkipsCancelled(t *testing.T) {
	cancelled := mkTx("tx-1", "loc-1", 8500, matchBase.Add(1*time.Minute))
	cancelled.Status = TxCancelled
	adapter := newStubAdapter(cancelled)
	m := NewMatcher()

	res, err := m.FindMatchingTransaction(context.Background(), adapter, "loc-1", 8500, matchBase, 5*time.Minute)
	if err != nil {
		t.Fatalf("match: %v", err)
	}
	if res.Transaction != nil {
		t.Fatal("cancelled transaction must never match")
	}
}

func TestFindMatchingTransactionCachesResult(t *testing.T) {
	adapter := newStubAdapter(
		mkTx("tx-1", "loc-1", 8500, matchBase.Add(2*time.Minute)),
	)
	m := NewMatcher()

	for i := 0; i < 3; i++ {
		if _, err := m.FindMatchingTransaction(context.Background(), adapter, "loc-1", 8500, matchBase, 0); err != nil {
			t.Fatalf("match: %v", err)
		}
	}
	if adapter.searchCalls != 1 {
		t.Errorf("vendor searched %d times, want 1 (cache)", adapter.searchCalls)
	}

	m.InvalidateLocation("loc-1")
	if _, err := m.FindMatchingTransaction(context.Background(), adapter, "loc-1", 8500, matchBase, 0); err != nil {
		t.Fatalf("match: %v", err)
	}
	if adapter.searchCalls != 2 {
		t.Errorf("vendor searched %d times after invalidation, want 2", adapter.searchCalls)
	}
}

func TestFindMatchingTransactionMissIsNotCached(t *testing.T) {
	// The vendor ledger can lag the claim by a few seconds. A miss must not
	// shadow the transaction once it lands.
	adapter := newStubAdapter()
	m := NewMatcher()

	res, err := m.FindMatchingTransaction(context.Background(), adapter, "loc-1", 8500, matchBase, 5*time.Minute)
	if err != nil {
		t.Fatalf("match: %v", err)
	}
	if res.Transaction != nil {
		t.Fatal("empty ledger should not match")
	}

	adapter.txs = append(adapter.txs, mkTx("tx-late", "loc-1", 8500, matchBase.Add(1*time.Minute)))

	res, err = m.FindMatchingTransaction(context.Background(), adapter, "loc-1", 8500, matchBase, 5*time.Minute)
	if err != nil {
		t.Fatalf("match after ledger catch-up: %v", err)
	}
	if adapter.searchCalls != 2 {
		t.Fatalf("vendor searched %d times, want 2 (misses must re-query)", adapter.searchCalls)
	}
	if res.Transaction == nil || res.Transaction.ExternalID != "tx-late" {
		t.Fatal("late-arriving transaction must be visible on retry")
	}
}

func TestFindMatchingTransactionVendorError(t *testing.T) {
	adapter := newStubAdapter()
	adapter.searchErr = vendorError(ProviderSquare, 503, "down")
	m := NewMatcher()

	_, err := m.FindMatchingTransaction(context.Background(), adapter, "loc-1", 8500, matchBase, 0)
	if err == nil {
		t.Fatal("expected vendor error to propagate")
	}
	if !IsRetryable(err) {
		t.Error("503 should be retryable")
	}
}

func TestMatchCacheTTLExpiry(t *testing.T) {
	now := matchBase
	c := newMatchCache(5 * time.Minute)
	c.nowFunc = func() time.Time { return now }

	key := matchCacheKey("loc-1", 8500, matchBase)
	c.put(key, MatchResult{Candidates: 1})

	if _, ok := c.get(key); !ok {
		t.Fatal("fresh entry should be served")
	}
	now = now.Add(6 * time.Minute)
	if _, ok := c.get(key); ok {
		t.Fatal("expired entry must not be served")
	}
}

func TestMatchCacheKeyMinuteBucket(t *testing.T) {
	a := matchCacheKey("loc-1", 8500, matchBase)
	b := matchCacheKey("loc-1", 8500, matchBase.Add(20*time.Second))
	if a != b {
		t.Errorf("timestamps in the same minute should share a key: %s vs %s", a, b)
	}
	c := matchCacheKey("loc-1", 8500, matchBase.Add(2*time.Minute))
	if a == c {
		t.Error("different minute buckets must not collide")
	}
}
