package pos

import (
	"context"
	"sort"
	"time"

	"github.com/sirupsen/logrus"
)

// DefaultTolerance is the window applied when a caller doesn't supply one.
const DefaultTolerance = 5 * time.Minute

// MatchCacheTTL bounds how long a lookup result may be reused.
const MatchCacheTTL = 5 * time.Minute

// Matcher reconciles a customer-claimed purchase against a vendor's
// transaction history. Amounts are integer minor units, so a match is exact
// amount equality inside the tolerance window; any sub-unit discrepancy in
// vendor data indicates a normalizer bug and is logged, never matched.
type Matcher struct {
	cache *matchCache
}

// NewMatcher returns a matcher with its own short-TTL cache. One matcher is
// shared per process; the cache is safe for concurrent use.
func NewMatcher() *Matcher {
	return &Matcher{cache: newMatchCache(MatchCacheTTL)}
}

// FindMatchingTransaction searches the adapter for a transaction at
// locationID whose amount equals the claimed amount and whose creation time
// is within tolerance of the claimed timestamp. It returns a nil Transaction
// when nothing matches. With several equal-amount candidates in the window
// it returns the closest in time and sets Ambiguous so a secondary check can
// arbitrate instead of a silent first-match.
//
// The tie-break is deterministic (time distance, then earlier CreatedAt,
// then ExternalID), so repeated calls with the same inputs return the same
// transaction.
func (m *Matcher) FindMatchingTransaction(ctx context.Context, adapter Adapter, locationID string, amount int64, ts time.Time, tolerance time.Duration) (MatchResult, error) {
	if tolerance <= 0 {
		tolerance = DefaultTolerance
	}

	key := matchCacheKey(locationID, amount, ts)
	if cached, ok := m.cache.get(key); ok {
		matchLookupsTotal.WithLabelValues("cached").Inc()
		return cached, nil
	}

	txs, err := adapter.SearchTransactions(ctx, TransactionQuery{
		LocationID: locationID,
		Begin:      ts.Add(-tolerance),
		End:        ts.Add(tolerance),
	})
	if err != nil {
		return MatchResult{}, err
	}

	candidates := make([]*Transaction, 0, 1)
	for _, tx := range txs {
		if tx.Status == TxCancelled {
			continue
		}
		if tx.Amount < 0 {
			logrus.WithFields(logrus.Fields{
				"provider":    tx.Provider,
				"external_id": tx.ExternalID,
			}).Error("negative amount from normalizer, skipping")
			continue
		}
		if tx.Amount == amount {
			candidates = append(candidates, tx)
		}
	}

	if len(candidates) == 0 {
		matchLookupsTotal.WithLabelValues("miss").Inc()
		// Misses are never cached: the vendor ledger may be seconds behind
		// the claim, and a retry must see the transaction once it lands.
		return MatchResult{}, nil
	}

	sort.Slice(candidates, func(i, j int) bool {
		di := absDuration(candidates[i].CreatedAt.Sub(ts))
		dj := absDuration(candidates[j].CreatedAt.Sub(ts))
		if di != dj {
			return di < dj
		}
		if !candidates[i].CreatedAt.Equal(candidates[j].CreatedAt) {
			return candidates[i].CreatedAt.Before(candidates[j].CreatedAt)
		}
		return candidates[i].ExternalID < candidates[j].ExternalID
	})

	result := MatchResult{
		Transaction: candidates[0],
		Ambiguous:   len(candidates) > 1,
		Candidates:  len(candidates),
	}
	if result.Ambiguous {
		matchLookupsTotal.WithLabelValues("ambiguous").Inc()
		logrus.WithFields(logrus.Fields{
			"location_id": locationID,
			"amount":      amount,
			"candidates":  len(candidates),
		}).Warn("ambiguous transaction match, not eligible for auto-approval")
	} else {
		matchLookupsTotal.WithLabelValues("hit").Inc()
	}

	m.cache.put(key, result)
	return result, nil
}

// InvalidateLocation drops cached lookups for a location, used when a
// refund or transaction-updated webhook lands.
func (m *Matcher) InvalidateLocation(locationID string) {
	m.cache.invalidateLocation(locationID)
}

func absDuration(d time.Duration) time.Duration {
	if d < 0 {
		return -d
	}
	return d
}
