package action

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/clinicore/actiongate/internal/domain/tool"
	"github.com/clinicore/actiongate/internal/port/outbound"
)

// Idempotency cache defaults.
const (
	DefaultIdempotencyTTL = 24 * time.Hour
	DefaultInFlightTTL    = 5 * time.Minute
	DefaultInFlightWait   = 30 * time.Second

	idempotencyPrefix = "idempotency:"
	pollInterval      = 20 * time.Millisecond
)

// ErrInFlight is returned when another call holds the claim on a key for
// longer than the configured wait.
var ErrInFlight = errors.New("an execution with this idempotency key is already in progress")

type entryState string

const (
	entryInFlight entryState = "in_flight"
	entryDone     entryState = "done"
)

// cacheEntry is the value stored under an idempotency key. The in-flight
// form doubles as the claim: only the holder of these exact bytes can
// complete or release it.
type cacheEntry struct {
	State     entryState       `json:"state"`
	RequestID string           `json:"request_id"`
	Result    *ExecutionResult `json:"result,omitempty"`
}

// idempotencyCache implements claim-or-fetch on top of a KVStore.
type idempotencyCache struct {
	store       outbound.KVStore
	ttl         time.Duration
	inFlightTTL time.Duration
	wait        time.Duration
}

// claim is held by the single caller allowed to run a key.
type claim struct {
	key   string
	value []byte
}

// cacheKey namespaces keys by mode so a simulation never satisfies a later
// execute call with the same key.
func cacheKey(mode tool.Mode, key string) string {
	return idempotencyPrefix + string(mode) + ":" + key
}

// claimOrFetch either claims key for this request or returns the cached
// result of an earlier completed call. When another call is in flight it
// waits for that call to finish or release the key.
func (c *idempotencyCache) claimOrFetch(ctx context.Context, mode tool.Mode, key, requestID string) (*claim, *cacheEntry, error) {
	k := cacheKey(mode, key)
	value, err := json.Marshal(cacheEntry{State: entryInFlight, RequestID: requestID})
	if err != nil {
		return nil, nil, fmt.Errorf("encode claim: %w", err)
	}

	deadline := time.Now().Add(c.wait)
	for {
		ok, err := c.store.CompareAndSwap(ctx, k, nil, value, c.inFlightTTL)
		if err != nil {
			return nil, nil, fmt.Errorf("claim idempotency key: %w", err)
		}
		if ok {
			return &claim{key: k, value: value}, nil, nil
		}

		raw, found, err := c.store.Get(ctx, k)
		if err != nil {
			return nil, nil, fmt.Errorf("read idempotency key: %w", err)
		}
		if found {
			var entry cacheEntry
			if err := json.Unmarshal(raw, &entry); err != nil {
				return nil, nil, fmt.Errorf("decode idempotency entry: %w", err)
			}
			if entry.State == entryDone && entry.Result != nil {
				return nil, &entry, nil
			}
		} else {
			// Released or expired between the two calls; try to claim again.
			continue
		}

		if !time.Now().Before(deadline) {
			return nil, nil, ErrInFlight
		}
		select {
		case <-ctx.Done():
			return nil, nil, ctx.Err()
		case <-time.After(pollInterval):
		}
	}
}

// fetch returns the completed entry for key, or nil when there is none.
// It never claims.
func (c *idempotencyCache) fetch(ctx context.Context, mode tool.Mode, key string) (*cacheEntry, error) {
	raw, found, err := c.store.Get(ctx, cacheKey(mode, key))
	if err != nil {
		return nil, fmt.Errorf("read idempotency key: %w", err)
	}
	if !found {
		return nil, nil
	}
	var entry cacheEntry
	if err := json.Unmarshal(raw, &entry); err != nil {
		return nil, fmt.Errorf("decode idempotency entry: %w", err)
	}
	if entry.State != entryDone || entry.Result == nil {
		return nil, nil
	}
	return &entry, nil
}

// complete replaces the claim with the terminal result.
func (c *idempotencyCache) complete(ctx context.Context, cl *claim, result *ExecutionResult) error {
	value, err := json.Marshal(cacheEntry{State: entryDone, RequestID: result.RequestID, Result: result})
	if err != nil {
		return fmt.Errorf("encode result: %w", err)
	}
	ok, err := c.store.CompareAndSwap(ctx, cl.key, cl.value, value, c.ttl)
	if err != nil {
		return fmt.Errorf("store result: %w", err)
	}
	if !ok {
		return errors.New("idempotency claim lost before completion")
	}
	return nil
}

// release drops the claim so a retry can run immediately.
func (c *idempotencyCache) release(ctx context.Context, cl *claim) error {
	if _, err := c.store.CompareAndSwap(ctx, cl.key, cl.value, nil, 0); err != nil {
		return fmt.Errorf("release idempotency key: %w", err)
	}
	return nil
}

// clear removes every cached result and claim.
func (c *idempotencyCache) clear(ctx context.Context) error {
	return c.store.DeletePrefix(ctx, idempotencyPrefix)
}

