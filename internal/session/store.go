// Package session implements the shared single-active-session store.
//
// Purpose:
//
//	This package persists one session record per principal in Redis under
//	user:token:{userID}. The record carries the fingerprint of the most
//	recent login together with the principal's permission and role sets,
//	loaded once at login time. Writing a new record for the same principal
//	overwrites the old one, which is the entire forced-logout mechanism:
//	the previous token's fingerprint no longer matches and every node
//	rejects it on the next request.
//
// Dependencies:
//   - github.com/redis/go-redis/v9: shared key/value store
//   - github.com/google/uuid: principal IDs and fingerprints
//
// Key Responsibilities:
//   - Put/Get/Delete of JSON-encoded records with a TTL matching the token
//   - ErrNotFound sentinel for missing (expired or revoked) sessions
//
// Thread Safety:
//   - Store is stateless and safe for concurrent use; last write wins per
//     principal, which is what enforces the single active session
//
// Error Handling:
//   - redis.Nil is translated to ErrNotFound; everything else is wrapped
package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// keyPrefix namespaces session records in the shared Redis instance.
const keyPrefix = "user:token:"

// ErrNotFound is returned when no session record exists for a principal.
var ErrNotFound = errors.New("session: record not found")

// Record is the authoritative server-side session state for one principal.
type Record struct {
	UserID uuid.UUID `json:"user_id"`
	// Username mirrors the token subject for logging and display.
	Username string `json:"username"`
	// Fingerprint is the opaque per-login identifier. Only tokens carrying
	// this exact value are accepted.
	Fingerprint string `json:"token_uuid"`
	// Permissions and RoleKeys are loaded once at login so the request path
	// never joins against the database.
	Permissions []string `json:"permissions"`
	RoleKeys    []string `json:"role_keys"`
	// Status mirrors the account status at login time (1 active, 0 disabled).
	Status    int       `json:"status"`
	IssuedAt  time.Time `json:"issued_at"`
}

// Store reads and writes session records in Redis.
type Store struct {
	client *redis.Client
}

// NewStore wraps the shared Redis client.
func NewStore(client *redis.Client) *Store {
	return &Store{client: client}
}

func key(userID uuid.UUID) string {
	return keyPrefix + userID.String()
}

// Put writes the record with the given TTL, overwriting any existing
// session for the same principal.
func (s *Store) Put(ctx context.Context, rec Record, ttl time.Duration) error {
	payload, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("session: marshal record: %w", err)
	}
	if err := s.client.Set(ctx, key(rec.UserID), payload, ttl).Err(); err != nil {
		return fmt.Errorf("session: put record: %w", err)
	}
	return nil
}

// Get returns the current record for a principal, or ErrNotFound.
func (s *Store) Get(ctx context.Context, userID uuid.UUID) (*Record, error) {
	data, err := s.client.Get(ctx, key(userID)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("session: get record: %w", err)
	}
	var rec Record
	if err := json.Unmarshal(data, &rec); err != nil {
		return nil, fmt.Errorf("session: unmarshal record: %w", err)
	}
	return &rec, nil
}

// Delete removes the record, revoking the session immediately on every
// node. Deleting a missing record is not an error.
func (s *Store) Delete(ctx context.Context, userID uuid.UUID) error {
	if err := s.client.Del(ctx, key(userID)).Err(); err != nil {
		return fmt.Errorf("session: delete record: %w", err)
	}
	return nil
}
