// Package state persists the service's bookkeeping in a bbolt database:
// authorization requests awaiting their callback and a non-secret record
// of completed exchanges. Access and refresh tokens are never written.
package state

import (
	"encoding/json"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"time"

	apperrors "github.com/alexjbarnes/withings-auth/internal/errors"
	"github.com/alexjbarnes/withings-auth/internal/models"
	"github.com/alexjbarnes/withings-auth/withings"
	"github.com/google/uuid"
	bolt "go.etcd.io/bbolt"
)

const (
	// stateDirPerm is the permission mode for the state directory.
	stateDirPerm = fs.FileMode(0o700)

	// stateFilePerm is the permission mode for the state database file.
	stateFilePerm = fs.FileMode(0o600)

	// stateOpenTimeout is the maximum time to wait for the bolt database lock.
	stateOpenTimeout = 5 * time.Second

	// PendingStateTTL is how long an authorization request may wait for
	// its callback.
	PendingStateTTL = 10 * time.Minute
)

var (
	pendingStatesBucket = []byte("pending_states")
	exchangesBucket     = []byte("exchanges")
)

// State wraps a bbolt database for all persistent application state.
type State struct {
	db  *bolt.DB
	now func() time.Time
}

// LoadAt opens a state database at the given path, creating it and its
// parent directory if they do not exist.
func LoadAt(path string) (*State, error) {
	if err := os.MkdirAll(filepath.Dir(path), stateDirPerm); err != nil {
		return nil, fmt.Errorf("creating state directory: %w", err)
	}

	db, err := bolt.Open(path, stateFilePerm, &bolt.Options{Timeout: stateOpenTimeout})
	if err != nil {
		return nil, fmt.Errorf("opening state db: %w", err)
	}

	err = db.Update(func(tx *bolt.Tx) error {
		if _, err := tx.CreateBucketIfNotExists(pendingStatesBucket); err != nil {
			return err
		}

		_, err := tx.CreateBucketIfNotExists(exchangesBucket)

		return err
	})
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("initializing state db: %w", err)
	}

	return &State{db: db, now: time.Now}, nil
}

// Close closes the database.
func (s *State) Close() error {
	return s.db.Close()
}

// NewPendingState builds a PendingState created now that expires after
// PendingStateTTL.
func (s *State) NewPendingState(state, redirectURI string, scopes []string) models.PendingState {
	now := s.now()

	return models.PendingState{
		State:       state,
		RedirectURI: redirectURI,
		Scopes:      scopes,
		CreatedAt:   now,
		ExpiresAt:   now.Add(PendingStateTTL),
	}
}

// SavePendingState records an authorization request until its callback
// arrives.
func (s *State) SavePendingState(ps models.PendingState) error {
	if ps.State == "" {
		return fmt.Errorf("state value is required for persistence")
	}

	data, err := json.Marshal(ps)
	if err != nil {
		return err
	}

	return s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(pendingStatesBucket).Put([]byte(ps.State), data)
	})
}

// ConsumePendingState removes and returns the pending request for state.
// A state can be consumed once. Unknown and expired states fail with
// ErrUnknownState.
func (s *State) ConsumePendingState(state string) (*models.PendingState, error) {
	var ps *models.PendingState

	err := s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(pendingStatesBucket)

		v := b.Get([]byte(state))
		if v == nil {
			return nil
		}

		ps = &models.PendingState{}
		if err := json.Unmarshal(v, ps); err != nil {
			return err
		}

		return b.Delete([]byte(state))
	})
	if err != nil {
		return nil, fmt.Errorf("consuming pending state: %w", err)
	}

	if ps == nil {
		return nil, apperrors.ErrUnknownState
	}

	if s.now().After(ps.ExpiresAt) {
		return nil, fmt.Errorf("state expired at %s: %w", ps.ExpiresAt.Format(time.RFC3339), apperrors.ErrUnknownState)
	}

	return ps, nil
}

// PurgeExpiredStates deletes every expired pending state and returns how
// many were removed.
func (s *State) PurgeExpiredStates() (int, error) {
	now := s.now()
	removed := 0

	err := s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(pendingStatesBucket)

		var expired [][]byte

		err := b.ForEach(func(k, v []byte) error {
			var ps models.PendingState
			if err := json.Unmarshal(v, &ps); err != nil {
				// Unreadable entries can never be consumed.
				expired = append(expired, append([]byte(nil), k...))
				return nil
			}

			if now.After(ps.ExpiresAt) {
				expired = append(expired, append([]byte(nil), k...))
			}

			return nil
		})
		if err != nil {
			return err
		}

		for _, k := range expired {
			if err := b.Delete(k); err != nil {
				return err
			}
		}

		removed = len(expired)

		return nil
	})

	return removed, err
}

// SaveExchange records a completed exchange. CreatedAt defaults to now.
func (s *State) SaveExchange(rec models.ExchangeRecord) error {
	if rec.ID == "" {
		return fmt.Errorf("exchange id is required for persistence")
	}

	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = s.now()
	}

	data, err := json.Marshal(rec)
	if err != nil {
		return err
	}

	return s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(exchangesBucket).Put([]byte(rec.ID), data)
	})
}

// RecordExchange saves the non-secret parts of res under a new ID.
func (s *State) RecordExchange(res *withings.ExchangeResult) (models.ExchangeRecord, error) {
	now := s.now()

	rec := models.ExchangeRecord{
		ID:        uuid.NewString(),
		Operation: string(res.Operation),
		UserID:    res.UserID,
		Scope:     res.Scope,
		CreatedAt: now,
	}
	if res.ExpiresIn > 0 {
		rec.ExpiresAt = now.Add(time.Duration(res.ExpiresIn) * time.Second)
	}

	if err := s.SaveExchange(rec); err != nil {
		return models.ExchangeRecord{}, fmt.Errorf("recording exchange: %w", err)
	}

	return rec, nil
}

// GetExchange returns an exchange record by ID, or nil if not found.
func (s *State) GetExchange(id string) (*models.ExchangeRecord, error) {
	var rec *models.ExchangeRecord

	err := s.db.View(func(tx *bolt.Tx) error {
		v := tx.Bucket(exchangesBucket).Get([]byte(id))
		if v == nil {
			return nil
		}

		rec = &models.ExchangeRecord{}

		return json.Unmarshal(v, rec)
	})

	return rec, err
}

// AllExchanges returns every exchange record, oldest first.
func (s *State) AllExchanges() ([]models.ExchangeRecord, error) {
	var records []models.ExchangeRecord

	err := s.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket(exchangesBucket).ForEach(func(k, v []byte) error {
			var rec models.ExchangeRecord
			if err := json.Unmarshal(v, &rec); err != nil {
				return err
			}

			records = append(records, rec)

			return nil
		})
	})
	if err != nil {
		return nil, err
	}

	sort.SliceStable(records, func(i, j int) bool {
		return records[i].CreatedAt.Before(records[j].CreatedAt)
	})

	return records, nil
}
