package store

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"
)

// Collection names used by the service
const (
	CollectionAccounts  = "accounts"
	CollectionCampaigns = "campaigns"
	CollectionSchedules = "schedules"
)

// ErrNotFound is returned when a key does not exist in a collection
var ErrNotFound = errors.New("record not found")

// StorageError wraps a failed durable-write or read
type StorageError struct {
	Op  string
	Err error
}

func (e *StorageError) Error() string {
	return fmt.Sprintf("storage %s: %v", e.Op, e.Err)
}

func (e *StorageError) Unwrap() error { return e.Err }

// Store is durable key-value persistence for campaign, account and
// schedule records. Every Put is all-or-nothing: a torn write is never
// visible to concurrent readers.
type Store interface {
	// Get unmarshals the value at collection/key into out.
	// Returns ErrNotFound if the key does not exist.
	Get(ctx context.Context, collection, key string, out any) error

	// Put atomically replaces the value at collection/key
	Put(ctx context.Context, collection, key string, v any) error

	// Delete removes a key. Deleting a missing key is not an error.
	Delete(ctx context.Context, collection, key string) error

	// ListKeys returns all keys in a collection in lexical order
	ListKeys(ctx context.Context, collection string) ([]string, error)

	// Close releases the underlying storage
	Close() error
}

// GetAccount loads an account record
func GetAccount(ctx context.Context, s Store, id string) (*Account, error) {
	var a Account
	if err := s.Get(ctx, CollectionAccounts, id, &a); err != nil {
		return nil, err
	}
	return &a, nil
}

// PutAccount writes an account record
func PutAccount(ctx context.Context, s Store, a *Account) error {
	return s.Put(ctx, CollectionAccounts, a.ID, a)
}

// ListAccounts returns all account records ordered by id
func ListAccounts(ctx context.Context, s Store) ([]*Account, error) {
	keys, err := s.ListKeys(ctx, CollectionAccounts)
	if err != nil {
		return nil, err
	}
	records := make([]*Account, 0, len(keys))
	for _, key := range keys {
		a, err := GetAccount(ctx, s, key)
		if err != nil {
			if errors.Is(err, ErrNotFound) {
				continue
			}
			return nil, err
		}
		records = append(records, a)
	}
	return records, nil
}

// GetCampaign loads a campaign record
func GetCampaign(ctx context.Context, s Store, id string) (*CampaignRecord, error) {
	var c CampaignRecord
	if err := s.Get(ctx, CollectionCampaigns, id, &c); err != nil {
		return nil, err
	}
	return &c, nil
}

// PutCampaign writes a campaign record. Callers stamp UpdatedAt with
// their own clock.
func PutCampaign(ctx context.Context, s Store, c *CampaignRecord) error {
	return s.Put(ctx, CollectionCampaigns, c.ID, c)
}

// ListCampaigns returns all campaign records ordered by id
func ListCampaigns(ctx context.Context, s Store) ([]*CampaignRecord, error) {
	keys, err := s.ListKeys(ctx, CollectionCampaigns)
	if err != nil {
		return nil, err
	}
	records := make([]*CampaignRecord, 0, len(keys))
	for _, key := range keys {
		c, err := GetCampaign(ctx, s, key)
		if err != nil {
			if errors.Is(err, ErrNotFound) {
				continue
			}
			return nil, err
		}
		records = append(records, c)
	}
	return records, nil
}

// GetSchedule loads a schedule record
func GetSchedule(ctx context.Context, s Store, jobID string) (*ScheduleRecord, error) {
	var r ScheduleRecord
	if err := s.Get(ctx, CollectionSchedules, jobID, &r); err != nil {
		return nil, err
	}
	return &r, nil
}

// PutSchedule writes a schedule record
func PutSchedule(ctx context.Context, s Store, r *ScheduleRecord) error {
	return s.Put(ctx, CollectionSchedules, r.JobID, r)
}

// ListSchedules returns all schedule records ordered by scheduled instant
func ListSchedules(ctx context.Context, s Store) ([]*ScheduleRecord, error) {
	keys, err := s.ListKeys(ctx, CollectionSchedules)
	if err != nil {
		return nil, err
	}
	records := make([]*ScheduleRecord, 0, len(keys))
	for _, key := range keys {
		r, err := GetSchedule(ctx, s, key)
		if err != nil {
			if errors.Is(err, ErrNotFound) {
				continue
			}
			return nil, err
		}
		records = append(records, r)
	}
	sort.Slice(records, func(i, j int) bool {
		return records[i].RunAt.Before(records[j].RunAt)
	})
	return records, nil
}

// PendingScheduleForCampaign finds the pending job for a campaign, if any.
// At most one pending job exists per campaign at a time.
func PendingScheduleForCampaign(ctx context.Context, s Store, campaignID string) (*ScheduleRecord, error) {
	records, err := ListSchedules(ctx, s)
	if err != nil {
		return nil, err
	}
	for _, r := range records {
		if r.CampaignID == campaignID && r.Status == SchedulePending {
			return r, nil
		}
	}
	return nil, nil
}

// DueSchedules returns pending jobs whose instant is at or before now
func DueSchedules(ctx context.Context, s Store, now time.Time) ([]*ScheduleRecord, error) {
	records, err := ListSchedules(ctx, s)
	if err != nil {
		return nil, err
	}
	var due []*ScheduleRecord
	for _, r := range records {
		if r.Status == SchedulePending && !r.RunAt.After(now) {
			due = append(due, r)
		}
	}
	return due, nil
}

// CollectStats counts records across all collections
func CollectStats(ctx context.Context, s Store) (*Stats, error) {
	stats := &Stats{}

	accounts, err := s.ListKeys(ctx, CollectionAccounts)
	if err != nil {
		return nil, err
	}
	stats.Accounts = len(accounts)

	campaigns, err := s.ListKeys(ctx, CollectionCampaigns)
	if err != nil {
		return nil, err
	}
	stats.Campaigns = len(campaigns)

	schedules, err := ListSchedules(ctx, s)
	if err != nil {
		return nil, err
	}
	stats.Schedules = len(schedules)
	for _, r := range schedules {
		switch r.Status {
		case SchedulePending:
			stats.PendingSchedules++
		case ScheduleCompleted:
			stats.CompletedSchedules++
		case ScheduleFailed:
			stats.FailedSchedules++
		}
	}

	return stats, nil
}
