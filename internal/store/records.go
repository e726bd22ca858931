package store

import (
	"time"
)

// CampaignStatus represents the lifecycle status of a campaign record
type CampaignStatus string

const (
	CampaignDraft    CampaignStatus = "draft"
	CampaignPartial  CampaignStatus = "partial"
	CampaignCreated  CampaignStatus = "created"
	CampaignActive   CampaignStatus = "active"
	CampaignArchived CampaignStatus = "archived"
	CampaignFailed   CampaignStatus = "failed"
)

// ScheduleStatus represents the status of an activation job
type ScheduleStatus string

const (
	SchedulePending   ScheduleStatus = "pending"
	ScheduleCompleted ScheduleStatus = "completed"
	ScheduleFailed    ScheduleStatus = "failed"
	ScheduleCancelled ScheduleStatus = "cancelled"
)

// Terminal reports whether no further transitions are allowed
func (s ScheduleStatus) Terminal() bool {
	return s == ScheduleCompleted || s == ScheduleFailed || s == ScheduleCancelled
}

// Account is a client ad account configuration.
// Currency is immutable once the account is created.
type Account struct {
	ID         string    `json:"id"`
	RemoteID   string    `json:"remote_id"`
	ClientName string    `json:"client_name"`
	Currency   string    `json:"currency"`
	PixelID    string    `json:"pixel_id,omitempty"`
	PageID     string    `json:"page_id,omitempty"`
	CatalogID  string    `json:"catalog_id,omitempty"`
	Active     bool      `json:"active"`
	CreatedAt  time.Time `json:"created_at"`
	UpdatedAt  time.Time `json:"updated_at"`
}

// RemoteIDs holds the ids produced by each step of the creation pipeline.
// Each field is empty until its step completes. Once written, an id is
// only ever overwritten by an explicit sync from the remote system.
type RemoteIDs struct {
	AssetID    string `json:"asset_id,omitempty"`
	CreativeID string `json:"creative_id,omitempty"`
	CampaignID string `json:"campaign_id,omitempty"`
	AdGroupID  string `json:"ad_group_id,omitempty"`
	AdID       string `json:"ad_id,omitempty"`
}

// CampaignRecord tracks a campaign created through the pipeline
type CampaignRecord struct {
	ID           string         `json:"id"`
	AccountID    string         `json:"account_id"`
	Name         string         `json:"name"`
	DailyBudget  int64          `json:"daily_budget"` // minor currency units
	Remote       RemoteIDs      `json:"remote_ids"`
	Status       CampaignStatus `json:"status"`
	RemoteStatus string         `json:"remote_status,omitempty"`
	ConfigPath   string         `json:"config_path,omitempty"`
	LastError    string         `json:"last_error,omitempty"`
	CreatedAt    time.Time      `json:"created_at"`
	ActivatedAt  *time.Time     `json:"activated_at,omitempty"`
	UpdatedAt    time.Time      `json:"updated_at"`
	SyncedAt     *time.Time     `json:"synced_at,omitempty"`
}

// ScheduleRecord is one pending or completed activation job
type ScheduleRecord struct {
	JobID        string         `json:"job_id"`
	CampaignID   string         `json:"campaign_id"`
	RemoteID     string         `json:"remote_id"`
	RunAt        time.Time      `json:"run_at"`
	Status       ScheduleStatus `json:"status"`
	CreatedAt    time.Time      `json:"created_at"`
	ExecutedAt   *time.Time     `json:"executed_at,omitempty"`
	CancelledAt  *time.Time     `json:"cancelled_at,omitempty"`
	LastError    string         `json:"last_error,omitempty"`
	SupersededBy string         `json:"superseded_by,omitempty"`
}

// Stats summarizes the store contents
type Stats struct {
	Accounts           int `json:"accounts"`
	Campaigns          int `json:"campaigns"`
	Schedules          int `json:"schedules"`
	PendingSchedules   int `json:"pending_schedules"`
	CompletedSchedules int `json:"completed_schedules"`
	FailedSchedules    int `json:"failed_schedules"`
}
