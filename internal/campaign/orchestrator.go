package campaign

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"adpilot/internal/config"
	"adpilot/internal/metrics"
	"adpilot/internal/store"
	"adpilot/internal/upstream"
)

// Remote field names synced from the marketing API
var syncFields = []string{"id", "name", "status", "daily_budget", "updated_time"}

// Orchestrator turns a validated campaign spec into a fully realized
// remote campaign hierarchy, or fails with enough information to resume
// or clean up. It owns no state beyond per-id locks; every record is
// re-read from the store at operation start.
type Orchestrator struct {
	client  upstream.Client
	store   store.Store
	loc     *time.Location
	logger  *slog.Logger
	metrics *metrics.Metrics
	locks   *keyedLocks
	now     func() time.Time
}

// Options configures an Orchestrator
type Options struct {
	Client  upstream.Client
	Store   store.Store
	Loc     *time.Location
	Logger  *slog.Logger
	Metrics *metrics.Metrics
	Now     func() time.Time
}

// New creates an Orchestrator
func New(opts Options) *Orchestrator {
	if opts.Loc == nil {
		opts.Loc = time.UTC
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &Orchestrator{
		client:  opts.Client,
		store:   opts.Store,
		loc:     opts.Loc,
		logger:  opts.Logger,
		metrics: opts.Metrics,
		locks:   newKeyedLocks(),
		now:     opts.Now,
	}
}

// CreateCampaign runs the six-step creation pipeline. startAt, when set,
// becomes the ad-group's remote-native scheduled start. On a step failure
// the partial record is durably saved before the error propagates.
func (o *Orchestrator) CreateCampaign(ctx context.Context, spec *config.CampaignSpec, startAt *time.Time) (*store.CampaignRecord, error) {
	release := o.locks.acquire(spec.ID)
	defer release()

	// Duplicate check first: re-running with an already-used id must be
	// rejected before any remote call.
	_, err := store.GetCampaign(ctx, o.store, spec.ID)
	if err == nil {
		return nil, &DuplicateIDError{ID: spec.ID}
	}
	if !errors.Is(err, store.ErrNotFound) {
		return nil, err
	}

	account, err := store.GetAccount(ctx, o.store, spec.AccountID)
	if errors.Is(err, store.ErrNotFound) {
		return nil, &AccountError{ID: spec.AccountID, Reason: "not found"}
	}
	if err != nil {
		return nil, err
	}
	if !account.Active {
		return nil, &AccountError{ID: spec.AccountID, Reason: "not active"}
	}

	pixelID := spec.PixelID
	if pixelID == "" {
		pixelID = account.PixelID
	}
	pageID := spec.PageID
	if pageID == "" {
		pageID = account.PageID
	}
	if pixelID == "" {
		return nil, &AccountError{ID: spec.AccountID, Reason: "no tracking pixel configured and none supplied in spec"}
	}
	if pageID == "" {
		return nil, &AccountError{ID: spec.AccountID, Reason: "no page configured and none supplied in spec"}
	}

	if err := ValidateAsset(spec.Video.FilePath); err != nil {
		return nil, err
	}

	logger := o.logger.With("campaign_id", spec.ID, "account_id", account.RemoteID)
	logger.Info("starting campaign creation", "name", spec.Name)

	record := &store.CampaignRecord{
		ID:          spec.ID,
		AccountID:   spec.AccountID,
		Name:        spec.Name,
		DailyBudget: spec.DailyBudget,
		Status:      store.CampaignDraft,
		ConfigPath:  spec.Source,
		CreatedAt:   o.now().UTC(),
	}

	fail := func(step int, err error) error {
		return o.failPartial(ctx, logger, record, step, err)
	}

	// Step 1: upload the creative asset
	logger.Info("step 1/6: uploading asset", "path", spec.Video.FilePath)
	assetID, err := o.client.UploadAsset(ctx, account.RemoteID, spec.Video.FilePath)
	if err != nil {
		return record, fail(1, err)
	}
	record.Remote.AssetID = assetID

	// Step 2: create the ad creative referencing the asset
	logger.Info("step 2/6: creating creative", "asset_id", assetID)
	creativeID, err := o.createCreative(ctx, spec, account.RemoteID, pageID, assetID)
	if err != nil {
		return record, fail(2, err)
	}
	record.Remote.CreativeID = creativeID

	// Step 3: create the campaign shell, paused
	logger.Info("step 3/6: creating campaign shell")
	remoteCampaignID, err := o.client.CreateEntity(ctx, upstream.KindCampaign, account.RemoteID, upstream.Params{
		"name":                  spec.Name,
		"objective":             "OUTCOME_SALES",
		"status":                upstream.StatusPaused,
		"special_ad_categories": []string{},
		"daily_budget":          spec.DailyBudget,
		"bid_strategy":          "LOWEST_COST_WITHOUT_CAP",
		"buying_type":           "AUCTION",
	})
	if err != nil {
		return record, fail(3, err)
	}
	record.Remote.CampaignID = remoteCampaignID

	// Step 4: create the ad-group under the campaign
	logger.Info("step 4/6: creating ad group", "remote_campaign_id", remoteCampaignID)
	adGroupID, err := o.createAdGroup(ctx, spec, account.RemoteID, remoteCampaignID, pixelID, startAt)
	if err != nil {
		return record, fail(4, err)
	}
	record.Remote.AdGroupID = adGroupID

	// Step 5: create the ad linking creative and ad-group, paused
	logger.Info("step 5/6: creating ad", "ad_group_id", adGroupID)
	adID, err := o.client.CreateEntity(ctx, upstream.KindAd, account.RemoteID, upstream.Params{
		"name":        spec.Name + " - Ad",
		"ad_group_id": adGroupID,
		"creative":    map[string]string{"creative_id": creativeID},
		"status":      upstream.StatusPaused,
	})
	if err != nil {
		return record, fail(5, err)
	}
	record.Remote.AdID = adID

	// Step 6: persist the complete record. Only storage I/O can fail
	// here, and that failure is surfaced distinctly from steps 1-5.
	logger.Info("step 6/6: persisting record")
	record.Status = store.CampaignCreated
	record.RemoteStatus = upstream.StatusPaused
	if err := o.putCampaign(ctx, record); err != nil {
		return record, fmt.Errorf("campaign created remotely but record not persisted (ids: %s): %w",
			formatIDs(record.Remote), err)
	}

	if o.metrics != nil {
		o.metrics.CampaignCreated()
	}
	logger.Info("campaign created",
		"remote_campaign_id", record.Remote.CampaignID,
		"ad_group_id", record.Remote.AdGroupID,
		"ad_id", record.Remote.AdID,
	)
	return record, nil
}

// putCampaign stamps UpdatedAt from the orchestrator clock and writes
// the record.
func (o *Orchestrator) putCampaign(ctx context.Context, record *store.CampaignRecord) error {
	record.UpdatedAt = o.now().UTC()
	return store.PutCampaign(ctx, o.store, record)
}

// failPartial durably saves the partial record, then wraps the step error.
// Ids of resources already created remotely are never discarded.
func (o *Orchestrator) failPartial(ctx context.Context, logger *slog.Logger, record *store.CampaignRecord, step int, cause error) error {
	stepName := stepNames[step-1]
	logger.Error("campaign creation step failed",
		"step", step,
		"step_name", stepName,
		"error", cause,
		"created_ids", formatIDs(record.Remote),
	)
	if o.metrics != nil {
		o.metrics.StepFailed(stepName)
	}

	record.Status = store.CampaignPartial
	record.LastError = cause.Error()
	perr := &PartialError{Step: step, StepName: stepName, IDs: record.Remote, Err: cause}

	if err := o.putCampaign(ctx, record); err != nil {
		logger.Error("failed to persist partial record", "error", err)
		return fmt.Errorf("%w (partial record also failed to persist: %v)", perr, err)
	}
	return perr
}

func (o *Orchestrator) createCreative(ctx context.Context, spec *config.CampaignSpec, accountID, pageID, assetID string) (string, error) {
	// Thumbnail fetch is a read, so it runs under the client retry policy
	asset, err := o.client.FetchEntity(ctx, assetID, []string{"picture"})
	if err != nil {
		return "", fmt.Errorf("fetch asset thumbnail: %w", err)
	}
	thumbnail, _ := asset["picture"].(string)
	if thumbnail == "" {
		return "", &upstream.APIError{Message: fmt.Sprintf("no thumbnail for asset %s", assetID)}
	}

	return o.client.CreateEntity(ctx, upstream.KindCreative, accountID, upstream.Params{
		"name": "Video Creative - " + spec.Headline,
		"object_story_spec": map[string]any{
			"page_id": pageID,
			"video_data": map[string]any{
				"video_id":         assetID,
				"image_url":        thumbnail,
				"message":          spec.PrimaryText,
				"title":            spec.Headline,
				"link_description": spec.Description,
				"call_to_action": map[string]any{
					"type":  spec.CallToAction,
					"value": map[string]string{"link": spec.FinalDestinationURL()},
				},
			},
		},
	})
}

func (o *Orchestrator) createAdGroup(ctx context.Context, spec *config.CampaignSpec, accountID, remoteCampaignID, pixelID string, startAt *time.Time) (string, error) {
	params := upstream.Params{
		"name":              spec.Name + " - Ad Group",
		"campaign_id":       remoteCampaignID,
		"optimization_goal": "OFFSITE_CONVERSIONS",
		"billing_event":     "IMPRESSIONS",
		"promoted_object": map[string]any{
			"pixel_id":          pixelID,
			"custom_event_type": "PURCHASE",
		},
		// Budget lives on the campaign shell; the ad-group inherits it
		"targeting": map[string]any{
			"age_min":       18,
			"age_max":       65,
			"geo_locations": map[string]any{"countries": spec.GeoCountries},
			"targeting_automation": map[string]any{
				"advantage_audience": 1,
			},
		},
		"automatic_placements": true,
		"bid_strategy":         "LOWEST_COST_WITHOUT_CAP",
		"status":               upstream.StatusPaused,
	}

	if startAt != nil {
		// Always an explicit fixed-offset suffix, never a bare local time
		params["start_time"] = startAt.In(o.loc).Format("2006-01-02T15:04:05-0700")
	}

	return o.client.CreateEntity(ctx, upstream.KindAdGroup, accountID, params)
}

// ActivateCampaign flips the remote campaign from paused to active, then
// confirms the change with a synchronous fetch before touching the local
// status.
func (o *Orchestrator) ActivateCampaign(ctx context.Context, id string) (*store.CampaignRecord, error) {
	release := o.locks.acquire(id)
	defer release()

	record, err := store.GetCampaign(ctx, o.store, id)
	if err != nil {
		return nil, err
	}

	activatable := record.Status == store.CampaignCreated ||
		(record.Status == store.CampaignPartial && record.Remote.AdGroupID != "")
	if !activatable {
		return nil, &StateError{ID: id, Status: record.Status, Op: "activate"}
	}
	if record.Remote.CampaignID == "" {
		return nil, &StateError{ID: id, Status: record.Status, Op: "activate"}
	}

	logger := o.logger.With("campaign_id", id, "remote_campaign_id", record.Remote.CampaignID)
	logger.Info("activating campaign")

	if err := o.client.UpdateStatus(ctx, record.Remote.CampaignID, upstream.StatusActive); err != nil {
		if o.metrics != nil {
			o.metrics.Activation("error")
		}
		return nil, err
	}

	// Confirm before committing: the record is never marked active
	// on the strength of the update call alone.
	data, err := o.client.FetchEntity(ctx, record.Remote.CampaignID, syncFields)
	if err != nil {
		if o.metrics != nil {
			o.metrics.Activation("error")
		}
		return nil, fmt.Errorf("activation confirm fetch: %w", err)
	}
	remoteStatus, _ := data["status"].(string)
	if remoteStatus != upstream.StatusActive {
		if o.metrics != nil {
			o.metrics.Activation("mismatch")
		}
		return nil, &StatusMismatchError{
			EntityID: record.Remote.CampaignID,
			Expected: upstream.StatusActive,
			Actual:   remoteStatus,
		}
	}

	now := o.now().UTC()
	record.Status = store.CampaignActive
	record.RemoteStatus = remoteStatus
	record.ActivatedAt = &now
	record.SyncedAt = &now
	record.LastError = ""
	if err := o.putCampaign(ctx, record); err != nil {
		return nil, err
	}

	if o.metrics != nil {
		o.metrics.Activation("ok")
	}
	logger.Info("campaign activated")
	return record, nil
}

// SyncCampaign fetches the remote status, name and budget and overwrites
// the local copy unconditionally. The remote system is authoritative:
// there is no merge and no conflict detection. Returns the fields that
// changed.
func (o *Orchestrator) SyncCampaign(ctx context.Context, id string) (map[string]any, *store.CampaignRecord, error) {
	release := o.locks.acquire(id)
	defer release()

	record, err := store.GetCampaign(ctx, o.store, id)
	if err != nil {
		return nil, nil, err
	}
	if record.Remote.CampaignID == "" {
		return nil, nil, &StateError{ID: id, Status: record.Status, Op: "sync"}
	}

	data, err := o.client.FetchEntity(ctx, record.Remote.CampaignID, syncFields)
	if err != nil {
		return nil, nil, err
	}

	changed := make(map[string]any)

	if name, ok := data["name"].(string); ok && name != record.Name {
		record.Name = name
		changed["name"] = name
	}
	if remoteStatus, ok := data["status"].(string); ok {
		if remoteStatus != record.RemoteStatus {
			changed["remote_status"] = remoteStatus
		}
		record.RemoteStatus = remoteStatus
		if mapped := mapRemoteStatus(remoteStatus, record.Status); mapped != record.Status {
			record.Status = mapped
			changed["status"] = mapped
		}
	}
	if budget, ok := asInt64(data["daily_budget"]); ok && budget != record.DailyBudget {
		record.DailyBudget = budget
		changed["daily_budget"] = budget
	}

	now := o.now().UTC()
	record.SyncedAt = &now
	if err := o.putCampaign(ctx, record); err != nil {
		return nil, nil, err
	}

	o.logger.Info("campaign synced", "campaign_id", id, "changed", len(changed))
	return changed, record, nil
}

// mapRemoteStatus folds the remote lifecycle state into the local one
func mapRemoteStatus(remote string, current store.CampaignStatus) store.CampaignStatus {
	switch remote {
	case upstream.StatusActive:
		return store.CampaignActive
	case upstream.StatusArchived:
		return store.CampaignArchived
	case upstream.StatusPaused:
		if current == store.CampaignActive {
			return store.CampaignCreated
		}
	}
	return current
}

func asInt64(v any) (int64, bool) {
	switch n := v.(type) {
	case float64:
		return int64(n), true
	case int64:
		return n, true
	case string:
		var out int64
		if _, err := fmt.Sscanf(n, "%d", &out); err == nil {
			return out, true
		}
	}
	return 0, false
}
