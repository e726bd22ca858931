package campaign

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"adpilot/internal/config"
	"adpilot/internal/store"
	"adpilot/internal/upstream"
)

// fakeClient is a scriptable upstream client. Every hook defaults to
// success; tests override individual hooks to inject failures. Safe
// for concurrent use.
type fakeClient struct {
	uploadFn func(accountID, path string) (string, error)
	createFn func(kind upstream.EntityKind, parent string, params upstream.Params) (string, error)
	updateFn func(entityID, status string) error
	fetchFn  func(entityID string, fields []string) (map[string]any, error)

	mu           sync.Mutex
	calls        []string
	createParams map[upstream.EntityKind]upstream.Params
}

func newFakeClient() *fakeClient {
	return &fakeClient{createParams: make(map[upstream.EntityKind]upstream.Params)}
}

func (f *fakeClient) UploadAsset(ctx context.Context, accountID, path string) (string, error) {
	f.mu.Lock()
	f.calls = append(f.calls, "upload")
	f.mu.Unlock()
	if f.uploadFn != nil {
		return f.uploadFn(accountID, path)
	}
	return "vid-1", nil
}

func (f *fakeClient) CreateEntity(ctx context.Context, kind upstream.EntityKind, parent string, params upstream.Params) (string, error) {
	f.mu.Lock()
	f.calls = append(f.calls, "create:"+string(kind))
	f.createParams[kind] = params
	f.mu.Unlock()
	if f.createFn != nil {
		return f.createFn(kind, parent, params)
	}
	switch kind {
	case upstream.KindCreative:
		return "cr-1", nil
	case upstream.KindCampaign:
		return "rc-1", nil
	case upstream.KindAdGroup:
		return "ag-1", nil
	case upstream.KindAd:
		return "ad-1", nil
	}
	return "", fmt.Errorf("unexpected kind %s", kind)
}

func (f *fakeClient) UpdateStatus(ctx context.Context, entityID, status string) error {
	f.mu.Lock()
	f.calls = append(f.calls, "status:"+status)
	f.mu.Unlock()
	if f.updateFn != nil {
		return f.updateFn(entityID, status)
	}
	return nil
}

func (f *fakeClient) FetchEntity(ctx context.Context, entityID string, fields []string) (map[string]any, error) {
	f.mu.Lock()
	f.calls = append(f.calls, "fetch:"+entityID)
	f.mu.Unlock()
	if f.fetchFn != nil {
		return f.fetchFn(entityID, fields)
	}
	if entityID == "vid-1" {
		return map[string]any{"picture": "https://cdn.test/thumb.jpg"}, nil
	}
	return map[string]any{"id": entityID, "status": upstream.StatusActive}, nil
}

type fixture struct {
	orch   *Orchestrator
	client *fakeClient
	store  *store.BoltStore
	spec   *config.CampaignSpec
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	s, err := store.NewBoltStore(filepath.Join(t.TempDir(), "records.db"))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })

	assetPath := filepath.Join(t.TempDir(), "video.mp4")
	require.NoError(t, os.WriteFile(assetPath, []byte("fake video"), 0644))

	require.NoError(t, store.PutAccount(context.Background(), s, &store.Account{
		ID:         "acct-1",
		RemoteID:   "act_900",
		ClientName: "Test Client",
		Currency:   "SGD",
		PixelID:    "px-1",
		PageID:     "pg-1",
		Active:     true,
	}))

	client := newFakeClient()
	loc := time.FixedZone("GMT+08:00", 8*3600)

	return &fixture{
		orch: New(Options{
			Client: client,
			Store:  s,
			Loc:    loc,
		}),
		client: client,
		store:  s,
		spec: &config.CampaignSpec{
			ID:             "camp-1",
			AccountID:      "acct-1",
			Name:           "Summer Sale",
			DailyBudget:    5000,
			Video:          config.VideoSpec{FilePath: assetPath},
			PrimaryText:    "Big savings",
			Headline:       "Summer Sale",
			Description:    "Everything must go",
			CallToAction:   "SHOP_NOW",
			DestinationURL: "https://shop.test/sale",
			GeoCountries:   []string{"SG"},
		},
	}
}

func TestCreateCampaignSuccess(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	record, err := f.orch.CreateCampaign(ctx, f.spec, nil)
	require.NoError(t, err)

	assert.Equal(t, store.CampaignCreated, record.Status)
	assert.Equal(t, upstream.StatusPaused, record.RemoteStatus)
	assert.Equal(t, int64(5000), record.DailyBudget)
	assert.Equal(t, store.RemoteIDs{
		AssetID:    "vid-1",
		CreativeID: "cr-1",
		CampaignID: "rc-1",
		AdGroupID:  "ag-1",
		AdID:       "ad-1",
	}, record.Remote)

	// The persisted record matches what was returned
	saved, err := store.GetCampaign(ctx, f.store, "camp-1")
	require.NoError(t, err)
	assert.Equal(t, record.Remote, saved.Remote)
	assert.Equal(t, store.CampaignCreated, saved.Status)

	// Steps run in order: upload, thumbnail fetch, creative, campaign,
	// ad group, ad.
	assert.Equal(t, []string{
		"upload",
		"fetch:vid-1",
		"create:adcreatives",
		"create:campaigns",
		"create:adgroups",
		"create:ads",
	}, f.client.calls)

	// Everything is created paused
	shell := f.client.createParams[upstream.KindCampaign]
	assert.Equal(t, upstream.StatusPaused, shell["status"])
	assert.Equal(t, "OUTCOME_SALES", shell["objective"])
	assert.Equal(t, int64(5000), shell["daily_budget"])
	assert.Equal(t, upstream.StatusPaused, f.client.createParams[upstream.KindAdGroup]["status"])
	assert.Equal(t, upstream.StatusPaused, f.client.createParams[upstream.KindAd]["status"])
}

func TestCreateCampaignStartTimeFormat(t *testing.T) {
	f := newFixture(t)

	loc := time.FixedZone("GMT+08:00", 8*3600)
	startAt := time.Date(2026, 9, 1, 20, 0, 0, 0, loc)

	_, err := f.orch.CreateCampaign(context.Background(), f.spec, &startAt)
	require.NoError(t, err)

	params := f.client.createParams[upstream.KindAdGroup]
	assert.Equal(t, "2026-09-01T20:00:00+0800", params["start_time"])
}

func TestCreateCampaignNoStartTimeOmitsParam(t *testing.T) {
	f := newFixture(t)

	_, err := f.orch.CreateCampaign(context.Background(), f.spec, nil)
	require.NoError(t, err)

	_, present := f.client.createParams[upstream.KindAdGroup]["start_time"]
	assert.False(t, present)
}

func TestCreateCampaignDuplicateID(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.orch.CreateCampaign(ctx, f.spec, nil)
	require.NoError(t, err)

	callsBefore := len(f.client.calls)
	_, err = f.orch.CreateCampaign(ctx, f.spec, nil)

	var dupErr *DuplicateIDError
	require.ErrorAs(t, err, &dupErr)
	assert.Equal(t, "camp-1", dupErr.ID)

	// The duplicate run must not touch the remote system
	assert.Len(t, f.client.calls, callsBefore)
}

func TestCreateCampaignAccountChecks(t *testing.T) {
	t.Run("missing account", func(t *testing.T) {
		f := newFixture(t)
		f.spec.AccountID = "acct-missing"

		_, err := f.orch.CreateCampaign(context.Background(), f.spec, nil)
		var accErr *AccountError
		require.ErrorAs(t, err, &accErr)
		assert.Empty(t, f.client.calls)
	})

	t.Run("inactive account", func(t *testing.T) {
		f := newFixture(t)
		require.NoError(t, store.PutAccount(context.Background(), f.store, &store.Account{
			ID: "acct-1", RemoteID: "act_900", PixelID: "px-1", PageID: "pg-1", Active: false,
		}))

		_, err := f.orch.CreateCampaign(context.Background(), f.spec, nil)
		var accErr *AccountError
		require.ErrorAs(t, err, &accErr)
		assert.Contains(t, err.Error(), "not active")
	})

	t.Run("no pixel anywhere", func(t *testing.T) {
		f := newFixture(t)
		require.NoError(t, store.PutAccount(context.Background(), f.store, &store.Account{
			ID: "acct-1", RemoteID: "act_900", PageID: "pg-1", Active: true,
		}))

		_, err := f.orch.CreateCampaign(context.Background(), f.spec, nil)
		var accErr *AccountError
		require.ErrorAs(t, err, &accErr)
		assert.Contains(t, err.Error(), "pixel")
	})

	t.Run("spec pixel override fills the gap", func(t *testing.T) {
		f := newFixture(t)
		require.NoError(t, store.PutAccount(context.Background(), f.store, &store.Account{
			ID: "acct-1", RemoteID: "act_900", PageID: "pg-1", Active: true,
		}))
		f.spec.PixelID = "px-override"

		_, err := f.orch.CreateCampaign(context.Background(), f.spec, nil)
		require.NoError(t, err)

		promoted := f.client.createParams[upstream.KindAdGroup]["promoted_object"].(map[string]any)
		assert.Equal(t, "px-override", promoted["pixel_id"])
	})
}

func TestCreateCampaignBadAssetBeforeRemoteCalls(t *testing.T) {
	f := newFixture(t)
	f.spec.Video.FilePath = filepath.Join(t.TempDir(), "missing.mp4")

	_, err := f.orch.CreateCampaign(context.Background(), f.spec, nil)

	var assetErr *AssetError
	require.ErrorAs(t, err, &assetErr)
	assert.Empty(t, f.client.calls)

	// Nothing is recorded for a spec that failed local validation
	_, err = store.GetCampaign(context.Background(), f.store, "camp-1")
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func TestCreateCampaignPartialFailure(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	// Step 4 (ad group) fails after asset, creative and shell succeeded
	f.client.createFn = func(kind upstream.EntityKind, parent string, params upstream.Params) (string, error) {
		switch kind {
		case upstream.KindCreative:
			return "cr-1", nil
		case upstream.KindCampaign:
			return "rc-1", nil
		case upstream.KindAdGroup:
			return "", &upstream.APIError{Message: "targeting invalid", Code: 100}
		}
		return "", fmt.Errorf("unexpected kind %s", kind)
	}

	_, err := f.orch.CreateCampaign(ctx, f.spec, nil)

	var partial *PartialError
	require.ErrorAs(t, err, &partial)
	assert.Equal(t, 4, partial.Step)
	assert.Equal(t, StepCreateAdGroup, partial.StepName)
	assert.Equal(t, "vid-1", partial.IDs.AssetID)
	assert.Equal(t, "cr-1", partial.IDs.CreativeID)
	assert.Equal(t, "rc-1", partial.IDs.CampaignID)
	assert.Empty(t, partial.IDs.AdGroupID)
	assert.Empty(t, partial.IDs.AdID)

	// The error text lists every id created so far
	assert.Contains(t, err.Error(), "vid-1")
	assert.Contains(t, err.Error(), "cr-1")
	assert.Contains(t, err.Error(), "rc-1")

	// The partial record is durably saved with the cause
	saved, err := store.GetCampaign(ctx, f.store, "camp-1")
	require.NoError(t, err)
	assert.Equal(t, store.CampaignPartial, saved.Status)
	assert.Equal(t, partial.IDs, saved.Remote)
	assert.Contains(t, saved.LastError, "targeting invalid")
}

func TestCreateCampaignFirstStepFailure(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	f.client.uploadFn = func(accountID, path string) (string, error) {
		return "", &upstream.APIError{Message: "upload rejected"}
	}

	_, err := f.orch.CreateCampaign(ctx, f.spec, nil)

	var partial *PartialError
	require.ErrorAs(t, err, &partial)
	assert.Equal(t, 1, partial.Step)
	assert.Equal(t, store.RemoteIDs{}, partial.IDs)

	saved, err := store.GetCampaign(ctx, f.store, "camp-1")
	require.NoError(t, err)
	assert.Equal(t, store.CampaignPartial, saved.Status)
}

func TestCreateCampaignMissingThumbnail(t *testing.T) {
	f := newFixture(t)

	f.client.fetchFn = func(entityID string, fields []string) (map[string]any, error) {
		return map[string]any{}, nil
	}

	_, err := f.orch.CreateCampaign(context.Background(), f.spec, nil)

	var partial *PartialError
	require.ErrorAs(t, err, &partial)
	assert.Equal(t, 2, partial.Step)
	assert.Contains(t, err.Error(), "thumbnail")
}

func TestActivateCampaign(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.orch.CreateCampaign(ctx, f.spec, nil)
	require.NoError(t, err)

	record, err := f.orch.ActivateCampaign(ctx, "camp-1")
	require.NoError(t, err)

	assert.Equal(t, store.CampaignActive, record.Status)
	assert.Equal(t, upstream.StatusActive, record.RemoteStatus)
	require.NotNil(t, record.ActivatedAt)
	require.NotNil(t, record.SyncedAt)

	// The update is confirmed with a fetch before the record changes
	assert.Contains(t, f.client.calls, "status:ACTIVE")
	assert.Contains(t, f.client.calls, "fetch:rc-1")
}

func TestActivateCampaignConfirmMismatch(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.orch.CreateCampaign(ctx, f.spec, nil)
	require.NoError(t, err)

	f.client.fetchFn = func(entityID string, fields []string) (map[string]any, error) {
		return map[string]any{"id": entityID, "status": upstream.StatusPaused}, nil
	}

	_, err = f.orch.ActivateCampaign(ctx, "camp-1")

	var mismatch *StatusMismatchError
	require.ErrorAs(t, err, &mismatch)
	assert.Equal(t, upstream.StatusActive, mismatch.Expected)
	assert.Equal(t, upstream.StatusPaused, mismatch.Actual)

	// The local record keeps its prior status
	saved, err := store.GetCampaign(ctx, f.store, "camp-1")
	require.NoError(t, err)
	assert.Equal(t, store.CampaignCreated, saved.Status)
	assert.Nil(t, saved.ActivatedAt)
}

func TestActivateCampaignWrongState(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	require.NoError(t, store.PutCampaign(ctx, f.store, &store.CampaignRecord{
		ID:     "camp-draft",
		Status: store.CampaignDraft,
	}))

	_, err := f.orch.ActivateCampaign(ctx, "camp-draft")
	var stateErr *StateError
	require.ErrorAs(t, err, &stateErr)
	assert.Empty(t, f.client.calls)
}

func TestActivateCampaignPartialWithAdGroup(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	// A partial that got through step 4 has a complete remote hierarchy
	// minus the ad; activation is allowed.
	require.NoError(t, store.PutCampaign(ctx, f.store, &store.CampaignRecord{
		ID:     "camp-partial",
		Status: store.CampaignPartial,
		Remote: store.RemoteIDs{
			AssetID:    "vid-1",
			CreativeID: "cr-1",
			CampaignID: "rc-1",
			AdGroupID:  "ag-1",
		},
	}))

	record, err := f.orch.ActivateCampaign(ctx, "camp-partial")
	require.NoError(t, err)
	assert.Equal(t, store.CampaignActive, record.Status)
}

func TestActivateCampaignPartialWithoutAdGroup(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	require.NoError(t, store.PutCampaign(ctx, f.store, &store.CampaignRecord{
		ID:     "camp-partial",
		Status: store.CampaignPartial,
		Remote: store.RemoteIDs{AssetID: "vid-1", CampaignID: "rc-1"},
	}))

	_, err := f.orch.ActivateCampaign(ctx, "camp-partial")
	var stateErr *StateError
	require.ErrorAs(t, err, &stateErr)
}

func TestActivateCampaignNotFound(t *testing.T) {
	f := newFixture(t)

	_, err := f.orch.ActivateCampaign(context.Background(), "missing")
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func TestSyncCampaign(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	created, err := f.orch.CreateCampaign(ctx, f.spec, nil)
	require.NoError(t, err)

	// The remote side was renamed, activated and re-budgeted out of band
	f.client.fetchFn = func(entityID string, fields []string) (map[string]any, error) {
		return map[string]any{
			"id":           entityID,
			"name":         "Summer Sale V2",
			"status":       upstream.StatusActive,
			"daily_budget": "7500",
		}, nil
	}

	changed, record, err := f.orch.SyncCampaign(ctx, "camp-1")
	require.NoError(t, err)

	assert.Equal(t, "Summer Sale V2", record.Name)
	assert.Equal(t, store.CampaignActive, record.Status)
	assert.Equal(t, int64(7500), record.DailyBudget)
	require.NotNil(t, record.SyncedAt)

	assert.Equal(t, "Summer Sale V2", changed["name"])
	assert.Equal(t, upstream.StatusActive, changed["remote_status"])
	assert.Equal(t, int64(7500), changed["daily_budget"])

	saved, err := store.GetCampaign(ctx, f.store, "camp-1")
	require.NoError(t, err)
	assert.Equal(t, "Summer Sale V2", saved.Name)

	// Remote ids written during creation are never overwritten by a sync
	assert.Equal(t, created.Remote, saved.Remote)
}

func TestConcurrentActivateAndSync(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	created, err := f.orch.CreateCampaign(ctx, f.spec, nil)
	require.NoError(t, err)

	// Interleave activations and syncs on the same id. The per-id lock
	// serializes them; an activation that finds the record already
	// active is the only acceptable error.
	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(2)
		go func() {
			defer wg.Done()
			if _, err := f.orch.ActivateCampaign(ctx, "camp-1"); err != nil {
				var stateErr *StateError
				assert.True(t, errors.As(err, &stateErr), "unexpected activate error: %v", err)
			}
		}()
		go func() {
			defer wg.Done()
			_, _, err := f.orch.SyncCampaign(ctx, "camp-1")
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	saved, err := store.GetCampaign(ctx, f.store, "camp-1")
	require.NoError(t, err)
	assert.Equal(t, created.Remote, saved.Remote)
	assert.Equal(t, store.CampaignActive, saved.Status)
	assert.Equal(t, upstream.StatusActive, saved.RemoteStatus)
	assert.Empty(t, saved.LastError)
}

func TestCampaignTimestampsUseInjectedClock(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	fixed := time.Date(2026, 9, 1, 12, 0, 0, 0, time.UTC)
	orch := New(Options{
		Client: f.client,
		Store:  f.store,
		Loc:    time.FixedZone("GMT+08:00", 8*3600),
		Now:    func() time.Time { return fixed },
	})

	_, err := orch.CreateCampaign(ctx, f.spec, nil)
	require.NoError(t, err)

	saved, err := store.GetCampaign(ctx, f.store, "camp-1")
	require.NoError(t, err)
	assert.True(t, saved.CreatedAt.Equal(fixed), "created_at %s", saved.CreatedAt)
	assert.True(t, saved.UpdatedAt.Equal(fixed), "updated_at %s", saved.UpdatedAt)
}

func TestSyncCampaignIdempotent(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.orch.CreateCampaign(ctx, f.spec, nil)
	require.NoError(t, err)

	f.client.fetchFn = func(entityID string, fields []string) (map[string]any, error) {
		return map[string]any{
			"id":           entityID,
			"name":         "Summer Sale",
			"status":       upstream.StatusPaused,
			"daily_budget": float64(5000),
		}, nil
	}

	changed, _, err := f.orch.SyncCampaign(ctx, "camp-1")
	require.NoError(t, err)
	assert.Empty(t, changed)
}

func TestSyncCampaignPausedRemotely(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.orch.CreateCampaign(ctx, f.spec, nil)
	require.NoError(t, err)
	_, err = f.orch.ActivateCampaign(ctx, "camp-1")
	require.NoError(t, err)

	f.client.fetchFn = func(entityID string, fields []string) (map[string]any, error) {
		return map[string]any{"id": entityID, "status": upstream.StatusPaused}, nil
	}

	_, record, err := f.orch.SyncCampaign(ctx, "camp-1")
	require.NoError(t, err)

	// A remote pause rolls an active campaign back to created
	assert.Equal(t, store.CampaignCreated, record.Status)
	assert.Equal(t, upstream.StatusPaused, record.RemoteStatus)
}

func TestSyncCampaignNoRemoteID(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	require.NoError(t, store.PutCampaign(ctx, f.store, &store.CampaignRecord{
		ID:     "camp-local",
		Status: store.CampaignPartial,
	}))

	_, _, err := f.orch.SyncCampaign(ctx, "camp-local")
	var stateErr *StateError
	require.ErrorAs(t, err, &stateErr)
}

func TestValidateAsset(t *testing.T) {
	dir := t.TempDir()

	good := filepath.Join(dir, "video.mp4")
	require.NoError(t, os.WriteFile(good, []byte("bytes"), 0644))
	assert.NoError(t, ValidateAsset(good))

	mov := filepath.Join(dir, "video.MOV")
	require.NoError(t, os.WriteFile(mov, []byte("bytes"), 0644))
	assert.NoError(t, ValidateAsset(mov))

	tests := []struct {
		name string
		path string
		prep func(path string) error
	}{
		{"missing file", filepath.Join(dir, "missing.mp4"), nil},
		{"directory", dir, nil},
		{"bad extension", filepath.Join(dir, "video.avi"), func(p string) error {
			return os.WriteFile(p, []byte("bytes"), 0644)
		}},
		{"empty file", filepath.Join(dir, "empty.mp4"), func(p string) error {
			return os.WriteFile(p, nil, 0644)
		}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if tt.prep != nil {
				require.NoError(t, tt.prep(tt.path))
			}
			err := ValidateAsset(tt.path)
			var assetErr *AssetError
			assert.True(t, errors.As(err, &assetErr), "expected AssetError, got %v", err)
		})
	}
}
