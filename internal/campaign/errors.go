package campaign

import (
	"fmt"
	"strings"

	"adpilot/internal/store"
)

// Pipeline step names, in execution order
const (
	StepUploadAsset    = "upload_asset"
	StepCreateCreative = "create_creative"
	StepCreateCampaign = "create_campaign"
	StepCreateAdGroup  = "create_ad_group"
	StepCreateAd       = "create_ad"
	StepPersist        = "persist"
)

var stepNames = []string{
	StepUploadAsset,
	StepCreateCreative,
	StepCreateCampaign,
	StepCreateAdGroup,
	StepCreateAd,
}

// DuplicateIDError signals that the internal campaign id is already in use.
// The duplicate check runs before any remote call.
type DuplicateIDError struct {
	ID string
}

func (e *DuplicateIDError) Error() string {
	return fmt.Sprintf("campaign id %q already exists", e.ID)
}

// AccountError signals a problem with the referenced account
type AccountError struct {
	ID     string
	Reason string
}

func (e *AccountError) Error() string {
	return fmt.Sprintf("account %q: %s", e.ID, e.Reason)
}

// AssetError signals an invalid creative asset, detected locally before
// any remote mutation is attempted
type AssetError struct {
	Path   string
	Reason string
}

func (e *AssetError) Error() string {
	return fmt.Sprintf("invalid asset %s: %s", e.Path, e.Reason)
}

// StateError signals an operation applied to a record in the wrong status
type StateError struct {
	ID     string
	Status store.CampaignStatus
	Op     string
}

func (e *StateError) Error() string {
	return fmt.Sprintf("cannot %s campaign %q in status %q", e.Op, e.ID, e.Status)
}

// StatusMismatchError signals that the remote system reported a different
// status than the one just requested. The local record keeps its prior
// status; nothing is marked active optimistically.
type StatusMismatchError struct {
	EntityID string
	Expected string
	Actual   string
}

func (e *StatusMismatchError) Error() string {
	return fmt.Sprintf("remote entity %s reports status %q, expected %q", e.EntityID, e.Actual, e.Expected)
}

// PartialError signals that steps 1..Step-1 of the creation pipeline
// succeeded and step Step failed. The partial record is already durably
// saved; IDs lists every remote resource created so far so a human can
// reconcile state without guessing.
type PartialError struct {
	Step     int
	StepName string
	IDs      store.RemoteIDs
	Err      error
}

func (e *PartialError) Error() string {
	return fmt.Sprintf("campaign creation failed at step %d (%s): %v; created so far: %s",
		e.Step, e.StepName, e.Err, formatIDs(e.IDs))
}

func (e *PartialError) Unwrap() error { return e.Err }

func formatIDs(ids store.RemoteIDs) string {
	var parts []string
	if ids.AssetID != "" {
		parts = append(parts, "asset="+ids.AssetID)
	}
	if ids.CreativeID != "" {
		parts = append(parts, "creative="+ids.CreativeID)
	}
	if ids.CampaignID != "" {
		parts = append(parts, "campaign="+ids.CampaignID)
	}
	if ids.AdGroupID != "" {
		parts = append(parts, "ad_group="+ids.AdGroupID)
	}
	if ids.AdID != "" {
		parts = append(parts, "ad="+ids.AdID)
	}
	if len(parts) == 0 {
		return "none"
	}
	return strings.Join(parts, ", ")
}
