package models

import "time"

type AssetType string

const (
	AssetTypeImage AssetType = "image"
	AssetTypeVideo AssetType = "video"
)

type AssetStatus string

const (
	AssetStatusQueued     AssetStatus = "queued"
	AssetStatusProcessing AssetStatus = "processing"
	AssetStatusCompleted  AssetStatus = "completed"
	AssetStatusFailed     AssetStatus = "failed"
)

type Quality string

const (
	QualityFast Quality = "fast"
	QualityHigh Quality = "high"
)

// Asset is one generated output. Immutable once completed; the resolved
// URL and thumbnail are derived state owned by the cache, never stored here.
type Asset struct {
	ID         string
	OwnerID    string
	JobID      string
	Type       AssetType
	Status     AssetStatus
	Quality    Quality
	StorageRef string
	ThumbRef   string
	ModelMeta  map[string]any
	Prompt     string
	CreatedAt  time.Time
	UpdatedAt  time.Time
}

// ResolutionState is the per-asset lifecycle of a tile's signed URL.
// Transitions are triggered only by the engine.
type ResolutionState string

const (
	ResolutionPending   ResolutionState = "pending"
	ResolutionResolving ResolutionState = "resolving"
	ResolutionResolved  ResolutionState = "resolved"
	ResolutionFailed    ResolutionState = "failed"
)

// Tile is the render-ready projection of an asset. URL and ThumbnailURL are
// nil until the resolver has produced a signed URL for them; State tells the
// render layer whether to show a placeholder, a spinner or an error
// affordance.
type Tile struct {
	ID           string          `json:"id"`
	Type         AssetType       `json:"type"`
	URL          *string         `json:"url"`
	ThumbnailURL *string         `json:"thumbnailUrl"`
	State        ResolutionState `json:"state"`
	Prompt       string          `json:"prompt"`
	Quality      Quality         `json:"quality"`
	CreatedAt    time.Time       `json:"createdAt"`
}
