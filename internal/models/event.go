package models

type EventType string

const (
	EventTypeInsert EventType = "insert"
	EventTypeUpdate EventType = "update"
	EventTypeDelete EventType = "delete"
)

// AssetEvent is the push-notification payload emitted by the generation job
// backend whenever a job or asset record transitions.
type AssetEvent struct {
	EventType           EventType      `json:"eventType"`
	AssetID             string         `json:"assetId"`
	JobID               string         `json:"jobId"`
	OwnerID             string         `json:"ownerId"`
	Status              AssetStatus    `json:"status"`
	AssetType           AssetType      `json:"assetType"`
	Quality             Quality        `json:"quality"`
	DeclaredOutputCount int            `json:"declaredOutputCount"`
	StorageRef          string         `json:"storageRef"`
	ThumbRef            string         `json:"thumbRef"`
	ModelMeta           map[string]any `json:"modelMeta"`
	Prompt              string         `json:"prompt"`
}

// Asset builds the asset record implied by a completion event.
func (e AssetEvent) Asset() Asset {
	return Asset{
		ID:         e.AssetID,
		OwnerID:    e.OwnerID,
		JobID:      e.JobID,
		Type:       e.AssetType,
		Status:     e.Status,
		Quality:    e.Quality,
		StorageRef: e.StorageRef,
		ThumbRef:   e.ThumbRef,
		ModelMeta:  e.ModelMeta,
		Prompt:     e.Prompt,
	}
}
