package bucket

import (
	"strings"

	"genboard/engine/internal/models"
)

// Infer maps an asset's metadata to the storage bucket holding its blob.
// Deterministic and side-effect free; re-evaluated on every resolution.
// Priority order, first match wins:
//  1. explicit metadata.bucket
//  2. video assets by quality
//  3. enhanced image models
//  4. sdxl image models
//  5. default image bucket by quality
func Infer(meta map[string]any, assetType models.AssetType, quality models.Quality) string {
	if explicit, ok := stringValue(meta, "bucket"); ok && explicit != "" {
		return explicit
	}

	q := string(quality)
	if q == "" {
		q = string(models.QualityFast)
	}

	if assetType == models.AssetTypeVideo {
		if quality == models.QualityHigh {
			return "video_high"
		}
		return "video_fast"
	}

	if isEnhanced(meta) {
		return "image7b_" + q + "_enhanced"
	}

	if isSDXL(meta) {
		return "sdxl_image_" + q
	}

	return "image_" + q
}

// Names enumerates every bucket Infer can produce without an explicit
// metadata override, so storage setup can ensure they all exist.
func Names() []string {
	return []string{
		"image_fast",
		"image_high",
		"sdxl_image_fast",
		"sdxl_image_high",
		"image7b_fast_enhanced",
		"image7b_high_enhanced",
		"video_fast",
		"video_high",
	}
}

func isEnhanced(meta map[string]any) bool {
	if b, ok := boolValue(meta, "isEnhanced"); ok && b {
		return true
	}
	if variant, ok := stringValue(meta, "modelVariant"); ok {
		return strings.Contains(strings.ToLower(variant), "enhanced")
	}
	return false
}

func isSDXL(meta map[string]any) bool {
	if b, ok := boolValue(meta, "isSDXL"); ok && b {
		return true
	}
	if mt, ok := stringValue(meta, "modelType"); ok {
		return strings.EqualFold(mt, "sdxl")
	}
	return false
}

func stringValue(meta map[string]any, key string) (string, bool) {
	if meta == nil {
		return "", false
	}
	if raw, ok := meta[key]; ok {
		if s, ok := raw.(string); ok {
			return s, true
		}
	}
	return "", false
}

func boolValue(meta map[string]any, key string) (bool, bool) {
	if meta == nil {
		return false, false
	}
	if raw, ok := meta[key]; ok {
		switch v := raw.(type) {
		case bool:
			return v, true
		case string:
			return v == "true", true
		}
	}
	return false, false
}
