package events

import (
	"bytes"
	"context"
	"net"
	"strings"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"genboard/engine/internal/config"
	"genboard/engine/internal/models"
)

func TestDecodeEvent(t *testing.T) {
	values := map[string]interface{}{
		"eventType":           "insert",
		"assetId":             "a1",
		"jobId":               "j1",
		"ownerId":             "u1",
		"status":              "completed",
		"assetType":           "image",
		"quality":             "high",
		"declaredOutputCount": "4",
		"storageRef":          "2026/01/a1.png",
		"modelMeta":           `{"isSDXL":true}`,
		"prompt":              "a red fox",
	}

	event, err := DecodeEvent(values)
	if err != nil {
		t.Fatalf("DecodeEvent: %v", err)
	}

	if event.EventType != models.EventTypeInsert {
		t.Errorf("EventType = %q", event.EventType)
	}
	if event.AssetID != "a1" || event.JobID != "j1" || event.OwnerID != "u1" {
		t.Errorf("ids not decoded: %+v", event)
	}
	if event.Status != models.AssetStatusCompleted {
		t.Errorf("Status = %q", event.Status)
	}
	if event.DeclaredOutputCount != 4 {
		t.Errorf("DeclaredOutputCount = %d, want 4", event.DeclaredOutputCount)
	}
	if sdxl, ok := event.ModelMeta["isSDXL"].(bool); !ok || !sdxl {
		t.Errorf("ModelMeta not decoded: %v", event.ModelMeta)
	}
}

func TestDecodeEventMissingFields(t *testing.T) {
	if _, err := DecodeEvent(map[string]interface{}{"assetId": "a1"}); err == nil {
		t.Error("expected error for missing eventType")
	}
	if _, err := DecodeEvent(map[string]interface{}{"eventType": "insert"}); err == nil {
		t.Error("expected error for missing ids")
	}
}

func TestDecodeEventBadDeclaredCount(t *testing.T) {
	values := map[string]interface{}{
		"eventType":           "insert",
		"assetId":             "a1",
		"declaredOutputCount": "four",
	}
	if _, err := DecodeEvent(values); err == nil {
		t.Error("expected error for non-numeric declaredOutputCount")
	}
}

// closedAddr reserves a loopback port and closes it, so connections to it
// are refused immediately.
func closedAddr(t *testing.T) string {
	t.Helper()
	lis, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	addr := lis.Addr().String()
	lis.Close()
	return addr
}

func TestReclaimLogsFailure(t *testing.T) {
	client := redis.NewClient(&redis.Options{
		Addr:        closedAddr(t),
		MaxRetries:  -1,
		DialTimeout: 200 * time.Millisecond,
	})
	defer client.Close()

	var buf bytes.Buffer
	consumer := NewConsumer(client, config.EventsConfig{
		Stream:        "jobs:events",
		Group:         "workspace-engine",
		ClaimInterval: time.Minute,
	}, zerolog.New(&buf), nil)

	consumer.reclaim(context.Background())

	if !strings.Contains(buf.String(), "claim pending failed") {
		t.Errorf("reclaim failure not logged: %q", buf.String())
	}
}

func TestDecodeEventJobFailureWithoutAsset(t *testing.T) {
	values := map[string]interface{}{
		"eventType": "update",
		"jobId":     "j9",
		"status":    "failed",
		"ownerId":   "u1",
	}
	event, err := DecodeEvent(values)
	if err != nil {
		t.Fatalf("DecodeEvent: %v", err)
	}
	if event.Status != models.AssetStatusFailed || event.JobID != "j9" {
		t.Errorf("unexpected event: %+v", event)
	}
}
