package event

import (
	"encoding/json"
	"testing"
	"time"
)

// TestTypeConstants はType定数の値を検証する。
// Event Storeに永続化される値のため、変更されていないことを確認する。
func TestTypeConstants(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		got  string
		want string
	}{
		{name: "AggregateTypeProjectの値が正しいこと", got: string(AggregateTypeProject), want: "Project"},
		{name: "AggregateTypeNotificationの値が正しいこと", got: string(AggregateTypeNotification), want: "Notification"},
		{name: "TypeQualityGateChangedの値が正しいこと", got: string(TypeQualityGateChanged), want: "QualityGateChanged"},
		{name: "TypeNotificationDeliveredの値が正しいこと", got: string(TypeNotificationDelivered), want: "NotificationDelivered"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			if tt.got != tt.want {
				t.Errorf("got = %q, want %q", tt.got, tt.want)
			}
		})
	}
}

// TestEventJSONFieldNames はEventのJSONフィールド名を検証する。
func TestEventJSONFieldNames(t *testing.T) {
	t.Parallel()

	original := Event{
		ID:            "test-id-123",
		AggregateID:   "org.example:app",
		AggregateType: AggregateTypeProject,
		EventType:     TypeQualityGateChanged,
		Data:          json.RawMessage(`{"project_key":"org.example:app","status":"ERROR"}`),
		Version:       1,
		CreatedAt:     time.Date(2025, 1, 15, 10, 30, 0, 0, time.UTC),
	}

	jsonBytes, err := json.Marshal(original)
	if err != nil {
		t.Fatalf("json.Marshal()でエラーが発生: %v", err)
	}

	var raw map[string]json.RawMessage
	if err := json.Unmarshal(jsonBytes, &raw); err != nil {
		t.Fatalf("json.Unmarshal()でエラーが発生: %v", err)
	}

	expectedKeys := []string{"id", "aggregate_id", "aggregate_type", "event_type", "data", "version", "created_at"}
	for _, key := range expectedKeys {
		if _, ok := raw[key]; !ok {
			t.Errorf("JSONに期待するキー %q が存在しない", key)
		}
	}
}

// TestQualityGateChangedDataOmitEmpty はプロジェクトキーが空のときJSONから省略されることを検証する。
func TestQualityGateChangedDataOmitEmpty(t *testing.T) {
	t.Parallel()

	jsonBytes, err := json.Marshal(QualityGateChangedData{ProjectName: "orphan", Status: "OK"})
	if err != nil {
		t.Fatalf("json.Marshal()でエラーが発生: %v", err)
	}

	var raw map[string]json.RawMessage
	if err := json.Unmarshal(jsonBytes, &raw); err != nil {
		t.Fatalf("json.Unmarshal()でエラーが発生: %v", err)
	}
	if _, ok := raw["project_key"]; ok {
		t.Error("空のproject_keyがJSONに含まれている")
	}
	if _, ok := raw["is_new_alert"]; !ok {
		t.Error("is_new_alertがJSONに含まれていない")
	}
}
