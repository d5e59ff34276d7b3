package validator_test

import (
	"testing"

	"github.com/quietstack/telemetry-ingester/internal/validator"
)

func validCandidate() map[string]interface{} {
	candidates, err := validator.DecodeMessage([]byte(`{
		"schema": 1,
		"event_id": "evt-001",
		"device_id": "dev-42",
		"event_type": "temperature",
		"value": 21.5,
		"unit": "celsius",
		"ts_device": "2024-06-01T10:00:00Z",
		"meta": {"firmware": "2.4.1"}
	}`))
	if err != nil || len(candidates) != 1 {
		panic("bad test fixture")
	}
	return candidates[0].(map[string]interface{})
}

func TestDecodeMessage_SingleObject(t *testing.T) {
	candidates, err := validator.DecodeMessage([]byte(`{"schema": 1}`))
	if err != nil {
		t.Fatalf("Failed to decode: %v", err)
	}
	if len(candidates) != 1 {
		t.Errorf("Expected 1 candidate, got %d", len(candidates))
	}
}

func TestDecodeMessage_Array(t *testing.T) {
	candidates, err := validator.DecodeMessage([]byte(`[{"a":1},{"b":2},{"c":3}]`))
	if err != nil {
		t.Fatalf("Failed to decode: %v", err)
	}
	if len(candidates) != 3 {
		t.Errorf("Expected 3 candidates, got %d", len(candidates))
	}
}

func TestDecodeMessage_EmptyArray(t *testing.T) {
	candidates, err := validator.DecodeMessage([]byte(`[]`))
	if err != nil {
		t.Fatalf("Failed to decode: %v", err)
	}
	if len(candidates) != 0 {
		t.Errorf("Expected 0 candidates, got %d", len(candidates))
	}
}

func TestDecodeMessage_MalformedJSON(t *testing.T) {
	_, err := validator.DecodeMessage([]byte(`{"schema": 1,`))
	if err == nil {
		t.Error("Expected error for truncated JSON")
	}
}

func TestDecodeMessage_InvalidUTF8Replaced(t *testing.T) {
	body := append([]byte(`{"event_id": "evt-`), 0xff, 0xfe)
	body = append(body, []byte(`"}`)...)

	candidates, err := validator.DecodeMessage(body)
	if err != nil {
		t.Fatalf("Expected invalid bytes to be replaced, got error: %v", err)
	}
	if len(candidates) != 1 {
		t.Errorf("Expected 1 candidate, got %d", len(candidates))
	}
}

func TestValidateEvent_Valid(t *testing.T) {
	event, err := validator.ValidateEvent(validCandidate())
	if err != nil {
		t.Fatalf("Expected valid event, got error: %v", err)
	}

	if event.Schema != 1 {
		t.Errorf("Expected schema 1, got %d", event.Schema)
	}
	if event.EventID != "evt-001" || event.DeviceID != "dev-42" || event.EventType != "temperature" {
		t.Errorf("Unexpected identity fields: %+v", event)
	}
	if event.ValueNum == nil || *event.ValueNum != 21.5 {
		t.Errorf("Expected value_num 21.5, got %v", event.ValueNum)
	}
	if event.ValueText != nil {
		t.Errorf("Expected value_text nil, got %q", *event.ValueText)
	}
	if event.Unit == nil || *event.Unit != "celsius" {
		t.Errorf("Expected unit celsius, got %v", event.Unit)
	}
	if event.TsDeviceRaw != "2024-06-01T10:00:00Z" {
		t.Errorf("Unexpected raw timestamp %q", event.TsDeviceRaw)
	}
	if event.Meta["firmware"] != "2.4.1" {
		t.Errorf("Unexpected meta %v", event.Meta)
	}
}

func TestValidateEvent_MissingRequiredFields(t *testing.T) {
	for _, field := range []string{"schema", "event_id", "device_id", "event_type"} {
		candidate := validCandidate()
		delete(candidate, field)

		_, err := validator.ValidateEvent(candidate)
		if err == nil {
			t.Errorf("Expected error for missing %s", field)
			continue
		}
		if got := err.Error(); got != "missing required field "+field {
			t.Errorf("Expected error naming %s, got %q", field, got)
		}
	}
}

func TestValidateEvent_SchemaCoercion(t *testing.T) {
	candidate := validCandidate()
	candidate["schema"] = "2"

	event, err := validator.ValidateEvent(candidate)
	if err != nil {
		t.Fatalf("Expected string schema to coerce, got error: %v", err)
	}
	if event.Schema != 2 {
		t.Errorf("Expected schema 2, got %d", event.Schema)
	}
}

func TestValidateEvent_SchemaCoercionFailure(t *testing.T) {
	candidate := validCandidate()
	candidate["schema"] = "not-a-number"

	_, err := validator.ValidateEvent(candidate)
	if err == nil {
		t.Error("Expected coercion error for non-numeric schema")
	}
}

func TestValidateEvent_NumericIDCoercedToString(t *testing.T) {
	candidates, err := validator.DecodeMessage([]byte(
		`{"schema": 1, "event_id": 12345, "device_id": "dev-42", "event_type": "boot"}`))
	if err != nil {
		t.Fatalf("Failed to decode: %v", err)
	}

	event, err := validator.ValidateEvent(candidates[0])
	if err != nil {
		t.Fatalf("Expected numeric event_id to coerce, got error: %v", err)
	}
	if event.EventID != "12345" {
		t.Errorf("Expected event_id \"12345\", got %q", event.EventID)
	}
}

func TestValidateEvent_TextValue(t *testing.T) {
	candidate := validCandidate()
	candidate["value"] = "open"

	event, err := validator.ValidateEvent(candidate)
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}
	if event.ValueNum != nil {
		t.Errorf("Expected value_num nil, got %v", *event.ValueNum)
	}
	if event.ValueText == nil || *event.ValueText != "open" {
		t.Errorf("Expected value_text \"open\", got %v", event.ValueText)
	}
}

func TestValidateEvent_AbsentValue(t *testing.T) {
	candidate := validCandidate()
	delete(candidate, "value")

	event, err := validator.ValidateEvent(candidate)
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}
	if event.ValueNum != nil || event.ValueText != nil {
		t.Errorf("Expected both value columns nil, got num=%v text=%v", event.ValueNum, event.ValueText)
	}
}

func TestValidateEvent_BoolValueStringified(t *testing.T) {
	candidate := validCandidate()
	candidate["value"] = true

	event, err := validator.ValidateEvent(candidate)
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}
	if event.ValueText == nil || *event.ValueText != "true" {
		t.Errorf("Expected value_text \"true\", got %v", event.ValueText)
	}
}

func TestValidateEvent_MetaDefaultsToEmpty(t *testing.T) {
	candidate := validCandidate()
	delete(candidate, "meta")

	event, err := validator.ValidateEvent(candidate)
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}
	if event.Meta == nil || len(event.Meta) != 0 {
		t.Errorf("Expected empty meta, got %v", event.Meta)
	}
}

func TestValidateEvent_DeprecatedTimestampAlias(t *testing.T) {
	candidate := validCandidate()
	delete(candidate, "ts_device")
	candidate["ts"] = "2024-06-01T09:00:00Z"

	event, err := validator.ValidateEvent(candidate)
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}
	if event.TsDeviceRaw != "2024-06-01T09:00:00Z" {
		t.Errorf("Expected alias timestamp, got %q", event.TsDeviceRaw)
	}
}

func TestValidateEvent_TsDevicePreferredOverAlias(t *testing.T) {
	candidate := validCandidate()
	candidate["ts"] = "1999-01-01T00:00:00Z"

	event, err := validator.ValidateEvent(candidate)
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}
	if event.TsDeviceRaw != "2024-06-01T10:00:00Z" {
		t.Errorf("Expected ts_device to win over alias, got %q", event.TsDeviceRaw)
	}
}

func TestValidateEvent_NonStringTsDeviceSkipsAlias(t *testing.T) {
	candidate := validCandidate()
	candidate["ts_device"] = 1717236000
	candidate["ts"] = "2024-06-01T09:00:00Z"

	event, err := validator.ValidateEvent(candidate)
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}
	if event.TsDeviceRaw != "" {
		t.Errorf("Expected no timestamp for non-string ts_device, got %q", event.TsDeviceRaw)
	}
}

func TestValidateEvent_NonObjectCandidate(t *testing.T) {
	candidates, err := validator.DecodeMessage([]byte(`[42]`))
	if err != nil {
		t.Fatalf("Failed to decode: %v", err)
	}

	_, err = validator.ValidateEvent(candidates[0])
	if err == nil {
		t.Error("Expected error for non-object candidate")
	}
}
