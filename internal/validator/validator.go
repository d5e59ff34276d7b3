package validator

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
)

// Event is a decoded and coerced candidate event, prior to timestamp
// normalization and storage. TsDeviceRaw carries the device timestamp string
// as received; the dispatcher converts it to an absolute instant.
type Event struct {
	Schema      int
	EventID     string
	DeviceID    string
	EventType   string
	ValueNum    *float64
	ValueText   *string
	Unit        *string
	TsDeviceRaw string
	Meta        map[string]interface{}
}

// tsDeviceAlias is the deprecated timestamp field still emitted by older
// firmware; read only when ts_device is absent.
const tsDeviceAlias = "ts"

// DecodeMessage parses a raw message body into a list of candidate events.
// Invalid byte sequences are replaced rather than rejected. A JSON array
// yields one candidate per element; any other document is a single
// candidate. Only malformed JSON is a decode error; candidates that are not
// objects fail later, during validation, so one bad element is reported with
// its own reason.
func DecodeMessage(body []byte) ([]interface{}, error) {
	text := strings.ToValidUTF8(string(body), "�")

	dec := json.NewDecoder(bytes.NewReader([]byte(text)))
	dec.UseNumber()

	var doc interface{}
	if err := dec.Decode(&doc); err != nil {
		return nil, fmt.Errorf("failed to decode message body: %w", err)
	}
	if dec.More() {
		return nil, fmt.Errorf("trailing data after JSON document")
	}

	if list, ok := doc.([]interface{}); ok {
		return list, nil
	}
	return []interface{}{doc}, nil
}

// ValidateEvent checks one candidate for the required fields and coerces
// field types, returning a descriptive error naming the offending field.
func ValidateEvent(candidate interface{}) (*Event, error) {
	obj, ok := candidate.(map[string]interface{})
	if !ok {
		return nil, fmt.Errorf("event is not an object (got %T)", candidate)
	}

	for _, k := range []string{"schema", "event_id", "device_id", "event_type"} {
		if _, present := obj[k]; !present {
			return nil, fmt.Errorf("missing required field %s", k)
		}
	}

	schema, err := coerceInt(obj["schema"])
	if err != nil {
		return nil, fmt.Errorf("field schema: %w", err)
	}

	event := &Event{Schema: schema}

	if event.EventID, err = coerceString(obj["event_id"]); err != nil {
		return nil, fmt.Errorf("field event_id: %w", err)
	}
	if event.DeviceID, err = coerceString(obj["device_id"]); err != nil {
		return nil, fmt.Errorf("field device_id: %w", err)
	}
	if event.EventType, err = coerceString(obj["event_type"]); err != nil {
		return nil, fmt.Errorf("field event_type: %w", err)
	}

	if err := assignValue(event, obj["value"]); err != nil {
		return nil, fmt.Errorf("field value: %w", err)
	}

	if unit, present := obj["unit"]; present && unit != nil {
		s, err := coerceString(unit)
		if err != nil {
			return nil, fmt.Errorf("field unit: %w", err)
		}
		event.Unit = &s
	}

	// The alias is consulted only when ts_device is absent entirely; a
	// ts_device of the wrong type means "no timestamp", not "try the
	// alias".
	if raw, present := obj["ts_device"]; present {
		if s, ok := raw.(string); ok {
			event.TsDeviceRaw = s
		}
	} else if raw, ok := obj[tsDeviceAlias].(string); ok {
		event.TsDeviceRaw = raw
	}

	switch meta := obj["meta"].(type) {
	case nil:
		event.Meta = map[string]interface{}{}
	case map[string]interface{}:
		event.Meta = meta
	default:
		return nil, fmt.Errorf("field meta: expected an object, got %T", meta)
	}

	return event, nil
}

// assignValue splits the optional value field by input type: JSON numbers go
// to ValueNum, any other non-null value is stringified into ValueText.
func assignValue(event *Event, value interface{}) error {
	switch v := value.(type) {
	case nil:
		return nil
	case json.Number:
		f, err := v.Float64()
		if err != nil {
			return fmt.Errorf("cannot represent %q as a number: %w", v.String(), err)
		}
		event.ValueNum = &f
	case string:
		event.ValueText = &v
	case bool:
		s := strconv.FormatBool(v)
		event.ValueText = &s
	default:
		// Structured values (objects, arrays) are stored in their JSON form.
		raw, err := json.Marshal(v)
		if err != nil {
			return fmt.Errorf("cannot stringify value: %w", err)
		}
		s := string(raw)
		event.ValueText = &s
	}
	return nil
}

func coerceInt(value interface{}) (int, error) {
	switch v := value.(type) {
	case json.Number:
		if n, err := v.Int64(); err == nil {
			return int(n), nil
		}
		f, err := v.Float64()
		if err != nil {
			return 0, fmt.Errorf("cannot coerce %q to integer: %w", v.String(), err)
		}
		return int(f), nil
	case string:
		n, err := strconv.Atoi(strings.TrimSpace(v))
		if err != nil {
			return 0, fmt.Errorf("cannot coerce %q to integer: %w", v, err)
		}
		return n, nil
	default:
		return 0, fmt.Errorf("cannot coerce %T to integer", value)
	}
}

func coerceString(value interface{}) (string, error) {
	switch v := value.(type) {
	case string:
		return v, nil
	case json.Number:
		return v.String(), nil
	case bool:
		return strconv.FormatBool(v), nil
	default:
		return "", fmt.Errorf("cannot coerce %T to string", value)
	}
}
