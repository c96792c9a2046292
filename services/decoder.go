package services

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"atmos/models"
)

// Decode-stage errors. Messages failing any of these checks are dropped by
// the pipeline; none of them is retryable.
var (
	ErrMalformedPayload = errors.New("malformed payload")
	ErrMissingField     = errors.New("missing field")
	ErrInvalidType      = errors.New("invalid field type")
)

// Decoder turns raw transport payloads into validated readings. Devices send
// JSON objects with numeric "temp" and "humid" fields; extra fields are
// ignored.
type Decoder struct {
	now func() time.Time
}

func NewDecoder() *Decoder {
	return &Decoder{now: time.Now}
}

// Decode parses and validates one payload. On success the reading's
// MeasuredAt defaults to the decode-time clock unless the payload carries a
// parseable "measured_at" timestamp.
func (d *Decoder) Decode(payload []byte) (*models.Reading, error) {
	var fields map[string]interface{}
	if err := json.Unmarshal(payload, &fields); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedPayload, err)
	}

	temp, err := numericField(fields, "temp")
	if err != nil {
		return nil, err
	}
	humid, err := numericField(fields, "humid")
	if err != nil {
		return nil, err
	}

	measuredAt := d.now()
	if raw, ok := fields["measured_at"].(string); ok {
		if ts, err := time.Parse(time.RFC3339, raw); err == nil {
			measuredAt = ts
		}
	}

	return &models.Reading{
		Temperature: temp,
		Humidity:    humid,
		MeasuredAt:  measuredAt,
	}, nil
}

func numericField(fields map[string]interface{}, name string) (float64, error) {
	value, ok := fields[name]
	if !ok || value == nil {
		return 0, fmt.Errorf("%w: %s", ErrMissingField, name)
	}
	f, ok := value.(float64)
	if !ok {
		return 0, fmt.Errorf("%w: %s is %T", ErrInvalidType, name, value)
	}
	return f, nil
}
