package connector

import (
	"encoding/json"
	"math"
	"strconv"
	"time"
)

const timeoutKey = "timeout_seconds"

// maxTimeoutSeconds is the largest timeout that fits in a time.Duration.
const maxTimeoutSeconds = float64(math.MaxInt64 / int64(time.Second))

// payloadTimeout reads timeout_seconds from the payload. Numbers and numeric
// strings are accepted; anything else, a non-positive value, or one too large
// for a time.Duration is an InvalidPayload error.
func payloadTimeout(payload map[string]any, defaultVal time.Duration) (time.Duration, error) {
	raw, ok := payload[timeoutKey]
	if !ok || raw == nil {
		return defaultVal, nil
	}

	var secs float64
	switch v := raw.(type) {
	case float64:
		secs = v
	case float32:
		secs = float64(v)
	case int:
		secs = float64(v)
	case int64:
		secs = float64(v)
	case json.Number:
		f, err := v.Float64()
		if err != nil {
			return 0, NewError(CategoryInvalidPayload, "%s must be a number, got %q", timeoutKey, v.String())
		}
		secs = f
	case string:
		f, err := strconv.ParseFloat(v, 64)
		if err != nil {
			return 0, NewError(CategoryInvalidPayload, "%s must be a number, got %q", timeoutKey, v)
		}
		secs = f
	default:
		return 0, NewError(CategoryInvalidPayload, "%s must be a number, got %T", timeoutKey, raw)
	}

	if math.IsNaN(secs) || secs <= 0 {
		return 0, NewError(CategoryInvalidPayload, "%s must be positive, got %v", timeoutKey, secs)
	}
	if secs > maxTimeoutSeconds {
		return 0, NewError(CategoryInvalidPayload, "%s must be at most %d, got %v", timeoutKey, int64(maxTimeoutSeconds), secs)
	}
	return time.Duration(secs * float64(time.Second)), nil
}

// payloadString returns payload[key] when it is a string, else defaultVal.
func payloadString(payload map[string]any, key, defaultVal string) string {
	if v, ok := payload[key].(string); ok {
		return v
	}
	return defaultVal
}
