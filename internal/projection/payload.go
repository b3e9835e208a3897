package projection

// payloadString extracts a string field from an event payload.
// Returns empty string when absent or not a string.
func payloadString(payload map[string]interface{}, key string) string {
	if v, ok := payload[key].(string); ok {
		return v
	}
	return ""
}

// payloadFloat extracts a numeric field from an event payload. JSON
// round-trips land numbers as float64.
func payloadFloat(payload map[string]interface{}, key string) float64 {
	switch v := payload[key].(type) {
	case float64:
		return v
	case int:
		return float64(v)
	case int64:
		return float64(v)
	default:
		return 0
	}
}
