package protocol

import "encoding/json"

const (
	// MinDimension is the smallest legal PTY row/column count.
	MinDimension = 1
	// MaxDimension is the largest legal PTY row/column count.
	MaxDimension = 512

	// DefaultRows and DefaultCols are the initial per-client window size.
	DefaultRows = 24
	DefaultCols = 80
)

// ResizePayload is the decoded payload of a RESIZE frame.
type ResizePayload struct {
	Rows int `json:"rows"`
	Cols int `json:"cols"`
}

// ParseResize decodes a RESIZE payload. Dimensions are not clamped here —
// clamping depends on the *current* window size, so it is applied by the
// caller via Clamp.
func ParseResize(payload []byte) (ResizePayload, error) {
	var r ResizePayload
	if err := json.Unmarshal(payload, &r); err != nil {
		return ResizePayload{}, fieldErr("", "invalid JSON: "+err.Error())
	}
	return r, nil
}

// Clamp applies a received dimension to a current one: a received value
// <= 0 leaves the axis unchanged; otherwise the new value is bounded to
// [MinDimension, MaxDimension] (the upper bound is applied after the
// unchanged-on-non-positive check).
func Clamp(current, received int) int {
	if received <= 0 {
		return current
	}
	if received > MaxDimension {
		return MaxDimension
	}
	return received
}
