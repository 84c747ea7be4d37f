package dispatch

import (
	"encoding/json"
	"math"
	"strconv"
	"strings"
)

// NormalizeCopies returns the requested copy count, or 0 when raw is absent,
// non-numeric or not a positive integer. 0 leaves the count to the spooler.
func NormalizeCopies(raw json.RawMessage) int {
	if len(raw) == 0 {
		return 0
	}

	var v any
	if err := json.Unmarshal(raw, &v); err != nil {
		return 0
	}

	switch n := v.(type) {
	case float64:
		return positiveInt(n)
	case string:
		f, err := strconv.ParseFloat(strings.TrimSpace(n), 64)
		if err != nil {
			return 0
		}

		return positiveInt(f)
	default:
		return 0
	}
}

func positiveInt(f float64) int {
	if f < 1 || f != math.Trunc(f) || f > math.MaxInt32 {
		return 0
	}

	return int(f)
}
