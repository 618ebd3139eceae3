// Package tags validates and normalizes caller-supplied call metadata.
//
// Tags arrive as a flat JSON object of scalar values. Keys are trimmed and
// lower-cased, values stringified. Null values mean "drop this tag", not an
// error. Anything non-flat or oversized is a validation error. Pure
// transform: no side effects.
package tags

import (
	"strconv"
	"strings"

	"github.com/tidwall/gjson"

	"github.com/openpipe/completions-gateway/internal/gwerr"
)

const (
	// MaxTags caps the number of keys accepted per call.
	MaxTags = 50
	// MaxKeyLen caps a single tag key length after trimming.
	MaxKeyLen = 128
	// MaxValueLen caps a single stringified tag value.
	MaxValueLen = 1024
)

// Parse normalizes a raw JSON tag object. Empty or absent input yields an
// empty map.
func Parse(raw []byte) (map[string]string, error) {
	if len(raw) == 0 {
		return map[string]string{}, nil
	}
	parsed := gjson.ParseBytes(raw)
	if parsed.Type == gjson.Null {
		return map[string]string{}, nil
	}
	if !parsed.IsObject() {
		return nil, gwerr.Validation("tags must be a flat JSON object")
	}

	out := make(map[string]string)
	var verr error
	parsed.ForEach(func(key, value gjson.Result) bool {
		k := strings.ToLower(strings.TrimSpace(key.String()))
		if k == "" {
			verr = gwerr.Validation("tag keys must be non-empty")
			return false
		}
		if len(k) > MaxKeyLen {
			verr = gwerr.Validation("tag key %q exceeds %d characters", k, MaxKeyLen)
			return false
		}

		switch value.Type {
		case gjson.Null:
			// Null means delete/ignore, carried over from clients that
			// clear tags by setting them to null.
			return true
		case gjson.String:
			out[k] = value.String()
		case gjson.True:
			out[k] = "true"
		case gjson.False:
			out[k] = "false"
		case gjson.Number:
			out[k] = formatNumber(value.Num)
		default:
			verr = gwerr.Validation("tag %q must be a scalar value", k)
			return false
		}

		if len(out[k]) > MaxValueLen {
			verr = gwerr.Validation("tag %q value exceeds %d characters", k, MaxValueLen)
			return false
		}
		if len(out) > MaxTags {
			verr = gwerr.Validation("too many tags (max %d)", MaxTags)
			return false
		}
		return true
	})
	if verr != nil {
		return nil, verr
	}
	return out, nil
}

// ParseMap normalizes an already-decoded tag mapping. Same rules as Parse.
func ParseMap(in map[string]any) (map[string]string, error) {
	out := make(map[string]string, len(in))
	for key, v := range in {
		k := strings.ToLower(strings.TrimSpace(key))
		if k == "" {
			return nil, gwerr.Validation("tag keys must be non-empty")
		}
		if len(k) > MaxKeyLen {
			return nil, gwerr.Validation("tag key %q exceeds %d characters", k, MaxKeyLen)
		}

		switch val := v.(type) {
		case nil:
			continue
		case string:
			out[k] = val
		case bool:
			out[k] = strconv.FormatBool(val)
		case float64:
			out[k] = formatNumber(val)
		case int:
			out[k] = strconv.Itoa(val)
		case int64:
			out[k] = strconv.FormatInt(val, 10)
		default:
			return nil, gwerr.Validation("tag %q must be a scalar value", k)
		}

		if len(out[k]) > MaxValueLen {
			return nil, gwerr.Validation("tag %q value exceeds %d characters", k, MaxValueLen)
		}
	}
	if len(out) > MaxTags {
		return nil, gwerr.Validation("too many tags (max %d)", MaxTags)
	}
	return out, nil
}

// formatNumber renders integers without a decimal point ("3", not "3.000000").
func formatNumber(f float64) string {
	if f == float64(int64(f)) {
		return strconv.FormatInt(int64(f), 10)
	}
	return strconv.FormatFloat(f, 'g', -1, 64)
}
