// Package sqlval formats Go values as SQLite literals for internally built
// statements. All quoting of untrusted content funnels through Format; query
// templates never interpolate caller-supplied identifiers.
package sqlval

import (
	"encoding/json"
	"math"
	"strconv"
	"strings"

	"github.com/habiliai/agentmemory/errors"
)

// Format renders a single value as a SQLite literal. Supported kinds are
// string, bool, nil, the numeric primitives, and json.RawMessage / values
// marshalled to JSON (stored as a quoted JSON string).
func Format(v any) (string, error) {
	switch x := v.(type) {
	case nil:
		return "NULL", nil
	case string:
		return QuoteString(x), nil
	case bool:
		if x {
			return "1", nil
		}
		return "0", nil
	case int:
		return strconv.FormatInt(int64(x), 10), nil
	case int32:
		return strconv.FormatInt(int64(x), 10), nil
	case int64:
		return strconv.FormatInt(x, 10), nil
	case uint:
		return strconv.FormatUint(uint64(x), 10), nil
	case uint64:
		return strconv.FormatUint(x, 10), nil
	case float32:
		return formatFloat(float64(x))
	case float64:
		return formatFloat(x)
	case json.RawMessage:
		return QuoteString(string(x)), nil
	default:
		raw, err := json.Marshal(x)
		if err != nil {
			return "", errors.Wrapf(err, "failed to marshal value of type %T as JSON literal", v)
		}
		return QuoteString(string(raw)), nil
	}
}

// QuoteString renders s as a single-quoted SQLite string literal.
func QuoteString(s string) string {
	return "'" + strings.ReplaceAll(s, "'", "''") + "'"
}

func formatFloat(f float64) (string, error) {
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return "", errors.Errorf("non-finite float %v cannot be a SQL literal", f)
	}
	return strconv.FormatFloat(f, 'g', -1, 64), nil
}
