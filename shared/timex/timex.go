package timex

import (
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"
)

// The tracking provider reports naive local timestamps in GMT+8 and epoch
// values in either seconds or milliseconds. Storage is always UTC; the
// owner-facing surfaces render GMT+1.
var (
	ProviderZone = time.FixedZone("GMT+8", 8*60*60)
	DisplayZone  = time.FixedZone("GMT+1", 1*60*60)
)

var ErrUnparseable = errors.New("unparseable timestamp")

// Epoch-millisecond value of 2000-01-01T00:00:00Z. Numeric inputs below it
// cannot be millisecond timestamps of any live device, so they are seconds.
const millisFloor = 946684800000

var stringLayouts = []string{
	"2006-01-02 15:04:05",
	"2006-01-02T15:04:05",
	"2006/01/02 15:04:05",
	"2006-01-02",
}

// Normalize converts a provider timestamp of any observed shape to UTC.
func Normalize(v any) (time.Time, error) {
	switch t := v.(type) {
	case nil:
		return time.Time{}, fmt.Errorf("%w: nil", ErrUnparseable)
	case time.Time:
		return t.UTC(), nil
	case string:
		return normalizeString(t)
	case json.Number:
		n, err := t.Int64()
		if err != nil {
			f, ferr := t.Float64()
			if ferr != nil {
				return time.Time{}, fmt.Errorf("%w: %q", ErrUnparseable, t.String())
			}
			n = int64(f)
		}
		return normalizeEpoch(n), nil
	case int:
		return normalizeEpoch(int64(t)), nil
	case int64:
		return normalizeEpoch(t), nil
	case float64:
		return normalizeEpoch(int64(t)), nil
	default:
		return time.Time{}, fmt.Errorf("%w: unsupported type %T", ErrUnparseable, v)
	}
}

func normalizeString(raw string) (time.Time, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return time.Time{}, fmt.Errorf("%w: empty", ErrUnparseable)
	}

	if !strings.ContainsAny(raw, "-/") {
		n, err := strconv.ParseInt(raw, 10, 64)
		if err != nil {
			f, ferr := strconv.ParseFloat(raw, 64)
			if ferr != nil {
				return time.Time{}, fmt.Errorf("%w: %q", ErrUnparseable, raw)
			}
			n = int64(f)
		}
		return normalizeEpoch(n), nil
	}

	// Zone-qualified strings carry their own offset.
	if t, err := time.Parse(time.RFC3339, raw); err == nil {
		return t.UTC(), nil
	}

	for _, layout := range stringLayouts {
		if t, err := time.ParseInLocation(layout, raw, ProviderZone); err == nil {
			return t.UTC(), nil
		}
	}
	return time.Time{}, fmt.Errorf("%w: %q", ErrUnparseable, raw)
}

func normalizeEpoch(n int64) time.Time {
	if n < millisFloor {
		return time.Unix(n, 0).UTC()
	}
	return time.UnixMilli(n).UTC()
}

// ToDisplay renders a stored UTC instant in the owner-facing GMT+1 zone.
func ToDisplay(t time.Time) time.Time {
	return t.In(DisplayZone)
}
