package xlate

import (
	"encoding/json"

	"github.com/ledgerline/stomp-relay/cmn/cos"
)

// requiredInt64 extracts a required integer field as int64, reporting
// OverflowError when the JSON number doesn't fit (spec §4.5 step 6).
func requiredInt64(data map[string]any, field string) (int64, error) {
	raw, ok := data[field]
	if !ok {
		return 0, cos.NewProcessingError("missing field: %s", field)
	}
	return toInt64(field, raw)
}

// optionalInt64 extracts an optional integer field; present reports
// whether the field existed at all.
func optionalInt64(data map[string]any, field string) (v int64, present bool, err error) {
	raw, ok := data[field]
	if !ok {
		return 0, false, nil
	}
	v, err = toInt64(field, raw)
	return v, true, err
}

func toInt64(field string, raw any) (int64, error) {
	if v, ok := raw.(int64); ok {
		return v, nil // already rewritten in place by rewriteCreditorSpace
	}
	num, ok := raw.(json.Number)
	if !ok {
		return 0, cos.NewProcessingError("field %s is not a number", field)
	}
	v, err := num.Int64()
	if err != nil {
		return 0, cos.NewOverflowError("field %s out of i64 range: %s", field, num.String())
	}
	return v, nil
}

func optionalString(data map[string]any, field string) (string, bool) {
	raw, ok := data[field]
	if !ok {
		return "", false
	}
	s, ok := raw.(string)
	return s, ok
}
