package model

import (
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"
)

// ErrDecode is the sentinel wrapped by every DecodeError.
var ErrDecode = errors.New("decode household document")

// DecodeError names the field that failed the schema check.
type DecodeError struct {
	Field  string
	Reason string
}

func (e *DecodeError) Error() string {
	return fmt.Sprintf("%s: %s: %s", ErrDecode, e.Field, e.Reason)
}

func (e *DecodeError) Unwrap() error {
	return ErrDecode
}

// Legacy documents used several spellings for the same field. The first key
// present wins.
var (
	keysCreatedAt        = []string{"createdAt", "created_at", "submittedAt"}
	keysHouseholdName    = []string{"householdName", "household_name"}
	keysPhoneNumber      = []string{"phoneNumber", "household_phone"}
	keysIssues           = []string{"issues", "concerns"}
	keysBoothNumber      = []string{"boothNumber", "booth_number"}
	keysBoothNumberField = []string{"boothNumberField"}
	keysAreaRegion       = []string{"areaRegion", "area_region"}
	keysUserID           = []string{"userId", "user_id"}
	keysUserName         = []string{"userName", "user_name"}
	keysUserPhone        = []string{"userPhone", "user_phone"}
)

// DecodeHouseholdDocument converts an untyped document into a HouseholdRecord.
// Missing text fields decode to "". A field present with the wrong type is a
// DecodeError rather than a silent default.
func DecodeHouseholdDocument(doc map[string]any) (HouseholdRecord, error) {
	var rec HouseholdRecord
	var err error

	if rec.ID, err = textField(doc, "id"); err != nil {
		return HouseholdRecord{}, err
	}
	if rec.CreatedAt, err = timeField(doc, keysCreatedAt...); err != nil {
		return HouseholdRecord{}, err
	}

	fields := []struct {
		dst  *string
		keys []string
	}{
		{&rec.HouseholdName, keysHouseholdName},
		{&rec.PhoneNumber, keysPhoneNumber},
		{&rec.Issues, keysIssues},
		{&rec.BoothNumber, keysBoothNumber},
		{&rec.BoothNumberField, keysBoothNumberField},
		{&rec.AreaRegion, keysAreaRegion},
		{&rec.UserID, keysUserID},
		{&rec.UserName, keysUserName},
		{&rec.UserPhone, keysUserPhone},
	}
	for _, f := range fields {
		if *f.dst, err = textField(doc, f.keys...); err != nil {
			return HouseholdRecord{}, err
		}
	}
	return rec, nil
}

func lookup(doc map[string]any, keys ...string) (string, any, bool) {
	for _, k := range keys {
		if v, ok := doc[k]; ok && v != nil {
			return k, v, true
		}
	}
	return "", nil, false
}

// textField accepts strings and integral numbers (phone numbers were sometimes
// stored numerically).
func textField(doc map[string]any, keys ...string) (string, error) {
	key, v, ok := lookup(doc, keys...)
	if !ok {
		return "", nil
	}
	switch val := v.(type) {
	case string:
		return val, nil
	case json.Number:
		if _, err := val.Int64(); err != nil {
			return "", &DecodeError{Field: key, Reason: "expected text, got non-integral number"}
		}
		return val.String(), nil
	case float64:
		if val != math.Trunc(val) || math.IsInf(val, 0) {
			return "", &DecodeError{Field: key, Reason: "expected text, got non-integral number"}
		}
		return strconv.FormatFloat(val, 'f', 0, 64), nil
	default:
		return "", &DecodeError{Field: key, Reason: fmt.Sprintf("expected text, got %T", v)}
	}
}

// timeField accepts a {seconds, nanoseconds} timestamp object (with or without
// leading underscores), an RFC 3339 string, or epoch milliseconds.
func timeField(doc map[string]any, keys ...string) (*time.Time, error) {
	key, v, ok := lookup(doc, keys...)
	if !ok {
		return nil, nil
	}

	var t time.Time
	switch val := v.(type) {
	case map[string]any:
		secs, okS := number(val, "seconds", "_seconds")
		if !okS {
			return nil, &DecodeError{Field: key, Reason: "timestamp object without seconds"}
		}
		if !fitsInt64(secs) {
			return nil, &DecodeError{Field: key, Reason: "timestamp out of range"}
		}
		nanos, _ := number(val, "nanoseconds", "_nanoseconds")
		t = time.Unix(int64(secs), int64(nanos))
	case string:
		parsed, err := time.Parse(time.RFC3339Nano, strings.TrimSpace(val))
		if err != nil {
			return nil, &DecodeError{Field: key, Reason: "unparseable timestamp string"}
		}
		t = parsed
	case float64:
		if !fitsInt64(val) {
			return nil, &DecodeError{Field: key, Reason: "epoch milliseconds out of range"}
		}
		t = time.UnixMilli(int64(val))
	case json.Number:
		ms, err := val.Int64()
		if err != nil {
			return nil, &DecodeError{Field: key, Reason: "non-integral epoch milliseconds"}
		}
		t = time.UnixMilli(ms)
	default:
		return nil, &DecodeError{Field: key, Reason: fmt.Sprintf("expected timestamp, got %T", v)}
	}

	t = t.UTC()
	return &t, nil
}

// fitsInt64 reports whether f converts to int64 without overflow.
func fitsInt64(f float64) bool {
	return f >= math.MinInt64 && f < math.MaxInt64
}

func number(m map[string]any, keys ...string) (float64, bool) {
	for _, k := range keys {
		switch n := m[k].(type) {
		case float64:
			return n, true
		case json.Number:
			f, err := n.Float64()
			if err == nil {
				return f, true
			}
		}
	}
	return 0, false
}
