package app

import (
	"bytes"
	"encoding/json"
	"math"
	"strconv"
	"strings"
)

// integerFields hold marks and timestamps. Files written by earlier app
// versions may carry them as fractional numbers or numeric strings.
var integerFields = map[string]bool{
	"marks":         true,
	"totalMarks":    true,
	"obtainedMarks": true,
	"createdAt":     true,
}

// DecodeRecord unmarshals one assessment or evaluation, truncating the
// integer fields toward zero first. A value that is not numeric at all is
// left alone and fails the decode.
func DecodeRecord(raw []byte, dst any) error {
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	var tree any
	if err := dec.Decode(&tree); err != nil {
		return err
	}
	coerced, err := json.Marshal(coerceIntegers(tree, false))
	if err != nil {
		return err
	}
	return json.Unmarshal(coerced, dst)
}

func coerceIntegers(value any, integral bool) any {
	switch v := value.(type) {
	case map[string]any:
		// Page marks is an object of question id to marks.
		for key, child := range v {
			v[key] = coerceIntegers(child, integral || integerFields[key])
		}
	case []any:
		for i, child := range v {
			v[i] = coerceIntegers(child, false)
		}
	case json.Number:
		if integral {
			if n, ok := truncateNumber(string(v)); ok {
				return n
			}
		}
	case string:
		if integral {
			if n, ok := truncateNumber(strings.TrimSpace(v)); ok {
				return n
			}
		}
	}
	return value
}

func truncateNumber(s string) (int64, bool) {
	if n, err := strconv.ParseInt(s, 10, 64); err == nil {
		return n, true
	}
	f, err := strconv.ParseFloat(s, 64)
	if err != nil || math.IsNaN(f) || math.IsInf(f, 0) {
		return 0, false
	}
	f = math.Trunc(f)
	if f > math.MaxInt64 || f < math.MinInt64 {
		return 0, false
	}
	return int64(f), true
}
