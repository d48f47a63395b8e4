// Package chart turns reduced chat rows into chart-ready records.
package chart

import (
	"encoding/json"
	"math"
	"strconv"
	"strings"

	"github.com/bunlongheng/cube-ai-be/internal/model"
)

// ReasonNoRows is reported when there is nothing to chart.
const ReasonNoRows = "no_rows"

// ToRecords maps rows to chart records. Keys not pinned by overrides are
// inferred from the annotation, then from the first row. Zero rows is not an
// error: the payload is empty and carries ReasonNoRows.
func ToRecords(rows []*model.Object, annotation *model.Object, overrides model.ChartOverrides) *model.ChartPayload {
	if len(rows) == 0 {
		return &model.ChartPayload{
			Data: []model.ChartRecord{},
			Meta: model.ChartMeta{Annotation: annotation, Reason: ReasonNoRows},
		}
	}

	keys := InferKeys(annotation, rows[0], overrides)

	data := make([]model.ChartRecord, 0, len(rows))
	for _, row := range rows {
		rec := model.ChartRecord{Raw: row}
		rec.X, _ = row.Get(keys.XKey)
		rec.Series, _ = row.Get(keys.SeriesKey)
		if v, ok := row.Get(keys.ValueKey); ok {
			if n, ok := Coerce(v); ok {
				rec.Value = &n
			}
		}
		data = append(data, rec)
	}

	return &model.ChartPayload{
		Data: data,
		Meta: model.ChartMeta{
			XKey:       keys.XKey,
			SeriesKey:  keys.SeriesKey,
			ValueKey:   keys.ValueKey,
			Count:      len(data),
			Annotation: annotation,
		},
	}
}

// InferKeys picks the x, series and value keys. Each override applies on its
// own; inference fills whatever is left empty.
func InferKeys(annotation *model.Object, sample *model.Object, overrides model.ChartOverrides) model.ChartKeys {
	dims := sectionKeys(annotation, "dimensions")
	measures := sectionKeys(annotation, "measures")
	rowKeys := sample.Keys()

	isMeasure := func(k string) bool {
		for _, m := range measures {
			if m == k {
				return true
			}
		}
		return false
	}

	x := overrides.XKey
	if x == "" {
		x = firstMatch(dims, isTimeLike)
	}
	if x == "" && len(dims) > 0 {
		x = dims[0]
	}
	if x == "" {
		x = firstMatch(rowKeys, isTimeLike)
	}
	if x == "" && len(rowKeys) > 0 {
		x = rowKeys[0]
	}

	series := overrides.SeriesKey
	if series == "" {
		series = firstMatch(dims, func(k string) bool { return k != x })
	}
	if series == "" {
		series = firstMatch(rowKeys, func(k string) bool { return k != x && !isMeasure(k) })
	}

	value := overrides.ValueKey
	if value == "" && len(measures) > 0 {
		value = measures[0]
	}
	if value == "" {
		value = firstMatch(rowKeys, isMeasure)
	}
	if value == "" {
		value = firstMatch(rowKeys, func(k string) bool {
			v, _ := sample.Get(k)
			_, ok := Coerce(v)
			return ok
		})
	}

	return model.ChartKeys{XKey: x, SeriesKey: series, ValueKey: value}
}

// Coerce converts v to a finite float64. Numbers and numeric strings
// convert; everything else, including empty strings and booleans, does not.
func Coerce(v any) (float64, bool) {
	var f float64
	switch t := v.(type) {
	case json.Number:
		n, err := t.Float64()
		if err != nil {
			return 0, false
		}
		f = n
	case float64:
		f = t
	case float32:
		f = float64(t)
	case int:
		f = float64(t)
	case int64:
		f = float64(t)
	case string:
		s := strings.TrimSpace(t)
		if s == "" {
			return 0, false
		}
		n, err := strconv.ParseFloat(s, 64)
		if err != nil {
			return 0, false
		}
		f = n
	default:
		return 0, false
	}
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return 0, false
	}
	return f, true
}

func isTimeLike(k string) bool {
	return strings.Contains(k, ".date") || strings.HasSuffix(k, ".month")
}

func sectionKeys(annotation *model.Object, section string) []string {
	obj, ok := annotation.Object(section)
	if !ok {
		return nil
	}
	return obj.Keys()
}

func firstMatch(keys []string, pred func(string) bool) string {
	for _, k := range keys {
		if pred(k) {
			return k
		}
	}
	return ""
}
