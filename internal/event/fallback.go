package event

import (
	"strings"

	"github.com/bunlongheng/cube-ai-be/internal/model"
)

// queryShapeKeys mark an object as a Cube query.
var queryShapeKeys = []string{"measures", "dimensions", "timeDimensions", "filters"}

// FindSQL searches values depth-first, keys in decode order, for fields named
// sqlQuery. The first string that looks like SQL wins; otherwise the first
// non-empty string.
func FindSQL(values []any) (string, bool) {
	var first string
	var found bool
	var sql string

	walk(values, func(key string, v any) bool {
		if key != "sqlQuery" {
			return false
		}
		s, ok := v.(string)
		if !ok || s == "" {
			return false
		}
		if LooksLikeSQL(s) {
			sql = s
			return true
		}
		if !found {
			first, found = s, true
		}
		return false
	})

	if sql != "" {
		return sql, true
	}
	return first, found
}

// FindQuery returns the first object under a key named query that has any of
// measures, dimensions, timeDimensions or filters.
func FindQuery(values []any) *model.Object {
	var q *model.Object
	walk(values, func(key string, v any) bool {
		if key != "query" {
			return false
		}
		obj, ok := v.(*model.Object)
		if !ok {
			return false
		}
		for _, k := range queryShapeKeys {
			if obj.Has(k) {
				q = obj
				return true
			}
		}
		return false
	})
	return q
}

// LooksLikeSQL reports whether s contains both a select and a from token.
func LooksLikeSQL(s string) bool {
	var sel, from bool
	for _, tok := range strings.FieldsFunc(strings.ToLower(s), notWordRune) {
		switch tok {
		case "select":
			sel = true
		case "from":
			from = true
		}
	}
	return sel && from
}

func notWordRune(r rune) bool {
	return !(r == '_' || r >= 'a' && r <= 'z' || r >= '0' && r <= '9')
}

// walk visits every key/value pair under v depth-first, object keys in
// decode order. A visit returning true stops the walk; the pair is visited
// before its value's children.
func walk(v any, visit func(key string, v any) bool) bool {
	switch t := v.(type) {
	case []any:
		for _, item := range t {
			if walk(item, visit) {
				return true
			}
		}
	case *model.Object:
		for _, k := range t.Keys() {
			child, _ := t.Get(k)
			if visit(k, child) || walk(child, visit) {
				return true
			}
		}
	}
	return false
}
