package event

import (
	"strings"

	"github.com/bunlongheng/cube-ai-be/internal/model"
)

// Classify maps one decoded value to its Event variant.
func Classify(v any) Event {
	return classify(v, true)
}

// ClassifyAll classifies values in order.
func ClassifyAll(values []any) []Event {
	out := make([]Event, 0, len(values))
	for _, v := range values {
		out = append(out, Classify(v))
	}
	return out
}

func classify(v any, unwrap bool) Event {
	obj, ok := v.(*model.Object)
	if !ok {
		return &UnknownEvent{base: base{countKey: string(KindUnknown), raw: v}}
	}

	b := base{countKey: countKey(obj), raw: obj}
	typ, _ := obj.String("type")

	switch {
	case typ == "data":
		return dataEvent(b, obj)
	case typ == "chartSpec":
		spec, _ := obj.Object("spec")
		return &ChartSpecEvent{base: b, Spec: spec}
	}

	if role, _ := obj.String("role"); role == "assistant" {
		if content, ok := obj.String("content"); ok {
			ev := &AssistantMessageEvent{base: b, Content: content}
			if unwrap {
				ev.Nested = nestedData(content)
			}
			return ev
		}
	}

	return &UnknownEvent{base: b}
}

func countKey(obj *model.Object) string {
	if s, ok := obj.String("type"); ok && s != "" {
		return s
	}
	if s, ok := obj.String("role"); ok && s != "" {
		return s
	}
	return string(KindUnknown)
}

func dataEvent(b base, obj *model.Object) *DataEvent {
	ev := &DataEvent{base: b}

	rows, ok := obj.Array("rows")
	if !ok {
		rows, _ = obj.Array("data")
	}
	for _, r := range rows {
		if row, ok := r.(*model.Object); ok {
			ev.Rows = append(ev.Rows, row)
		}
	}

	meta, _ := obj.Object("meta")
	if a, ok := obj.Object("annotation"); ok {
		ev.Annotation = a
	} else if a, ok := meta.Object("annotation"); ok {
		ev.Annotation = a
	}

	if s, ok := obj.String("sqlQuery"); ok {
		ev.SQLQuery = &s
	} else if s, ok := meta.String("sqlQuery"); ok {
		ev.SQLQuery = &s
	}

	return ev
}

// nestedData decodes assistant content that is itself JSON and returns it as
// a data source. Only one level is unwrapped.
func nestedData(content string) *DataEvent {
	trimmed := strings.TrimSpace(content)
	if trimmed == "" || trimmed[0] != '{' {
		return nil
	}
	v, err := model.DecodeValue([]byte(trimmed))
	if err != nil {
		return nil
	}

	if inner, ok := classify(v, false).(*DataEvent); ok {
		return inner
	}
	return nil
}
