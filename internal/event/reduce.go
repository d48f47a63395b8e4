package event

import (
	"github.com/bunlongheng/cube-ai-be/internal/model"
)

// Options tune reduction.
type Options struct {
	// DeepSearch enables the fallback scan for sqlQuery and query-shaped
	// objects anywhere in the events when the direct rules found none.
	DeepSearch bool
}

// Reducer folds events, in stream order, into a ChatResult.
//
// rows and assistantText are last-wins over non-empty values. annotation,
// sqlQuery and query are first-wins: once set they are never replaced.
// chartSpec is last-wins.
type Reducer struct {
	opts   Options
	result model.ChatResult
	raws   []any
}

// NewReducer returns an empty Reducer.
func NewReducer(opts Options) *Reducer {
	return &Reducer{
		opts:   opts,
		result: model.ChatResult{EventCounts: map[string]int{}},
	}
}

// Add folds one event.
func (r *Reducer) Add(ev Event) {
	r.result.EventCounts[ev.CountKey()]++
	if r.opts.DeepSearch {
		r.raws = append(r.raws, ev.Raw())
	}

	switch e := ev.(type) {
	case *DataEvent:
		r.addData(e)
	case *ChartSpecEvent:
		if e.Spec != nil {
			r.result.ChartSpec = e.Spec
		}
		if r.result.Query == nil {
			r.result.Query = e.Query()
		}
	case *AssistantMessageEvent:
		if e.Content != "" {
			content := e.Content
			r.result.AssistantText = &content
		}
		if e.Nested != nil {
			r.addData(e.Nested)
		}
	case *UnknownEvent:
	}
}

func (r *Reducer) addData(e *DataEvent) {
	if len(e.Rows) > 0 {
		r.result.Rows = e.Rows
	}
	if r.result.Annotation == nil && e.Annotation != nil {
		r.result.Annotation = e.Annotation
	}
	if r.result.SQLQuery == nil && e.SQLQuery != nil && *e.SQLQuery != "" {
		sql := *e.SQLQuery
		r.result.SQLQuery = &sql
	}
}

// Result returns the snapshot so far, applying the deep search fallback if
// enabled and needed. The Reducer may keep receiving events afterwards.
func (r *Reducer) Result() *model.ChatResult {
	res := r.result
	counts := make(map[string]int, len(r.result.EventCounts))
	for k, v := range r.result.EventCounts {
		counts[k] = v
	}
	res.EventCounts = counts

	if r.opts.DeepSearch {
		if res.SQLQuery == nil {
			if sql, ok := FindSQL(r.raws); ok {
				res.SQLQuery = &sql
			}
		}
		if res.Query == nil {
			res.Query = FindQuery(r.raws)
		}
	}
	return &res
}

// Reduce folds events into a ChatResult.
func Reduce(events []Event, opts Options) *model.ChatResult {
	r := NewReducer(opts)
	for _, ev := range events {
		r.Add(ev)
	}
	return r.Result()
}
