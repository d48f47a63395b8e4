// Package event classifies decoded chat stream values and reduces them into
// a ChatResult.
package event

import (
	"github.com/bunlongheng/cube-ai-be/internal/model"
)

// Kind names an event variant.
type Kind string

const (
	KindData             Kind = "data"
	KindChartSpec        Kind = "chartSpec"
	KindAssistantMessage Kind = "assistant"
	KindUnknown          Kind = "unknown"
)

// Event is one classified line of a chat stream. The set of implementations
// is closed: DataEvent, ChartSpecEvent, AssistantMessageEvent, UnknownEvent.
type Event interface {
	Kind() Kind
	// CountKey is the eventCounts bucket: the line's type, else its role,
	// else "unknown".
	CountKey() string
	// Raw is the decoded line.
	Raw() any

	isEvent()
}

type base struct {
	countKey string
	raw      any
}

func (b base) CountKey() string { return b.countKey }
func (b base) Raw() any         { return b.raw }
func (base) isEvent()           {}

// DataEvent carries result rows and their metadata.
type DataEvent struct {
	base
	Rows       []*model.Object
	Annotation *model.Object
	SQLQuery   *string
}

// Kind implements Event.
func (*DataEvent) Kind() Kind { return KindData }

// ChartSpecEvent carries a suggested visualization.
type ChartSpecEvent struct {
	base
	Spec *model.Object
}

// Kind implements Event.
func (*ChartSpecEvent) Kind() Kind { return KindChartSpec }

// Query returns spec.query when it is an object.
func (e *ChartSpecEvent) Query() *model.Object {
	q, _ := e.Spec.Object("query")
	return q
}

// AssistantMessageEvent carries assistant text. When the text is itself a
// JSON document describing data, Nested holds that classification.
type AssistantMessageEvent struct {
	base
	Content string
	Nested  *DataEvent
}

// Kind implements Event.
func (*AssistantMessageEvent) Kind() Kind { return KindAssistantMessage }

// UnknownEvent is anything else. It is still counted.
type UnknownEvent struct {
	base
}

// Kind implements Event.
func (*UnknownEvent) Kind() Kind { return KindUnknown }
