// Package progress defines the milestone events emitted by the crawl
// engine and the sinks that consume them. The engine is single-threaded,
// so events fan out to sinks synchronously; sinks must not block.
package progress

import "time"

// Stage denotes the milestone represented by an Event.
type Stage string

// Supported progress stages.
const (
	StageRunStart     Stage = "RUN_START"
	StageRunDone      Stage = "RUN_DONE"
	StageRunError     Stage = "RUN_ERROR"
	StageCategoryDone Stage = "CATEGORY_DONE"
	StagePageFetched  Stage = "PAGE_FETCHED"
	StageTopicDone    Stage = "TOPIC_DONE"
	StageTopicSkipped Stage = "TOPIC_SKIPPED"
	StageTopicError   Stage = "TOPIC_ERROR"
	StagePostCreated  Stage = "POST_CREATED"
	StagePostUpdated  Stage = "POST_UPDATED"
)

// Event captures a single crawl milestone.
type Event struct {
	// TS is the UTC timestamp recorded by the emitter.
	TS time.Time
	// Stage denotes which milestone occurred.
	Stage Stage
	// Forum is the base URL of the crawl target.
	Forum string
	// Entity optionally identifies the category/topic/post concerned.
	Entity string
	// Count carries a delta where the stage aggregates (posts in a batch).
	Count int64
	// Note lets emitters attach low-volume context (e.g. error text).
	Note string
}

// Sink consumes progress events.
type Sink interface {
	Consume(evt Event)
}

// Reporter fans events out to its sinks. A nil Reporter drops everything,
// so callers never need to guard their emits.
type Reporter struct {
	sinks []Sink
}

// NewReporter builds a Reporter over the given sinks.
func NewReporter(sinks ...Sink) *Reporter {
	return &Reporter{sinks: sinks}
}

// Emit stamps and distributes one event.
func (r *Reporter) Emit(evt Event) {
	if r == nil {
		return
	}
	if evt.TS.IsZero() {
		evt.TS = time.Now().UTC()
	}
	for _, s := range r.sinks {
		s.Consume(evt)
	}
}
