// Package events defines the engine's observable lifecycle events,
// published through the eventbus and consumed by telemetry subscribers.
package events

import "time"

// HTTPStart is emitted when the resolve endpoint accepts a request.
type HTTPStart struct {
	Method string
	Target string
}

// HTTPFinish is emitted after the response is written.
type HTTPFinish struct {
	Status   int
	Duration time.Duration
}

// QueryStart is emitted before a query evaluation begins.
type QueryStart struct {
	Query string
	Debug bool
}

// QueryFinish is emitted after a query evaluation completes.
type QueryFinish struct {
	Query    string
	Err      string
	Duration time.Duration
}

// GraphBuilt describes a finished schema graph build. No package in this
// module publishes it; graph.Build emits no events.
type GraphBuilt struct {
	Source   string
	Duration time.Duration
}
