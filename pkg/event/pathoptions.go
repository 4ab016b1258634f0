package event

// PathOptions is the per-traversal metadata carried alongside every
// queue() call. It is a value type and is never stored in the Event;
// it travels with the call stack of a single pipeline traversal.
type PathOptions struct {
	// AckNeeded requests that the source be notified via AckCallback
	// once every consumer along this traversal has acked.
	AckNeeded bool
	// FlowControlRequested tells a durable queue it may place this
	// event in its flow-control overflow window instead of dropping it
	// when primary storage is full.
	FlowControlRequested bool
	// Matched, when non-nil, is set by a junction/filter expression to
	// report whether its predicate matched, independent of whether the
	// event was forwarded or absorbed.
	Matched *bool
}

// DefaultPathOptions returns the zero-value traversal metadata: no ack,
// no flow control, no match reporting.
func DefaultPathOptions() PathOptions {
	return PathOptions{}
}

// WithAckNeeded returns a copy of po with AckNeeded set.
func (po PathOptions) WithAckNeeded(v bool) PathOptions {
	po.AckNeeded = v
	return po
}

// WithFlowControlRequested returns a copy of po with FlowControlRequested set.
func (po PathOptions) WithFlowControlRequested(v bool) PathOptions {
	po.FlowControlRequested = v
	return po
}
