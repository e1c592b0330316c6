package domain

// OutcomeStatus tells the queue adapter what to do with a delivered envelope.
type OutcomeStatus string

const (
	// OutcomeCompleted acknowledges the message.
	OutcomeCompleted OutcomeStatus = "completed"
	// OutcomeRetry asks the transport to redeliver the message.
	OutcomeRetry OutcomeStatus = "retry"
	// OutcomeDiscarded acknowledges a message that can never be processed.
	OutcomeDiscarded OutcomeStatus = "discarded"
)

// Outcome is the result of processing one envelope.
type Outcome struct {
	Status OutcomeStatus
	Err    error
}

func Completed() Outcome {
	return Outcome{Status: OutcomeCompleted}
}

func Retry(err error) Outcome {
	return Outcome{Status: OutcomeRetry, Err: err}
}

func Discarded(err error) Outcome {
	return Outcome{Status: OutcomeDiscarded, Err: err}
}

// Acknowledge reports whether the transport should mark the message complete.
func (o Outcome) Acknowledge() bool {
	return o.Status != OutcomeRetry
}
