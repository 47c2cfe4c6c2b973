package domain

type Priority int

const (
	PriorityNone      Priority = -1
	PriorityLow       Priority = 0
	PriorityNormal    Priority = 1
	PriorityReadahead Priority = 2 // readahead window
	PriorityNext      Priority = 3 // next piece a reader consumes
	PriorityHigh      Priority = 4 // open stream or priority selection
)

// SelectionPriority is the piece priority a selection raises its span to.
func SelectionPriority(priority bool) Priority {
	if priority {
		return PriorityHigh
	}
	return PriorityNormal
}
