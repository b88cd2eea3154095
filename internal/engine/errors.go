package engine

import "fmt"

// InvalidTransitionError covers advances past the terminal stage and
// mutations attempted on a closed transaction.
type InvalidTransitionError struct {
	TransactionID string
	Stage         string
	Reason        string
}

func (e InvalidTransitionError) Error() string {
	return fmt.Sprintf("transaction %s at stage %s: %s", e.TransactionID, e.Stage, e.Reason)
}

// BlockedTask identifies one incomplete blocking task in an error payload.
type BlockedTask struct {
	ID    string `json:"id"`
	Title string `json:"title"`
}

// BlockedByTasksError is returned when a stage advance is gated by
// incomplete blocking tasks.
type BlockedByTasksError struct {
	TransactionID string
	Stage         string
	Tasks         []BlockedTask
}

func (e BlockedByTasksError) Error() string {
	return fmt.Sprintf("transaction %s cannot leave stage %s: %d blocking task(s) incomplete", e.TransactionID, e.Stage, len(e.Tasks))
}

// BlockedByDocumentsError is returned when the stage requires approved
// documents that are missing.
type BlockedByDocumentsError struct {
	TransactionID string
	Stage         string
	Missing       []string
}

func (e BlockedByDocumentsError) Error() string {
	return fmt.Sprintf("transaction %s cannot leave stage %s: missing approved document(s) %v", e.TransactionID, e.Stage, e.Missing)
}

// AlreadyCompletedError is returned when completing a task that is
// already completed.
type AlreadyCompletedError struct {
	TaskID string
}

func (e AlreadyCompletedError) Error() string {
	return fmt.Sprintf("task %s is already completed", e.TaskID)
}

// ValidationError reports invalid input to an engine operation.
type ValidationError struct {
	Field  string
	Reason string
}

func (e ValidationError) Error() string {
	if e.Field == "" {
		return e.Reason
	}
	return fmt.Sprintf("%s: %s", e.Field, e.Reason)
}
