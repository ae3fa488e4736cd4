package merging

import (
	"errors"
	"fmt"
)

// Merge pipeline step names, as reported by MergeError.
const (
	StepAcquireLock   = "acquire_lock"
	StepLoadValidate  = "load_validate"
	StepMigrateEvents = "migrate_events"
	StepMergeMetadata = "merge_metadata"
	StepSoftDelete    = "soft_delete"
	StepWriteAuditLog = "write_audit_log"
)

// MergeError tags a merge failure with the step that produced it.
type MergeError struct {
	Step string
	Err  error
}

func (e *MergeError) Error() string {
	return fmt.Sprintf("merge failed at %s: %v", e.Step, e.Err)
}

func (e *MergeError) Unwrap() error {
	return e.Err
}

// FailedStep returns the step name carried by err, or "" when err is not a MergeError.
func FailedStep(err error) string {
	var me *MergeError
	if errors.As(err, &me) {
		return me.Step
	}
	return ""
}
