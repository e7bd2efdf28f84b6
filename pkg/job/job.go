// Package job implements the hierarchical job tree and single-consumer
// progress bus described in spec §4.B, grounded on the JobHandle/run
// bracket shape demonstrated in original_source/src/command/test_progress.rs.
package job

import (
	"fmt"

	"github.com/hashicorp/go-uuid"
)

// ID stably identifies a Job within one deployment run.
type ID string

// Type is the kind of work a Job represents.
type Type string

const (
	TypeMeta       Type = "meta"
	TypeEvaluate   Type = "evaluate"
	TypeBuild      Type = "build"
	TypePush       Type = "push"
	TypeActivate   Type = "activate"
	TypeUploadKeys Type = "upload-keys"
)

// State is a Job's current lifecycle state.
type State int

const (
	Pending State = iota
	Running
	Succeeded
	Failed
)

func (s State) String() string {
	switch s {
	case Pending:
		return "pending"
	case Running:
		return "running"
	case Succeeded:
		return "succeeded"
	case Failed:
		return "failed"
	default:
		return "unknown"
	}
}

// IsTerminal reports whether s is Succeeded or Failed.
func (s State) IsTerminal() bool { return s == Succeeded || s == Failed }

func newID() ID {
	u, err := uuid.GenerateUUID()
	if err != nil {
		// uuid.GenerateUUID only fails if crypto/rand is broken; a
		// process in that state cannot proceed safely either way.
		panic(fmt.Sprintf("job: failed to generate id: %v", err))
	}
	return ID(u)
}
