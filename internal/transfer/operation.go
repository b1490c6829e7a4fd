package transfer

import "fmt"

type Direction int

const (
	LocalToRemote Direction = iota
	RemoteToLocal
)

func (d Direction) String() string {
	switch d {
	case LocalToRemote:
		return "local->remote"
	case RemoteToLocal:
		return "remote->local"
	default:
		return fmt.Sprintf("Direction(%d)", int(d))
	}
}

type OpKind string

const (
	OpCreateDirectory OpKind = "CreateDirectory"
	OpCopyFile        OpKind = "CopyFile"
	OpDelete          OpKind = "Delete"
	OpSkip            OpKind = "Skip"
)

// Operation is one atomic unit of planned work.
type Operation struct {
	Kind OpKind

	// RelPath is relative to the transfer root on both sides
	RelPath string

	// SourcePath is empty for deletes
	SourcePath string
	TargetPath string

	Direction    Direction
	PreserveMode bool

	// Replace removes whatever exists at TargetPath first, used when the
	// source and target kinds differ (file replacing a directory or vice versa)
	Replace bool

	// Source is the source snapshot the operation was planned from, nil for deletes
	Source *Node

	// Target is the pre-existing target snapshot, nil when the target did not exist
	Target *Node
}

func (op *Operation) String() string {
	switch op.Kind {
	case OpDelete:
		return fmt.Sprintf("%s(%s)", op.Kind, op.TargetPath)
	default:
		return fmt.Sprintf("%s(%s -> %s)", op.Kind, op.SourcePath, op.TargetPath)
	}
}

// IsStructural reports whether the operation creates a directory other operations may depend on
func (op *Operation) IsStructural() bool {
	return op.Kind == OpCreateDirectory
}
