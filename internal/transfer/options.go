package transfer

// IgnoreFunc decides whether a path, relative to the transfer root, is excluded.
// The root itself is passed as "". Ignoring a directory excludes its whole subtree.
type IgnoreFunc func(relPath string, isDir bool) bool

type TransferOptions struct {
	Ignore             IgnoreFunc
	PreserveTargetMode bool
}

func (o TransferOptions) ignored(relPath string, isDir bool) bool {
	if o.Ignore == nil {
		return false
	}
	return o.Ignore(relPath, isDir)
}

type SyncModel string

const (
	// SyncModelFull makes the target an exact mirror of the source, deletions included
	SyncModelFull SyncModel = "full"
)

type SyncOptions struct {
	TransferOptions
	Model SyncModel
}

func (o SyncOptions) Validate() error {
	switch o.Model {
	case SyncModelFull:
		return nil
	case "":
		return &ConfigurationError{Field: "model", Reason: "sync model is required"}
	default:
		return &ConfigurationError{Field: "model", Reason: "unsupported sync model " + string(o.Model)}
	}
}

// Config is the explicit context of one invocation: which endpoint plays source
// and target, and the roots the trees hang from on each side.
type Config struct {
	SourceRoot string
	Source     Endpoint
	TargetRoot string
	Target     Endpoint
	Direction  Direction
}

// NewConfig resolves source and target from the direction.
func NewConfig(endpoints Endpoints, localRoot, remoteRoot string, dir Direction) *Config {
	src, dst := endpoints.Resolve(dir)
	srcRoot, dstRoot := localRoot, remoteRoot
	if dir == RemoteToLocal {
		srcRoot, dstRoot = remoteRoot, localRoot
	}
	return &Config{
		SourceRoot: CleanPath(srcRoot),
		Source:     src,
		TargetRoot: CleanPath(dstRoot),
		Target:     dst,
		Direction:  dir,
	}
}

func (c *Config) validate() error {
	if c == nil {
		return &ConfigurationError{Field: "config", Reason: "config is required"}
	}
	if c.Source == nil {
		return &ConfigurationError{Field: "source", Reason: "source endpoint is required"}
	}
	if c.Target == nil {
		return &ConfigurationError{Field: "target", Reason: "target endpoint is required"}
	}
	return nil
}
