package watcher

import (
	"time"
)

// Operation is a file system change kind.
type Operation int

const (
	// OpCreate indicates a new file or directory.
	OpCreate Operation = iota
	// OpModify indicates changed file content.
	OpModify
	// OpDelete indicates a removed file or directory.
	OpDelete
	// OpRename indicates a move; OldPath holds the previous path.
	OpRename
	// OpIgnoreChange indicates a .kbindexignore file changed and the set
	// of indexed files may need reconciling.
	OpIgnoreChange
)

// String returns the upper-case operation name.
func (op Operation) String() string {
	switch op {
	case OpCreate:
		return "CREATE"
	case OpModify:
		return "MODIFY"
	case OpDelete:
		return "DELETE"
	case OpRename:
		return "RENAME"
	case OpIgnoreChange:
		return "IGNORE_CHANGE"
	default:
		return "UNKNOWN"
	}
}

// FileEvent is one debounced change.
type FileEvent struct {
	// Path is the absolute path of the file or directory.
	Path string

	// OldPath is the previous absolute path for OpRename, empty otherwise.
	OldPath string

	Operation Operation
	IsDir     bool
	Timestamp time.Time
}

// Options configures a Watcher.
type Options struct {
	// DebounceWindow is how long a path must stay quiet before its
	// coalesced event is emitted. Default: 200ms
	DebounceWindow time.Duration

	// PollInterval is the scan period when polling. Default: 5s
	PollInterval time.Duration

	// EventBufferSize is the capacity of the batch channel. Default: 1000
	EventBufferSize int

	// IgnorePatterns use gitignore syntax, relative to the watched root.
	IgnorePatterns []string

	// ForcePolling skips fsnotify.
	ForcePolling bool
}

// DefaultOptions returns the default watcher options.
func DefaultOptions() Options {
	return Options{
		DebounceWindow:  200 * time.Millisecond,
		PollInterval:    5 * time.Second,
		EventBufferSize: 1000,
	}
}

// WithDefaults fills zero values from DefaultOptions.
func (o Options) WithDefaults() Options {
	defaults := DefaultOptions()
	if o.DebounceWindow <= 0 {
		o.DebounceWindow = defaults.DebounceWindow
	}
	if o.PollInterval <= 0 {
		o.PollInterval = defaults.PollInterval
	}
	if o.EventBufferSize <= 0 {
		o.EventBufferSize = defaults.EventBufferSize
	}
	return o
}
