package recording

// RecordingError represents an error raised by a recording context or
// the stream keeper, matching the error taxonomy the writer path is
// required to surface to callers.
type RecordingError string

func (e RecordingError) Error() string { return string(e) }

const (
	// ErrProtocol is raised when the RTSP/codec collaborator reports an
	// unrecoverable error; the owning context transitions to Dead.
	ErrProtocol = RecordingError("recording: protocol error")

	// ErrTimeout is raised when a context's last-sample clock stalls
	// past the 30s budget; the owning context transitions to Dead.
	ErrTimeout = RecordingError("recording: sample stall timeout")

	// ErrDead is returned by operations attempted against a context
	// that has already transitioned to Dead.
	ErrDead = RecordingError("recording: context is dead")
)
