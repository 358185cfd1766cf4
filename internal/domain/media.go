package domain

// Stream is a media stream handed to the core by the signaling layer. The
// core never creates streams; it only reads their direction and flips their
// local enablement.
type Stream interface {
	ID() string
	// IsRemote reports whether the stream carries the operator's media.
	IsRemote() bool
}

// AudioStream is a local or remote audio stream.
type AudioStream interface {
	Stream
	IsMuted() bool
	Mute()
	Unmute()
}

// VideoStream is a local or remote video stream.
type VideoStream interface {
	Stream
	IsPaused() bool
	Pause()
	Resume()
}

// MediaStream holds the optional local and remote side of one media type.
type MediaStream[T comparable] struct {
	Local  T
	Remote T
}

// HasLocal reports whether a local stream is attached.
func (m MediaStream[T]) HasLocal() bool {
	var zero T
	return m.Local != zero
}

// HasRemote reports whether a remote stream is attached.
func (m MediaStream[T]) HasRemote() bool {
	var zero T
	return m.Remote != zero
}

// With returns a copy with the side matching the stream's direction replaced.
func (m MediaStream[T]) With(stream T, remote bool) MediaStream[T] {
	if remote {
		m.Remote = stream
	} else {
		m.Local = stream
	}
	return m
}

// AudioMedia and VideoMedia are the two stream pairs a Call carries.
type (
	AudioMedia = MediaStream[AudioStream]
	VideoMedia = MediaStream[VideoStream]
)
