// Package media adapts pion tracks to the stream interfaces the core reads.
// Local streams gate the samples written to their track; remote streams only
// carry the operator-side flags the signaling layer reports.
package media

import (
	"fmt"
	"sync"

	"github.com/pion/webrtc/v4"
	pionmedia "github.com/pion/webrtc/v4/pkg/media"

	"engagekit/internal/domain"
)

const streamID = "engagekit"

// LocalAudio is the visitor's microphone. Samples written while muted are
// dropped before they reach the track.
type LocalAudio struct {
	track *webrtc.TrackLocalStaticSample

	mu    sync.Mutex
	muted bool
}

func NewLocalAudio(id string) (*LocalAudio, error) {
	track, err := webrtc.NewTrackLocalStaticSample(
		webrtc.RTPCodecCapability{MimeType: webrtc.MimeTypeOpus, ClockRate: 48000, Channels: 2},
		id, streamID,
	)
	if err != nil {
		return nil, fmt.Errorf("create local audio track: %w", err)
	}
	return &LocalAudio{track: track}, nil
}

func (a *LocalAudio) ID() string     { return a.track.ID() }
func (a *LocalAudio) IsRemote() bool { return false }

// Track is what gets added to the peer connection.
func (a *LocalAudio) Track() webrtc.TrackLocal { return a.track }

func (a *LocalAudio) IsMuted() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.muted
}

func (a *LocalAudio) Mute()   { a.setMuted(true) }
func (a *LocalAudio) Unmute() { a.setMuted(false) }

func (a *LocalAudio) setMuted(muted bool) {
	a.mu.Lock()
	a.muted = muted
	a.mu.Unlock()
}

// WriteSample forwards an encoded sample unless the stream is muted.
func (a *LocalAudio) WriteSample(s pionmedia.Sample) error {
	if a.IsMuted() {
		return nil
	}
	return a.track.WriteSample(s)
}

// LocalVideo is the visitor's camera. Frames written while paused are
// dropped.
type LocalVideo struct {
	track *webrtc.TrackLocalStaticSample

	mu     sync.Mutex
	paused bool
}

func NewLocalVideo(id string) (*LocalVideo, error) {
	track, err := webrtc.NewTrackLocalStaticSample(
		webrtc.RTPCodecCapability{MimeType: webrtc.MimeTypeVP8, ClockRate: 90000},
		id, streamID,
	)
	if err != nil {
		return nil, fmt.Errorf("create local video track: %w", err)
	}
	return &LocalVideo{track: track}, nil
}

func (v *LocalVideo) ID() string     { return v.track.ID() }
func (v *LocalVideo) IsRemote() bool { return false }

func (v *LocalVideo) Track() webrtc.TrackLocal { return v.track }

func (v *LocalVideo) IsPaused() bool {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.paused
}

func (v *LocalVideo) Pause()  { v.setPaused(true) }
func (v *LocalVideo) Resume() { v.setPaused(false) }

func (v *LocalVideo) setPaused(paused bool) {
	v.mu.Lock()
	v.paused = paused
	v.mu.Unlock()
}

func (v *LocalVideo) WriteSample(s pionmedia.Sample) error {
	if v.IsPaused() {
		return nil
	}
	return v.track.WriteSample(s)
}

// RemoteAudio is the operator's audio. Muting it silences local playout only.
type RemoteAudio struct {
	id string

	mu    sync.Mutex
	muted bool
}

func NewRemoteAudio(id string) *RemoteAudio { return &RemoteAudio{id: id} }

func (a *RemoteAudio) ID() string     { return a.id }
func (a *RemoteAudio) IsRemote() bool { return true }

func (a *RemoteAudio) IsMuted() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.muted
}

func (a *RemoteAudio) Mute()   { a.setMuted(true) }
func (a *RemoteAudio) Unmute() { a.setMuted(false) }

func (a *RemoteAudio) setMuted(muted bool) {
	a.mu.Lock()
	a.muted = muted
	a.mu.Unlock()
}

// RemoteVideo is the operator's camera or screen.
type RemoteVideo struct {
	id string

	mu     sync.Mutex
	paused bool
}

func NewRemoteVideo(id string) *RemoteVideo { return &RemoteVideo{id: id} }

func (v *RemoteVideo) ID() string     { return v.id }
func (v *RemoteVideo) IsRemote() bool { return true }

func (v *RemoteVideo) IsPaused() bool {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.paused
}

func (v *RemoteVideo) Pause()  { v.setPaused(true) }
func (v *RemoteVideo) Resume() { v.setPaused(false) }

func (v *RemoteVideo) setPaused(paused bool) {
	v.mu.Lock()
	v.paused = paused
	v.mu.Unlock()
}

// Factory builds streams for the media kinds the signaling layer announces.
type Factory struct{}

// Audio returns a remote adapter or a new local track.
func (Factory) Audio(id string, remote bool) (domain.AudioStream, error) {
	if remote {
		return NewRemoteAudio(id), nil
	}
	local, err := NewLocalAudio(id)
	if err != nil {
		return nil, err
	}
	return local, nil
}

func (Factory) Video(id string, remote bool) (domain.VideoStream, error) {
	if remote {
		return NewRemoteVideo(id), nil
	}
	local, err := NewLocalVideo(id)
	if err != nil {
		return nil, err
	}
	return local, nil
}
