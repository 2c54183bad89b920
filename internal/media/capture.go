package media

import (
	"fmt"
	"sync"

	"github.com/pion/webrtc/v4"
	pionmedia "github.com/pion/webrtc/v4/pkg/media"
)

// Capture is the local audio and video source. One instance is attached to
// every peer session; toggling a track here is seen by all of them at once.
type Capture struct {
	mu      sync.RWMutex
	audio   *webrtc.TrackLocalStaticSample
	video   *webrtc.TrackLocalStaticSample
	audioOn bool
	videoOn bool
	closed  bool
}

func NewCapture(streamID string) (*Capture, error) {
	audio, err := webrtc.NewTrackLocalStaticSample(
		webrtc.RTPCodecCapability{MimeType: webrtc.MimeTypeOpus}, "audio", streamID)
	if err != nil {
		return nil, fmt.Errorf("create audio track: %w", err)
	}
	video, err := webrtc.NewTrackLocalStaticSample(
		webrtc.RTPCodecCapability{MimeType: webrtc.MimeTypeVP8}, "video", streamID)
	if err != nil {
		return nil, fmt.Errorf("create video track: %w", err)
	}
	return &Capture{audio: audio, video: video, audioOn: true, videoOn: true}, nil
}

// Tracks returns the tracks to attach to a new session.
func (c *Capture) Tracks() []webrtc.TrackLocal {
	return []webrtc.TrackLocal{c.audio, c.video}
}

func (c *Capture) SetAudioEnabled(on bool) {
	c.mu.Lock()
	c.audioOn = on
	c.mu.Unlock()
}

func (c *Capture) SetVideoEnabled(on bool) {
	c.mu.Lock()
	c.videoOn = on
	c.mu.Unlock()
}

// State reports which tracks are currently enabled.
func (c *Capture) State() MediaState {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return MediaState{Audio: c.audioOn && !c.closed, Video: c.videoOn && !c.closed}
}

// WriteAudio forwards one encoded sample. Samples written while audio is
// disabled are dropped.
func (c *Capture) WriteAudio(s pionmedia.Sample) error {
	return c.write(c.audio, &c.audioOn, s)
}

// WriteVideo forwards one encoded frame. Frames written while video is
// disabled are dropped.
func (c *Capture) WriteVideo(s pionmedia.Sample) error {
	return c.write(c.video, &c.videoOn, s)
}

func (c *Capture) write(track *webrtc.TrackLocalStaticSample, on *bool, s pionmedia.Sample) error {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.closed {
		return ErrCaptureClosed
	}
	if !*on {
		return nil
	}
	return track.WriteSample(s)
}

// Close releases the capture. Later writes fail with ErrCaptureClosed.
func (c *Capture) Close() {
	c.mu.Lock()
	c.closed = true
	c.mu.Unlock()
}
