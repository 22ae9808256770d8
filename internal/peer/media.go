package peer

import (
	"context"
	"fmt"

	"github.com/pion/webrtc/v4"
	"github.com/pion/webrtc/v4/pkg/media"
)

// MediaSource supplies the local outbound tracks shared by every peer
// connection. Track references are shared, not copied; only the session owner
// may stop or replace them.
type MediaSource interface {
	AudioTrack() webrtc.TrackLocal
	VideoTrack() webrtc.TrackLocal
}

// CaptureFunc acquires a display-capture video track for screen sharing.
type CaptureFunc func(ctx context.Context) (webrtc.TrackLocal, error)

// StaticMedia is a MediaSource backed by sample-fed static tracks. The
// embedding application pushes encoded Opus and VP8 samples into it.
type StaticMedia struct {
	audio *webrtc.TrackLocalStaticSample
	video *webrtc.TrackLocalStaticSample
}

func NewStaticMedia(streamID string) (*StaticMedia, error) {
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
	return &StaticMedia{audio: audio, video: video}, nil
}

func (m *StaticMedia) AudioTrack() webrtc.TrackLocal { return m.audio }
func (m *StaticMedia) VideoTrack() webrtc.TrackLocal { return m.video }

func (m *StaticMedia) WriteAudioSample(s media.Sample) error { return m.audio.WriteSample(s) }
func (m *StaticMedia) WriteVideoSample(s media.Sample) error { return m.video.WriteSample(s) }
