package peer

import (
	"fmt"

	"github.com/pion/logging"
	"github.com/pion/webrtc/v4"
)

// newAPI builds the WebRTC API all peer connections of one Manager share.
// A caller-provided SettingEngine lets tests run on a virtual network.
func newAPI(lf logging.LoggerFactory, se *webrtc.SettingEngine) (*webrtc.API, error) {
	engine := &webrtc.MediaEngine{}
	if err := engine.RegisterDefaultCodecs(); err != nil {
		return nil, fmt.Errorf("register codecs: %w", err)
	}

	setting := webrtc.SettingEngine{}
	if se != nil {
		setting = *se
	}
	if lf != nil {
		setting.LoggerFactory = lf
	}

	return webrtc.NewAPI(
		webrtc.WithMediaEngine(engine),
		webrtc.WithSettingEngine(setting),
	), nil
}
