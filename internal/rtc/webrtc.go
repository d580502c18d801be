package rtc

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/pion/webrtc/v4"
	"github.com/rs/zerolog/log"

	"github.com/oztf/meetlink/internal/domain"
)

// DefaultWebRTCConfig returns the baseline peer configuration.
func DefaultWebRTCConfig() webrtc.Configuration {
	return webrtc.Configuration{
		ICEServers: []webrtc.ICEServer{
			{
				URLs: []string{"stun:stun.l.google.com:19302"},
			},
		},
	}
}

// PeerEngine implements Engine on a pion PeerConnection. One instance
// per room; remote participants are distinguished by track stream id.
type PeerEngine struct {
	cfg webrtc.Configuration

	mu       sync.Mutex
	pc       *webrtc.PeerConnection
	control  *webrtc.DataChannel
	userID   string
	audio    *webrtc.RTPSender
	video    *webrtc.RTPSender
	screen   *webrtc.RTPSender
	muted    map[string]bool
	streams  map[string]bool
	handlers map[EventType][]func(Event)
}

// NewPeerEngineFactory returns an EngineFactory producing PeerEngines
// with the given configuration.
func NewPeerEngineFactory(cfg webrtc.Configuration) EngineFactory {
	return func() (Engine, error) {
		return &PeerEngine{
			cfg:      cfg,
			muted:    make(map[string]bool),
			streams:  make(map[string]bool),
			handlers: make(map[EventType][]func(Event)),
		}, nil
	}
}

func (e *PeerEngine) On(ev EventType, fn func(Event)) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.handlers[ev] = append(e.handlers[ev], fn)
}

func (e *PeerEngine) emit(ev Event) {
	e.mu.Lock()
	fns := append([]func(Event){}, e.handlers[ev.Type]...)
	e.mu.Unlock()
	for _, fn := range fns {
		fn(ev)
	}
}

func (e *PeerEngine) Enter(ctx context.Context, p EnterParams) error {
	if p.UserSig == "" || p.UserID == "" {
		return fmt.Errorf("enter room %d: %w", p.RoomID, domain.ErrAuthentication)
	}

	pc, err := webrtc.NewPeerConnection(e.cfg)
	if err != nil {
		return fmt.Errorf("create peer connection: %w", err)
	}

	pc.OnICEConnectionStateChange(func(s webrtc.ICEConnectionState) {
		log.Info().Str("module", "rtc").Str("user", p.UserID).Str("ice_state", s.String()).Msg("ICE state")
	})

	pc.OnTrack(func(track *webrtc.TrackRemote, _ *webrtc.RTPReceiver) {
		e.onRemoteTrack(track)
	})

	control, err := pc.CreateDataChannel("control", nil)
	if err != nil {
		pc.Close()
		return fmt.Errorf("create control channel: %w", err)
	}
	control.OnMessage(func(msg webrtc.DataChannelMessage) {
		e.onControlMessage(msg.Data)
	})

	e.mu.Lock()
	e.pc = pc
	e.control = control
	e.userID = p.UserID
	e.mu.Unlock()

	log.Info().Str("module", "rtc").Uint32("room", p.RoomID).Str("user", p.UserID).Msg("entered room")
	return nil
}

// onRemoteTrack maps incoming tracks onto the event taxonomy: the first
// track from an unseen stream id doubles as that user's enter event.
func (e *PeerEngine) onRemoteTrack(track *webrtc.TrackRemote) {
	user := track.StreamID()
	stream := StreamMain
	if track.RID() == "sub" {
		stream = StreamSub
	}

	e.mu.Lock()
	first := !e.streams[user]
	e.streams[user] = true
	e.mu.Unlock()

	if first {
		e.emit(Event{Type: EventRemoteUserEnter, UserID: user})
	}
	switch track.Kind() {
	case webrtc.RTPCodecTypeAudio:
		e.emit(Event{Type: EventRemoteAudioAvailable, UserID: user})
	case webrtc.RTPCodecTypeVideo:
		e.emit(Event{Type: EventRemoteVideoAvailable, UserID: user, Stream: stream})
	}
}

type controlMessage struct {
	CmdID  int    `json:"cmdId"`
	UserID string `json:"userId"`
	Event  string `json:"event"`
}

func (e *PeerEngine) onControlMessage(data []byte) {
	var msg controlMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		log.Warn().Err(err).Str("module", "rtc").Msg("bad control message")
		return
	}
	switch msg.Event {
	case "user-exit":
		e.mu.Lock()
		delete(e.streams, msg.UserID)
		e.mu.Unlock()
		e.emit(Event{Type: EventRemoteUserExit, UserID: msg.UserID})
	case "video-unavailable":
		e.emit(Event{Type: EventRemoteVideoUnavailable, UserID: msg.UserID})
	case "screen-share-stopped":
		e.emit(Event{Type: EventScreenShareStopped, UserID: msg.UserID})
	default:
		e.emit(Event{Type: EventCustomMessage, UserID: msg.UserID, CmdID: msg.CmdID, Payload: data})
	}
}

func (e *PeerEngine) Exit(ctx context.Context) error {
	e.mu.Lock()
	pc := e.pc
	e.pc = nil
	e.mu.Unlock()
	if pc == nil {
		return nil
	}
	if err := pc.Close(); err != nil {
		return fmt.Errorf("close peer connection: %w", err)
	}
	return nil
}

func (e *PeerEngine) conn() (*webrtc.PeerConnection, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.pc == nil {
		return nil, fmt.Errorf("engine not entered: %w", domain.ErrRoomNotFound)
	}
	return e.pc, nil
}

func (e *PeerEngine) StartLocalAudio(ctx context.Context) error {
	pc, err := e.conn()
	if err != nil {
		return err
	}
	track, err := webrtc.NewTrackLocalStaticSample(
		webrtc.RTPCodecCapability{MimeType: webrtc.MimeTypeOpus}, "audio", e.userID)
	if err != nil {
		return fmt.Errorf("create audio track: %w", err)
	}
	sender, err := pc.AddTrack(track)
	if err != nil {
		return fmt.Errorf("add audio track: %w", err)
	}
	e.mu.Lock()
	e.audio = sender
	e.mu.Unlock()
	return nil
}

func (e *PeerEngine) StopLocalAudio(ctx context.Context) error {
	return e.removeTrack(&e.audio)
}

func (e *PeerEngine) StartLocalVideo(ctx context.Context, view string) error {
	pc, err := e.conn()
	if err != nil {
		return err
	}
	track, err := webrtc.NewTrackLocalStaticSample(
		webrtc.RTPCodecCapability{MimeType: webrtc.MimeTypeVP8}, "video", e.userID)
	if err != nil {
		return fmt.Errorf("create video track: %w", err)
	}
	sender, err := pc.AddTrack(track)
	if err != nil {
		return fmt.Errorf("add video track: %w", err)
	}
	e.mu.Lock()
	e.video = sender
	e.mu.Unlock()
	log.Debug().Str("module", "rtc").Str("view", view).Msg("local video started")
	return nil
}

func (e *PeerEngine) StopLocalVideo(ctx context.Context) error {
	return e.removeTrack(&e.video)
}

func (e *PeerEngine) StartScreenShare(ctx context.Context) error {
	pc, err := e.conn()
	if err != nil {
		return err
	}
	track, err := webrtc.NewTrackLocalStaticSample(
		webrtc.RTPCodecCapability{MimeType: webrtc.MimeTypeVP8}, "screen", e.userID)
	if err != nil {
		return fmt.Errorf("create screen track: %w", err)
	}
	sender, err := pc.AddTrack(track)
	if err != nil {
		return fmt.Errorf("add screen track: %w", err)
	}
	e.mu.Lock()
	e.screen = sender
	e.mu.Unlock()
	return nil
}

func (e *PeerEngine) StopScreenShare(ctx context.Context) error {
	return e.removeTrack(&e.screen)
}

func (e *PeerEngine) removeTrack(sender **webrtc.RTPSender) error {
	e.mu.Lock()
	pc, s := e.pc, *sender
	*sender = nil
	e.mu.Unlock()
	if pc == nil || s == nil {
		return nil
	}
	if err := pc.RemoveTrack(s); err != nil {
		return fmt.Errorf("remove track: %w", err)
	}
	return nil
}

// MuteRemoteAudio records the playback mute state for a remote user.
// Actual silencing happens at the receiving sink; the engine keeps the
// authoritative flag.
func (e *PeerEngine) MuteRemoteAudio(ctx context.Context, userID string, mute bool) error {
	if _, err := e.conn(); err != nil {
		return err
	}
	e.mu.Lock()
	e.muted[userID] = mute
	e.mu.Unlock()
	log.Debug().Str("module", "rtc").Str("user", userID).Bool("mute", mute).Msg("remote audio mute")
	return nil
}

// SubscribeRemoteVideo binds a remote feed to a display sink. With this
// transport remote media flows as soon as it is negotiated, so the
// subscription is a sink binding record plus a validity check.
func (e *PeerEngine) SubscribeRemoteVideo(ctx context.Context, userID string, stream StreamType, view string) error {
	if _, err := e.conn(); err != nil {
		return err
	}
	e.mu.Lock()
	known := e.streams[userID]
	e.mu.Unlock()
	if !known {
		return fmt.Errorf("user %s does not publishing stream", userID)
	}
	log.Debug().Str("module", "rtc").Str("user", userID).Str("stream", stream.String()).Str("view", view).Msg("remote video bound")
	return nil
}

func (e *PeerEngine) Close() {
	if err := e.Exit(context.Background()); err != nil {
		log.Error().Err(err).Str("module", "rtc").Msg("engine close")
	}
}
