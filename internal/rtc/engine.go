// Package rtc drives the external real-time transport through a narrow
// interface and owns the per-room engine instances.
package rtc

import "context"

// StreamType distinguishes a participant's camera feed from their
// screen-share feed.
type StreamType int

const (
	StreamMain StreamType = iota
	StreamSub
)

func (s StreamType) String() string {
	if s == StreamSub {
		return "sub"
	}
	return "main"
}

// EventType enumerates the transport events the orchestrator consumes.
type EventType string

const (
	EventRemoteAudioAvailable   EventType = "remote-audio-available"
	EventRemoteVideoAvailable   EventType = "remote-video-available"
	EventRemoteVideoUnavailable EventType = "remote-video-unavailable"
	EventRemoteUserEnter        EventType = "remote-user-enter"
	EventRemoteUserExit         EventType = "remote-user-exit"
	EventScreenShareStopped     EventType = "screen-share-stopped"
	EventCustomMessage          EventType = "custom-message"
	EventNetworkQuality         EventType = "network-quality"
)

// CmdMeetingEnded is the well-known custom message code broadcast when
// the meeting is terminated by its owner.
const CmdMeetingEnded = 1

// Event is a transport callback payload. Events arrive in emission
// order per room, but ordering across event types is not guaranteed.
type Event struct {
	Type    EventType
	UserID  string
	Stream  StreamType
	CmdID   int
	Payload []byte
	Quality string
}

// EnterParams carries the credential material for a room entry.
type EnterParams struct {
	AppID   int
	UserID  string
	UserSig string
	RoomID  uint32
}

// Engine is the capability surface of one transport room connection.
// The transport itself (connection establishment, media encode/decode,
// network adaptation) is opaque behind it.
type Engine interface {
	Enter(ctx context.Context, p EnterParams) error
	Exit(ctx context.Context) error

	StartLocalAudio(ctx context.Context) error
	StopLocalAudio(ctx context.Context) error
	StartLocalVideo(ctx context.Context, view string) error
	StopLocalVideo(ctx context.Context) error

	MuteRemoteAudio(ctx context.Context, userID string, mute bool) error
	SubscribeRemoteVideo(ctx context.Context, userID string, stream StreamType, view string) error

	StartScreenShare(ctx context.Context) error
	StopScreenShare(ctx context.Context) error

	On(ev EventType, fn func(Event))
	Close()
}

// EngineFactory creates a fresh engine instance for a room.
type EngineFactory func() (Engine, error)
