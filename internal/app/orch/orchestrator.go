// Package orch coordinates a meeting session: join, roster
// reconciliation, identity mapping, stream binding and teardown.
package orch

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/oztf/meetlink/internal/domain"
	"github.com/oztf/meetlink/internal/ident"
	"github.com/oztf/meetlink/internal/roster"
	"github.com/oztf/meetlink/internal/rtc"
)

// State is the orchestrator lifecycle. Errored absorbs irrecoverable
// initialization failures; Closed is reached through Exiting and always
// implies local resources were released.
type State int

const (
	StateIdle State = iota
	StateInitializing
	StateJoining
	StateActive
	StateExiting
	StateClosed
	StateErrored
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateInitializing:
		return "initializing"
	case StateJoining:
		return "joining"
	case StateActive:
		return "active"
	case StateExiting:
		return "exiting"
	case StateClosed:
		return "closed"
	case StateErrored:
		return "errored"
	}
	return "unknown"
}

const (
	// maxBindRetries bounds the video sink retry loop.
	maxBindRetries = 5
	// screenShareView is the fixed shared sink for screen-share feeds.
	screenShareView = "meet-video"
)

// RosterAPI is the consumed surface of the backend participant API.
type RosterAPI interface {
	AddOutParticipant(ctx context.Context, meetID domain.MeetID, pid domain.ParticipantID, info roster.ParticipantInfo) error
	RemoveOutParticipant(ctx context.Context, meetID domain.MeetID, pid domain.ParticipantID) error
	GetParticipants(ctx context.Context, meetID domain.MeetID) (*domain.Roster, error)
}

// Snapshot is the orchestrator's externally visible state. Replaced
// atomically, never patched in place.
type Snapshot struct {
	State          string               `json:"state"`
	UserID         string               `json:"userId"`
	Participants   []domain.Participant `json:"participants"`
	VideoStates    map[string]bool      `json:"videoStates"`
	Microphone     bool                 `json:"microphone"`
	Camera         bool                 `json:"camera"`
	ScreenShare    bool                 `json:"screenShare"`
	CanMicrophone  bool                 `json:"canMicrophone"`
	CanCamera      bool                 `json:"canCamera"`
	CanScreenShare bool                 `json:"canScreenShare"`
	Network        string               `json:"network"`
	Ended          bool                 `json:"ended"`
}

// Orchestrator drives one participant's meeting session. All mutable
// session state is owned by a single event-loop goroutine; transport
// callbacks, timers and public methods post closures into it.
type Orchestrator struct {
	Registry *rtc.Registry
	Roster   RosterAPI
	Sinks    SinkRegistry
	// OnLeave signals the caller to navigate away. Called outside the
	// loop, never nil after New.
	OnLeave func(reason string)

	retryDelay   time.Duration
	refetchDelay time.Duration
	settleDelay  time.Duration

	events chan func()
	done   chan struct{}

	// Everything below is loop-owned.
	state         State
	meetID        domain.MeetID
	roomID        uint32
	userID        domain.SessionID
	participantID domain.ParticipantID
	registered    bool
	perms         rtc.MediaPermissions
	mic           bool
	cam           bool
	screen        bool
	screenBusy    bool
	network       string
	ended         bool
	identityMap   map[domain.SessionID]domain.ParticipantID
	videoStates   map[domain.ParticipantID]bool
	participants  []domain.Participant
	departed      map[domain.ParticipantID]bool
	notify        func(Snapshot)
}

func New(registry *rtc.Registry, rosterAPI RosterAPI, sinks SinkRegistry) *Orchestrator {
	return &Orchestrator{
		Registry:     registry,
		Roster:       rosterAPI,
		Sinks:        sinks,
		OnLeave:      func(string) {},
		retryDelay:   200 * time.Millisecond,
		refetchDelay: 500 * time.Millisecond,
		settleDelay:  200 * time.Millisecond,
		events:       make(chan func(), 64),
		done:         make(chan struct{}),
		identityMap:  make(map[domain.SessionID]domain.ParticipantID),
		videoStates:  make(map[domain.ParticipantID]bool),
		departed:     make(map[domain.ParticipantID]bool),
	}
}

// Run processes the event loop until ctx is done. Must be started
// before any other method is used.
func (o *Orchestrator) Run(ctx context.Context) {
	defer close(o.done)
	for {
		select {
		case <-ctx.Done():
			return
		case fn := <-o.events:
			fn()
		}
	}
}

// post hands fn to the loop; no-op once the loop has stopped.
func (o *Orchestrator) post(fn func()) {
	select {
	case o.events <- fn:
	case <-o.done:
	}
}

// call runs fn on the loop and waits for it.
func (o *Orchestrator) call(fn func()) {
	ch := make(chan struct{})
	o.post(func() {
		fn()
		close(ch)
	})
	select {
	case <-ch:
	case <-o.done:
	}
}

// after schedules fn on the loop. Every scheduled fn re-checks
// orchestrator state itself; a teardown racing a timer must win.
func (o *Orchestrator) after(d time.Duration, fn func()) {
	time.AfterFunc(d, func() { o.post(fn) })
}

// SetNotify installs the presentation push callback.
func (o *Orchestrator) SetNotify(fn func(Snapshot)) {
	o.call(func() { o.notify = fn })
}

// Snapshot returns a consistent copy of the observable state.
func (o *Orchestrator) Snapshot() Snapshot {
	var snap Snapshot
	o.call(func() { snap = o.snapshotLocked() })
	return snap
}

// snapshotLocked must run on the loop.
func (o *Orchestrator) snapshotLocked() Snapshot {
	parts := make([]domain.Participant, len(o.participants))
	copy(parts, o.participants)
	vs := make(map[string]bool, len(o.videoStates))
	for pid, on := range o.videoStates {
		vs[string(pid)] = on
	}
	return Snapshot{
		State:          o.state.String(),
		UserID:         string(o.userID),
		Participants:   parts,
		VideoStates:    vs,
		Microphone:     o.mic,
		Camera:         o.cam,
		ScreenShare:    o.screen,
		CanMicrophone:  o.perms.Audio,
		CanCamera:      o.perms.Video,
		CanScreenShare: !o.screenBusy,
		Network:        o.network,
		Ended:          o.ended,
	}
}

func (o *Orchestrator) publish() {
	if o.notify != nil {
		o.notify(o.snapshotLocked())
	}
}

// mapped resolves a transport session id to its roster participant id,
// falling back to the session id itself when no mapping exists yet.
func (o *Orchestrator) mapped(sid string) domain.ParticipantID {
	if pid, ok := o.identityMap[domain.SessionID(sid)]; ok {
		return pid
	}
	return domain.ParticipantID(sid)
}

// InitRoom takes the orchestrator from Idle through Joining into
// Active. A nickname is the transient marker the preceding screen
// attaches on first-time entry; when present the session registers
// itself on the roster. Credential or join failure is irrecoverable:
// the orchestrator moves to Errored and signals OnLeave.
func (o *Orchestrator) InitRoom(ctx context.Context, meetID domain.MeetID, roomID uint32, nickname string) error {
	var userID domain.SessionID
	var badState error
	o.call(func() {
		if o.state != StateIdle {
			badState = fmt.Errorf("init in state %s", o.state)
			return
		}
		o.state = StateInitializing
		o.meetID = meetID
		o.roomID = roomID
		userID = domain.SessionID(ident.NewID())
		o.userID = userID
	})
	if badState != nil {
		return badState
	}

	perms, err := o.Registry.CreateRoom(ctx, roomID, string(userID))
	if err != nil {
		o.fail(fmt.Sprintf("credential unavailable: %v", err))
		return err
	}

	o.call(func() {
		o.perms = perms
		o.state = StateJoining
	})
	if !perms.Audio || !perms.Video {
		log.Warn().Str("module", "orch").Bool("audio", perms.Audio).Bool("video", perms.Video).Msg("media permission partially denied")
	}

	if err := o.Registry.JoinRoom(ctx, roomID); err != nil {
		o.fail(fmt.Sprintf("room entry failed: %v", err))
		return err
	}

	o.enterActive(ctx, nickname)
	return nil
}

// fail moves to Errored, releases local state and signals the caller
// to navigate away.
func (o *Orchestrator) fail(reason string) {
	o.call(func() {
		o.state = StateErrored
		o.releaseLocked()
	})
	log.Error().Str("module", "orch").Str("reason", reason).Msg("session errored")
	o.OnLeave(reason)
}

// releaseLocked clears all session-local state. Must run on the loop.
// Unconditional: runs regardless of how far the join got.
func (o *Orchestrator) releaseLocked() {
	o.identityMap = make(map[domain.SessionID]domain.ParticipantID)
	o.videoStates = make(map[domain.ParticipantID]bool)
	o.departed = make(map[domain.ParticipantID]bool)
	o.participants = nil
	o.mic, o.cam, o.screen, o.screenBusy = false, false, false, false
	o.publish()
}
