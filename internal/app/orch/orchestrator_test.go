package orch

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/oztf/meetlink/internal/domain"
	"github.com/oztf/meetlink/internal/roster"
	"github.com/oztf/meetlink/internal/rtc"
)

// stubEngine is a scriptable transport engine.
type stubEngine struct {
	mu            sync.Mutex
	entered       bool
	exited        bool
	closed        bool
	enterErr      error
	audioErr      error
	muted         map[string]bool
	subscribed    []string
	videoViews    []string
	screenStarted bool
	handlers      map[rtc.EventType][]func(rtc.Event)
}

func newStubEngine() *stubEngine {
	return &stubEngine{
		muted:    make(map[string]bool),
		handlers: make(map[rtc.EventType][]func(rtc.Event)),
	}
}

func (s *stubEngine) Enter(_ context.Context, p rtc.EnterParams) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.enterErr != nil {
		return s.enterErr
	}
	s.entered = true
	return nil
}

func (s *stubEngine) Exit(context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.exited = true
	return nil
}

func (s *stubEngine) StartLocalAudio(context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.audioErr
}

func (s *stubEngine) StopLocalAudio(context.Context) error { return nil }

func (s *stubEngine) StartLocalVideo(_ context.Context, view string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.videoViews = append(s.videoViews, view)
	return nil
}

func (s *stubEngine) StopLocalVideo(context.Context) error { return nil }

func (s *stubEngine) MuteRemoteAudio(_ context.Context, userID string, mute bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.muted[userID] = mute
	return nil
}

func (s *stubEngine) SubscribeRemoteVideo(_ context.Context, userID string, _ rtc.StreamType, view string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.subscribed = append(s.subscribed, userID+"@"+view)
	return nil
}

func (s *stubEngine) StartScreenShare(context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.screenStarted = true
	return nil
}

func (s *stubEngine) StopScreenShare(context.Context) error { return nil }

func (s *stubEngine) On(ev rtc.EventType, fn func(rtc.Event)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.handlers[ev] = append(s.handlers[ev], fn)
}

func (s *stubEngine) emit(ev rtc.Event) {
	s.mu.Lock()
	fns := append([]func(rtc.Event){}, s.handlers[ev.Type]...)
	s.mu.Unlock()
	for _, fn := range fns {
		fn(ev)
	}
}

func (s *stubEngine) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
}

type stubCreds struct{ err error }

func (c *stubCreds) Credential(_ context.Context, identity string) (domain.SessionIdentity, error) {
	if c.err != nil {
		return domain.SessionIdentity{}, c.err
	}
	return domain.SessionIdentity{
		SessionID: domain.SessionID(identity),
		AppID:     140000001,
		Signature: "sig",
	}, nil
}

// stubRoster serves scripted rosters and records registration calls.
type stubRoster struct {
	mu        sync.Mutex
	roster    domain.Roster
	getErr    error
	added     []domain.ParticipantID
	removed   []domain.ParticipantID
	removeErr error
}

func (r *stubRoster) AddOutParticipant(_ context.Context, _ domain.MeetID, pid domain.ParticipantID, _ roster.ParticipantInfo) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.added = append(r.added, pid)
	return nil
}

func (r *stubRoster) RemoveOutParticipant(_ context.Context, _ domain.MeetID, pid domain.ParticipantID) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.removed = append(r.removed, pid)
	return r.removeErr
}

func (r *stubRoster) GetParticipants(context.Context, domain.MeetID) (*domain.Roster, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.getErr != nil {
		return nil, r.getErr
	}
	out := r.roster
	return &out, nil
}

func (r *stubRoster) setRoster(ro domain.Roster) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.roster = ro
}

// countingSinks never has a sink and counts lookups.
type countingSinks struct {
	mu    sync.Mutex
	calls []time.Time
}

func (c *countingSinks) Has(string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.calls = append(c.calls, time.Now())
	return false
}

func (c *countingSinks) count() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.calls)
}

type allSinks struct{}

func (allSinks) Has(string) bool { return true }

func newTestOrch(t *testing.T, engine *stubEngine, ros RosterAPI, sinks SinkRegistry) *Orchestrator {
	t.Helper()
	gate := rtc.NewInteractionGate()
	gate.Mark()
	reg := rtc.NewRegistry(
		func() (rtc.Engine, error) { return engine, nil },
		&stubCreds{},
		gate,
		rtc.StaticProber{Audio: true, Video: true},
	)
	o := New(reg, ros, sinks)
	o.retryDelay = 5 * time.Millisecond
	o.refetchDelay = 10 * time.Millisecond
	o.settleDelay = time.Millisecond
	go o.Run(t.Context())
	return o
}

func waitFor(t *testing.T, cond func() bool, msg string) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal(msg)
}

func TestInitRoomFirstEntry(t *testing.T) {
	engine := newStubEngine()
	ros := &stubRoster{}
	o := newTestOrch(t, engine, ros, allSinks{})

	if err := o.InitRoom(t.Context(), "m-1", 42, "Ana"); err != nil {
		t.Fatalf("InitRoom error: %v", err)
	}

	snap := o.Snapshot()
	if snap.State != "active" {
		t.Errorf("state = %q, want active", snap.State)
	}
	if len(snap.UserID) != 18 {
		t.Errorf("userID = %q, want 18 chars", snap.UserID)
	}
	if !snap.CanMicrophone || !snap.CanCamera {
		t.Errorf("capability flags = %v/%v, want granted", snap.CanMicrophone, snap.CanCamera)
	}

	ros.mu.Lock()
	added := len(ros.added)
	ros.mu.Unlock()
	if added != 1 {
		t.Errorf("roster registrations = %d, want 1", added)
	}
	if !engine.entered {
		t.Error("engine never entered the room")
	}
}

func TestInitRoomNoNicknameSkipsRegistration(t *testing.T) {
	engine := newStubEngine()
	ros := &stubRoster{}
	o := newTestOrch(t, engine, ros, allSinks{})

	if err := o.InitRoom(t.Context(), "m-1", 42, ""); err != nil {
		t.Fatalf("InitRoom error: %v", err)
	}
	ros.mu.Lock()
	added := len(ros.added)
	ros.mu.Unlock()
	if added != 0 {
		t.Errorf("roster registrations = %d, want 0 on re-entry", added)
	}
}

func TestInitRoomCredentialFailure(t *testing.T) {
	engine := newStubEngine()
	ros := &stubRoster{}
	gate := rtc.NewInteractionGate()
	gate.Mark()
	reg := rtc.NewRegistry(
		func() (rtc.Engine, error) { return engine, nil },
		&stubCreds{err: domain.ErrNetwork},
		gate,
		rtc.StaticProber{},
	)
	o := New(reg, ros, allSinks{})
	var left string
	var leftMu sync.Mutex
	o.OnLeave = func(reason string) {
		leftMu.Lock()
		left = reason
		leftMu.Unlock()
	}
	go o.Run(t.Context())

	if err := o.InitRoom(t.Context(), "m-1", 42, "Ana"); err == nil {
		t.Fatal("InitRoom = nil, want credential error")
	}
	if snap := o.Snapshot(); snap.State != "errored" {
		t.Errorf("state = %q, want errored", snap.State)
	}
	leftMu.Lock()
	defer leftMu.Unlock()
	if left == "" {
		t.Error("OnLeave never signaled")
	}
}

func TestVideoStateTransitions(t *testing.T) {
	engine := newStubEngine()
	ros := &stubRoster{}
	o := newTestOrch(t, engine, ros, allSinks{})
	if err := o.InitRoom(t.Context(), "m-1", 42, ""); err != nil {
		t.Fatalf("InitRoom error: %v", err)
	}

	engine.emit(rtc.Event{Type: rtc.EventRemoteVideoAvailable, UserID: "peer-1", Stream: rtc.StreamMain})
	waitFor(t, func() bool { return o.Snapshot().VideoStates["peer-1"] }, "video never became available")

	engine.emit(rtc.Event{Type: rtc.EventRemoteVideoUnavailable, UserID: "peer-1", Stream: rtc.StreamMain})
	waitFor(t, func() bool {
		v, ok := o.Snapshot().VideoStates["peer-1"]
		return ok && !v
	}, "video never became unavailable")

	engine.emit(rtc.Event{Type: rtc.EventRemoteVideoAvailable, UserID: "peer-1", Stream: rtc.StreamMain})
	waitFor(t, func() bool { return o.Snapshot().VideoStates["peer-1"] }, "video never came back")

	engine.emit(rtc.Event{Type: rtc.EventRemoteUserExit, UserID: "peer-1"})
	waitFor(t, func() bool {
		_, ok := o.Snapshot().VideoStates["peer-1"]
		return !ok
	}, "exit never cleared video state")
}

func TestExitEventBeatsDelayedRefetch(t *testing.T) {
	engine := newStubEngine()
	ros := &stubRoster{}
	ghost := domain.Participant{
		ParticipantID: "ext-1",
		Name:          "Ghost",
		Origin:        domain.OriginOuter,
		JoinTime:      time.Now(),
	}
	ros.setRoster(domain.Roster{Outer: []domain.Participant{ghost}, Total: 1})

	o := newTestOrch(t, engine, ros, allSinks{})
	if err := o.InitRoom(t.Context(), "m-1", 42, ""); err != nil {
		t.Fatalf("InitRoom error: %v", err)
	}

	engine.emit(rtc.Event{Type: rtc.EventRemoteUserEnter, UserID: "ext-1"})
	waitFor(t, func() bool { return len(o.Snapshot().Participants) == 1 }, "participant never appeared")

	// The backend still lists ext-1, but the exit event must win.
	engine.emit(rtc.Event{Type: rtc.EventRemoteUserExit, UserID: "ext-1"})
	waitFor(t, func() bool { return len(o.Snapshot().Participants) == 0 }, "exit never removed participant")

	// Wait past the delayed re-fetch and confirm no resurrection.
	time.Sleep(100 * time.Millisecond)
	if parts := o.Snapshot().Participants; len(parts) != 0 {
		t.Errorf("stale refetch resurrected %v", parts)
	}
}

func TestRosterFiltersSelfAndMapsInner(t *testing.T) {
	engine := newStubEngine()
	ros := &stubRoster{}
	o := newTestOrch(t, engine, ros, allSinks{})
	if err := o.InitRoom(t.Context(), "m-1", 42, "Ana"); err != nil {
		t.Fatalf("InitRoom error: %v", err)
	}

	ros.mu.Lock()
	selfPID := ros.added[0]
	ros.mu.Unlock()

	ros.setRoster(domain.Roster{
		Inner: []domain.Participant{
			{ParticipantID: "77", Origin: domain.OriginInner, JoinTime: time.Now()},
		},
		Outer: []domain.Participant{
			{ParticipantID: selfPID, Name: "Ana", Origin: domain.OriginOuter, JoinTime: time.Now()},
		},
		Total: 2,
	})

	engine.emit(rtc.Event{Type: rtc.EventRemoteUserEnter, UserID: "77"})
	waitFor(t, func() bool {
		parts := o.Snapshot().Participants
		return len(parts) == 1 && parts[0].ParticipantID == "77"
	}, "roster never reconciled to the single inner row")

	// Missing name falls back to the default.
	if got := o.Snapshot().Participants[0].Name; got != domain.DefaultName {
		t.Errorf("name = %q, want %q", got, domain.DefaultName)
	}

	// Inner participants map transport id == roster id, so the video
	// state lands under the participant id.
	engine.emit(rtc.Event{Type: rtc.EventRemoteVideoAvailable, UserID: "77", Stream: rtc.StreamMain})
	waitFor(t, func() bool { return o.Snapshot().VideoStates["77"] }, "inner mapping never used")
}

func TestBindRetryBudget(t *testing.T) {
	engine := newStubEngine()
	ros := &stubRoster{}
	sinks := &countingSinks{}
	o := newTestOrch(t, engine, ros, sinks)
	if err := o.InitRoom(t.Context(), "m-1", 42, ""); err != nil {
		t.Fatalf("InitRoom error: %v", err)
	}

	start := time.Now()
	engine.emit(rtc.Event{Type: rtc.EventRemoteVideoAvailable, UserID: "abcXYZ123", Stream: rtc.StreamMain})

	// Initial attempt plus exactly 5 retries, then silence.
	waitFor(t, func() bool { return sinks.count() == 6 }, "retry budget never exhausted")
	elapsed := time.Since(start)

	time.Sleep(100 * time.Millisecond)
	if got := sinks.count(); got != 6 {
		t.Errorf("sink lookups = %d, want exactly 6", got)
	}

	// Linear backoff: 1+2+3+4+5 units of the base delay.
	if min := 15 * o.retryDelay; elapsed < min {
		t.Errorf("retries finished in %v, want at least %v", elapsed, min)
	}

	engine.mu.Lock()
	subs := len(engine.subscribed)
	engine.mu.Unlock()
	if subs != 0 {
		t.Errorf("subscribed %d times with no sink mounted", subs)
	}
}

func TestScreenShareTakeover(t *testing.T) {
	engine := newStubEngine()
	ros := &stubRoster{}
	o := newTestOrch(t, engine, ros, allSinks{})
	if err := o.InitRoom(t.Context(), "m-1", 42, ""); err != nil {
		t.Fatalf("InitRoom error: %v", err)
	}

	engine.emit(rtc.Event{Type: rtc.EventRemoteVideoAvailable, UserID: "peer-2", Stream: rtc.StreamSub})
	waitFor(t, func() bool { return !o.Snapshot().CanScreenShare }, "screen share flag never set")

	// New shares are blocked while the sink is taken.
	o.StartScreenShare(t.Context())
	time.Sleep(20 * time.Millisecond)
	engine.mu.Lock()
	started := engine.screenStarted
	engine.mu.Unlock()
	if started {
		t.Error("screen share started while sink in use")
	}

	engine.emit(rtc.Event{Type: rtc.EventScreenShareStopped, UserID: "peer-2"})
	waitFor(t, func() bool { return o.Snapshot().CanScreenShare }, "screen share flag never cleared")

	// The local camera is restored onto the shared sink.
	waitFor(t, func() bool {
		engine.mu.Lock()
		defer engine.mu.Unlock()
		for _, v := range engine.videoViews {
			if v == screenShareView {
				return true
			}
		}
		return false
	}, "local camera never restored")
}

func TestMeetingEndedForcesExit(t *testing.T) {
	engine := newStubEngine()
	ros := &stubRoster{}
	o := newTestOrch(t, engine, ros, allSinks{})
	var left string
	var leftMu sync.Mutex
	o.OnLeave = func(reason string) {
		leftMu.Lock()
		left = reason
		leftMu.Unlock()
	}
	if err := o.InitRoom(t.Context(), "m-1", 42, "Ana"); err != nil {
		t.Fatalf("InitRoom error: %v", err)
	}

	engine.emit(rtc.Event{Type: rtc.EventCustomMessage, CmdID: rtc.CmdMeetingEnded})
	waitFor(t, func() bool { return o.Snapshot().State == "closed" }, "meeting end never closed session")
	waitFor(t, func() bool {
		leftMu.Lock()
		defer leftMu.Unlock()
		return left == "meeting ended"
	}, "OnLeave never signaled")
}

func TestExitReleasesEverything(t *testing.T) {
	engine := newStubEngine()
	ros := &stubRoster{removeErr: errors.New("backend down")}
	o := newTestOrch(t, engine, ros, allSinks{})
	if err := o.InitRoom(t.Context(), "m-1", 42, "Ana"); err != nil {
		t.Fatalf("InitRoom error: %v", err)
	}
	engine.emit(rtc.Event{Type: rtc.EventRemoteVideoAvailable, UserID: "peer-1", Stream: rtc.StreamMain})
	waitFor(t, func() bool { return o.Snapshot().VideoStates["peer-1"] }, "video never available")

	// De-registration failure must not block teardown.
	o.Exit(t.Context())

	snap := o.Snapshot()
	if snap.State != "closed" {
		t.Errorf("state = %q, want closed", snap.State)
	}
	if len(snap.VideoStates) != 0 || len(snap.Participants) != 0 {
		t.Errorf("maps not cleared: %+v", snap)
	}
	if !engine.exited || !engine.closed {
		t.Errorf("engine exited=%v closed=%v, want both", engine.exited, engine.closed)
	}
	if o.Registry.HasRoom(42) {
		t.Error("engine handle retained after exit")
	}
}

func TestExitNeverJoinedStillReleases(t *testing.T) {
	engine := newStubEngine()
	engine.enterErr = errors.New("transport rejected join")
	ros := &stubRoster{}
	o := newTestOrch(t, engine, ros, allSinks{})

	if err := o.InitRoom(t.Context(), "m-1", 42, "Ana"); err == nil {
		t.Fatal("InitRoom = nil, want join failure")
	}

	// Errored already released; an explicit exit on top must be safe
	// and leave no engine handle behind.
	o.Exit(t.Context())
	if o.Registry.HasRoom(42) {
		t.Error("engine handle retained for never-joined room")
	}
	snap := o.Snapshot()
	if len(snap.VideoStates) != 0 || len(snap.Participants) != 0 {
		t.Errorf("maps not cleared: %+v", snap)
	}
}

func TestToggleMicrophoneReverts(t *testing.T) {
	engine := newStubEngine()
	engine.audioErr = errors.New("no device")
	ros := &stubRoster{}
	o := newTestOrch(t, engine, ros, allSinks{})
	if err := o.InitRoom(t.Context(), "m-1", 42, ""); err != nil {
		t.Fatalf("InitRoom error: %v", err)
	}

	o.ToggleMicrophone(t.Context())
	waitFor(t, func() bool { return !o.Snapshot().Microphone }, "microphone flag never reverted")
}

func TestRosterFetchFailureKeepsSnapshot(t *testing.T) {
	engine := newStubEngine()
	ros := &stubRoster{}
	ros.setRoster(domain.Roster{
		Inner: []domain.Participant{{ParticipantID: "77", Name: "In", Origin: domain.OriginInner}},
		Total: 1,
	})
	o := newTestOrch(t, engine, ros, allSinks{})
	if err := o.InitRoom(t.Context(), "m-1", 42, ""); err != nil {
		t.Fatalf("InitRoom error: %v", err)
	}
	waitFor(t, func() bool { return len(o.Snapshot().Participants) == 1 }, "initial roster never loaded")

	ros.mu.Lock()
	ros.getErr = errors.New("backend down")
	ros.mu.Unlock()

	engine.emit(rtc.Event{Type: rtc.EventRemoteUserEnter, UserID: "88"})
	time.Sleep(100 * time.Millisecond)
	if parts := o.Snapshot().Participants; len(parts) != 1 {
		t.Errorf("failed fetch overwrote snapshot: %v", parts)
	}
}
