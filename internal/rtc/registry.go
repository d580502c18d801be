package rtc

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/rs/zerolog/log"

	"github.com/oztf/meetlink/internal/domain"
	"github.com/oztf/meetlink/internal/ident"
)

// RoomState tracks one room's lifecycle inside the registry. Closed
// rooms are removed entirely; a later CreateRoom starts fresh.
type RoomState int

const (
	StateAbsent RoomState = iota
	StateCreated
	StateJoined
	StateClosed
)

// CredentialProvider supplies a signed identity for a given identity
// string. Production implementation is the roster backend client; a
// dev-only local signer exists behind a mode gate.
type CredentialProvider interface {
	Credential(ctx context.Context, identity string) (domain.SessionIdentity, error)
}

// MediaPermissions records per-track device access. Denial is never
// fatal; it surfaces as disabled capability flags.
type MediaPermissions struct {
	Audio bool
	Video bool
}

// MediaProber requests host media permissions. Abstracted because the
// actual device prompt belongs to the presentation host.
type MediaProber interface {
	Request(ctx context.Context) (MediaPermissions, error)
}

// StaticProber reports fixed permissions without prompting.
type StaticProber MediaPermissions

func (p StaticProber) Request(context.Context) (MediaPermissions, error) {
	return MediaPermissions(p), nil
}

type roomEntry struct {
	engine Engine
	state  RoomState
}

// Registry owns zero-or-more live engine instances keyed by numeric
// room id. It lazily initializes on first use, gated on a user
// interaction, and caches the current session identity.
type Registry struct {
	factory EngineFactory
	creds   CredentialProvider
	gate    *InteractionGate
	prober  MediaProber

	mu          sync.RWMutex
	rooms       map[uint32]*roomEntry
	identity    domain.SessionIdentity
	initialized bool
}

func NewRegistry(factory EngineFactory, creds CredentialProvider, gate *InteractionGate, prober MediaProber) *Registry {
	return &Registry{
		factory: factory,
		creds:   creds,
		gate:    gate,
		prober:  prober,
		rooms:   make(map[uint32]*roomEntry),
	}
}

// Identity returns the currently cached session identity.
func (r *Registry) Identity() domain.SessionIdentity {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.identity
}

// ensureInitialized waits for the interaction gate, then fetches a
// credential for identity. A new identity mid-session invalidates the
// cached credential and forces a re-fetch.
func (r *Registry) ensureInitialized(ctx context.Context, identity string) error {
	r.mu.RLock()
	current := r.identity
	done := r.initialized
	r.mu.RUnlock()

	if done && (identity == "" || domain.SessionID(identity) == current.SessionID) {
		return nil
	}

	if err := r.gate.Wait(ctx); err != nil {
		return fmt.Errorf("waiting for user interaction: %w", err)
	}

	if identity == "" {
		identity = string(current.SessionID)
	}
	if identity == "" {
		identity = ident.NewID()
	}

	id, err := r.creds.Credential(ctx, identity)
	if err != nil {
		return fmt.Errorf("fetch credential: %w", err)
	}
	if !id.Valid() {
		return fmt.Errorf("credential for %q: %w", identity, domain.ErrAuthentication)
	}

	r.mu.Lock()
	r.identity = id
	r.initialized = true
	r.mu.Unlock()
	log.Info().Str("module", "rtc.registry").Str("identity", identity).Msg("initialized transport identity")
	return nil
}

// CreateRoom instantiates an engine for roomID (Absent -> Created) and
// requests media permissions. Callers that need idempotence check
// HasRoom first.
func (r *Registry) CreateRoom(ctx context.Context, roomID uint32, identity string) (MediaPermissions, error) {
	if err := r.ensureInitialized(ctx, identity); err != nil {
		return MediaPermissions{}, err
	}

	engine, err := r.factory()
	if err != nil {
		return MediaPermissions{}, fmt.Errorf("create engine for room %d: %w", roomID, err)
	}

	r.mu.Lock()
	r.rooms[roomID] = &roomEntry{engine: engine, state: StateCreated}
	r.mu.Unlock()
	log.Info().Str("module", "rtc.registry").Uint32("room", roomID).Msg("room created")

	perms, err := r.prober.Request(ctx)
	if err != nil {
		// Permission trouble downgrades capabilities, never aborts.
		log.Warn().Err(err).Str("module", "rtc.registry").Uint32("room", roomID).Msg("media permission request failed")
		return MediaPermissions{}, nil
	}
	return perms, nil
}

func (r *Registry) HasRoom(roomID uint32) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.rooms[roomID]
	return ok
}

// JoinRoom enters the transport room (Created -> Joined) using the
// cached credential.
func (r *Registry) JoinRoom(ctx context.Context, roomID uint32) error {
	r.mu.RLock()
	entry, ok := r.rooms[roomID]
	id := r.identity
	r.mu.RUnlock()
	if !ok || entry.state != StateCreated {
		return fmt.Errorf("join room %d: %w", roomID, domain.ErrRoomNotFound)
	}
	if !id.Valid() {
		return fmt.Errorf("join room %d: %w", roomID, domain.ErrAuthentication)
	}

	err := entry.engine.Enter(ctx, EnterParams{
		AppID:   id.AppID,
		UserID:  string(id.SessionID),
		UserSig: id.Signature,
		RoomID:  roomID,
	})
	if err != nil {
		return fmt.Errorf("enter room %d: %w", roomID, err)
	}

	r.mu.Lock()
	entry.state = StateJoined
	r.mu.Unlock()
	log.Info().Str("module", "rtc.registry").Uint32("room", roomID).Msg("room joined")
	return nil
}

// ExitRoom performs the remote leave, releases the engine and removes
// the entry. The local release happens even when the remote leave
// fails.
func (r *Registry) ExitRoom(ctx context.Context, roomID uint32) error {
	r.mu.Lock()
	entry, ok := r.rooms[roomID]
	if ok {
		entry.state = StateClosed
		delete(r.rooms, roomID)
	}
	r.mu.Unlock()
	if !ok {
		return fmt.Errorf("exit room %d: %w", roomID, domain.ErrRoomNotFound)
	}

	err := entry.engine.Exit(ctx)
	entry.engine.Close()
	if err != nil {
		return fmt.Errorf("exit room %d: %w", roomID, err)
	}
	log.Info().Str("module", "rtc.registry").Uint32("room", roomID).Msg("room exited")
	return nil
}

// CloseRoom drops the room entry without a remote leave.
func (r *Registry) CloseRoom(roomID uint32) {
	r.mu.Lock()
	entry, ok := r.rooms[roomID]
	delete(r.rooms, roomID)
	r.mu.Unlock()
	if ok {
		entry.engine.Close()
	}
}

// joined returns the engine for roomID only when the room is Joined.
func (r *Registry) joined(roomID uint32) (Engine, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	entry, ok := r.rooms[roomID]
	if !ok || entry.state != StateJoined {
		return nil, fmt.Errorf("room %d: %w", roomID, domain.ErrRoomNotFound)
	}
	return entry.engine, nil
}

func (r *Registry) OpenLocalAudio(ctx context.Context, roomID uint32) error {
	e, err := r.joined(roomID)
	if err != nil {
		return err
	}
	return e.StartLocalAudio(ctx)
}

func (r *Registry) CloseLocalAudio(ctx context.Context, roomID uint32) error {
	e, err := r.joined(roomID)
	if err != nil {
		return err
	}
	return e.StopLocalAudio(ctx)
}

func (r *Registry) OpenLocalVideo(ctx context.Context, roomID uint32, view string) error {
	e, err := r.joined(roomID)
	if err != nil {
		return err
	}
	return e.StartLocalVideo(ctx, view)
}

func (r *Registry) CloseLocalVideo(ctx context.Context, roomID uint32) error {
	e, err := r.joined(roomID)
	if err != nil {
		return err
	}
	return e.StopLocalVideo(ctx)
}

func (r *Registry) MuteRemoteAudio(ctx context.Context, roomID uint32, userID string, mute bool) error {
	e, err := r.joined(roomID)
	if err != nil {
		return err
	}
	return e.MuteRemoteAudio(ctx, userID, mute)
}

func (r *Registry) SubscribeRemoteVideo(ctx context.Context, roomID uint32, userID string, stream StreamType, view string) error {
	e, err := r.joined(roomID)
	if err != nil {
		return err
	}
	return e.SubscribeRemoteVideo(ctx, userID, stream, view)
}

func (r *Registry) StartScreenShare(ctx context.Context, roomID uint32) error {
	e, err := r.joined(roomID)
	if err != nil {
		return err
	}
	return e.StartScreenShare(ctx)
}

func (r *Registry) StopScreenShare(ctx context.Context, roomID uint32) error {
	e, err := r.joined(roomID)
	if err != nil {
		return err
	}
	return e.StopScreenShare(ctx)
}

// On subscribes to a room's transport events. Valid only once joined.
func (r *Registry) On(roomID uint32, ev EventType, fn func(Event)) error {
	e, err := r.joined(roomID)
	if err != nil {
		return err
	}
	e.On(ev, fn)
	return nil
}

// IsAuthError reports whether err is a credential problem, for callers
// deciding between re-fetch and navigate-away.
func IsAuthError(err error) bool {
	return errors.Is(err, domain.ErrAuthentication)
}
