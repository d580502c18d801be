package orch

import (
	"context"
	"fmt"
	"runtime"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/oztf/meetlink/internal/domain"
	"github.com/oztf/meetlink/internal/ident"
	"github.com/oztf/meetlink/internal/roster"
)

// enterActive completes the Joining -> Active transition: subscribe to
// transport events, register this session on the roster when this is a
// first-time entry, fetch the initial roster and establish the
// self-identity mapping.
func (o *Orchestrator) enterActive(ctx context.Context, nickname string) {
	var meetID domain.MeetID
	o.call(func() {
		o.state = StateActive
		// The two identity spaces coincide for the local session.
		o.identityMap[o.userID] = domain.ParticipantID(o.userID)
		meetID = o.meetID
	})

	o.subscribeEvents()

	if nickname != "" {
		o.registerSelf(ctx, nickname)
		// Absorb backend write-then-read lag before the first fetch.
		time.Sleep(o.settleDelay)
	}

	o.fetchAndReconcile(ctx, "")
	o.call(func() { o.publish() })
	log.Info().Str("module", "orch").Str("meet", string(meetID)).Msg("session active")
}

// registerSelf upserts this session's external participant record.
// Failure is logged, not fatal: the session stays usable without a
// roster row.
func (o *Orchestrator) registerSelf(ctx context.Context, nickname string) {
	pid := domain.ParticipantID(ident.NewID())
	var meetID domain.MeetID
	o.call(func() {
		o.participantID = pid
		o.registered = true
		meetID = o.meetID
	})

	info := roster.ParticipantInfo{
		Name:     nickname,
		Device:   deviceString(),
		JoinTime: time.Now().UTC(),
	}
	if err := o.Roster.AddOutParticipant(ctx, meetID, pid, info); err != nil {
		log.Warn().Err(err).Str("module", "orch").Str("participant", string(pid)).Msg("self registration failed")
	}
}

func deviceString() string {
	return fmt.Sprintf("%s - meetlink", runtime.GOOS)
}

// fetchAndReconcile pulls the roster and replaces the participant
// snapshot. Runs off the loop; a fetch failure leaves the previous
// snapshot in place. enteredSID, when non-empty, is the transport id of
// a just-entered remote user whose identity mapping should be resolved
// from the fresh roster.
func (o *Orchestrator) fetchAndReconcile(ctx context.Context, enteredSID string) {
	var meetID domain.MeetID
	o.call(func() { meetID = o.meetID })
	if meetID == "" {
		return
	}

	r, err := o.Roster.GetParticipants(ctx, meetID)
	if err != nil {
		log.Warn().Err(err).Str("module", "orch").Msg("roster fetch failed, keeping previous snapshot")
		return
	}
	o.call(func() { o.reconcileLocked(r, enteredSID) })
}

// reconcileLocked merges the backend lists into a fresh participant
// snapshot and rebuilds the identity map opportunistically. Must run on
// the loop. Idempotent and re-entrant: a stale fetch completing after a
// user-exit event must not resurrect the departed participant.
func (o *Orchestrator) reconcileLocked(r *domain.Roster, enteredSID string) {
	if o.state != StateActive {
		return
	}

	// Recognize our own just-registered row when the backend assigned
	// ordering is all we have to go by.
	if o.registered && o.participantID == "" {
		if latest := r.LatestOuter(); latest != nil {
			o.participantID = latest.ParticipantID
		}
	}

	merged := make([]domain.Participant, 0, len(r.Inner)+len(r.Outer))
	merged = append(merged, r.Inner...)
	merged = append(merged, r.Outer...)

	next := make([]domain.Participant, 0, len(merged))
	for _, p := range merged {
		if p.ParticipantID == o.participantID || p.ParticipantID == domain.ParticipantID(o.userID) {
			continue
		}
		if o.departed[p.ParticipantID] {
			continue
		}
		if p.Name == "" {
			p.Name = domain.DefaultName
		}
		next = append(next, p)
	}
	// Atomic replacement so observers always see a consistent snapshot.
	o.participants = next

	for _, p := range next {
		if p.Origin == domain.OriginInner {
			// Internal sessions join the transport under their roster id.
			o.identityMap[domain.SessionID(p.ParticipantID)] = p.ParticipantID
			continue
		}
		// External mapping is established lazily, keyed off the
		// enter event's transport id matching a roster row.
		if enteredSID != "" && string(p.ParticipantID) == enteredSID {
			o.identityMap[domain.SessionID(enteredSID)] = p.ParticipantID
		}
	}

	o.publish()
}

// Exit tears the session down: best-effort roster de-registration,
// transport room exit, then unconditional local release. Never returns
// an error to the caller; teardown failures are logged and suppressed.
// Exiting a room that never joined still releases everything.
func (o *Orchestrator) Exit(ctx context.Context) {
	var (
		meetID  domain.MeetID
		pid     domain.ParticipantID
		roomID  uint32
		already bool
	)
	o.call(func() {
		if o.state == StateExiting || o.state == StateClosed {
			already = true
			return
		}
		o.state = StateExiting
		meetID, pid, roomID = o.meetID, o.participantID, o.roomID
	})
	if already {
		return
	}

	if meetID != "" && pid != "" {
		if err := o.Roster.RemoveOutParticipant(ctx, meetID, pid); err != nil {
			log.Warn().Err(err).Str("module", "orch").Msg("roster de-registration failed")
		}
	}

	if roomID != 0 && o.Registry.HasRoom(roomID) {
		if err := o.Registry.ExitRoom(ctx, roomID); err != nil {
			log.Warn().Err(err).Str("module", "orch").Uint32("room", roomID).Msg("transport exit failed")
		}
	}

	o.call(func() {
		o.state = StateClosed
		o.releaseLocked()
	})
	log.Info().Str("module", "orch").Str("meet", string(meetID)).Msg("session closed")
}
