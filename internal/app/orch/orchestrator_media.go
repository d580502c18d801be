package orch

import (
	"context"
	"strings"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/oztf/meetlink/internal/domain"
	"github.com/oztf/meetlink/internal/rtc"
)

// subscribeEvents wires the transport event stream into the loop.
// Events arrive in arbitrary order relative to roster fetches; every
// handler is idempotent.
func (o *Orchestrator) subscribeEvents() {
	var roomID uint32
	o.call(func() { roomID = o.roomID })

	sub := func(ev rtc.EventType, h func(rtc.Event)) {
		err := o.Registry.On(roomID, ev, func(e rtc.Event) {
			o.post(func() { h(e) })
		})
		if err != nil {
			log.Error().Err(err).Str("module", "orch").Str("event", string(ev)).Msg("event subscription failed")
		}
	}

	sub(rtc.EventRemoteAudioAvailable, o.onRemoteAudioAvailable)
	sub(rtc.EventRemoteVideoAvailable, o.onRemoteVideoAvailable)
	sub(rtc.EventRemoteVideoUnavailable, o.onRemoteVideoUnavailable)
	sub(rtc.EventScreenShareStopped, o.onScreenShareStopped)
	sub(rtc.EventRemoteUserEnter, o.onRemoteUserEnter)
	sub(rtc.EventRemoteUserExit, o.onRemoteUserExit)
	sub(rtc.EventCustomMessage, o.onCustomMessage)
	sub(rtc.EventNetworkQuality, o.onNetworkQuality)
}

func (o *Orchestrator) onRemoteAudioAvailable(e rtc.Event) {
	roomID := o.roomID
	go func() {
		if err := o.Registry.MuteRemoteAudio(context.Background(), roomID, e.UserID, false); err != nil {
			log.Warn().Err(err).Str("module", "orch").Str("user", e.UserID).Msg("unmute remote audio failed")
		}
	}()
}

func (o *Orchestrator) onRemoteVideoAvailable(e rtc.Event) {
	if e.UserID == string(o.userID) {
		return
	}
	if e.Stream == rtc.StreamMain {
		pid := o.mapped(e.UserID)
		o.videoStates[pid] = true
		o.publish()
		o.bindVideo(e.UserID, rtc.StreamMain, string(pid)+"_remote_video", 0)
		return
	}

	// Screen share takes over the shared sink; the local camera view
	// yields until the share stops.
	roomID := o.roomID
	go func() {
		if err := o.Registry.CloseLocalVideo(context.Background(), roomID); err != nil {
			log.Debug().Err(err).Str("module", "orch").Msg("close local video for screen share")
		}
	}()
	o.screenBusy = true
	o.publish()
	o.bindVideo(e.UserID, rtc.StreamSub, screenShareView, 0)
}

// bindVideo binds a remote feed to its sink. If the sink is not mounted
// yet it retries up to maxBindRetries times with linearly increasing
// backoff, then gives up silently: the next availability event starts
// over from zero. Runs on the loop.
func (o *Orchestrator) bindVideo(sid string, stream rtc.StreamType, view string, attempt int) {
	if o.state != StateActive && o.state != StateJoining {
		return
	}

	if !o.Sinks.Has(view) {
		if attempt < maxBindRetries {
			delay := o.retryDelay * time.Duration(attempt+1)
			o.after(delay, func() { o.bindVideo(sid, stream, view, attempt+1) })
			return
		}
		log.Debug().Str("module", "orch").Str("view", view).Msg("sink never appeared, dropping bind")
		return
	}

	roomID := o.roomID
	go func() {
		err := o.Registry.SubscribeRemoteVideo(context.Background(), roomID, sid, stream, view)
		if err != nil {
			// Not published yet: stay quiet and wait for the next event.
			if strings.Contains(err.Error(), "does not publishing stream") {
				return
			}
			log.Warn().Err(err).Str("module", "orch").Str("user", sid).Str("view", view).Msg("remote video bind failed")
		}
	}()
}

func (o *Orchestrator) onRemoteVideoUnavailable(e rtc.Event) {
	if e.UserID == string(o.userID) {
		return
	}
	if e.Stream == rtc.StreamSub {
		o.restoreLocalCamera()
		return
	}
	pid := o.mapped(e.UserID)
	o.videoStates[pid] = false
	o.publish()
}

func (o *Orchestrator) onScreenShareStopped(rtc.Event) {
	o.restoreLocalCamera()
}

// restoreLocalCamera clears the screen-share takeover and puts the
// local camera back on the shared sink. Runs on the loop.
func (o *Orchestrator) restoreLocalCamera() {
	o.screenBusy = false
	roomID := o.roomID
	go func() {
		if err := o.Registry.OpenLocalVideo(context.Background(), roomID, screenShareView); err != nil {
			log.Debug().Err(err).Str("module", "orch").Msg("restore local camera")
		}
	}()
	o.publish()
}

func (o *Orchestrator) onRemoteUserEnter(e rtc.Event) {
	// Unmute preemptively, before their audio-available event.
	o.onRemoteAudioAvailable(e)

	pid := o.mapped(e.UserID)
	delete(o.departed, pid)
	delete(o.departed, domain.ParticipantID(e.UserID))

	// Eager subscription: their camera may already be publishing.
	o.bindVideo(e.UserID, rtc.StreamMain, string(pid)+"_remote_video", 0)

	// The roster may not list a just-joined external participant yet.
	o.scheduleRefetch(e.UserID)
}

func (o *Orchestrator) onRemoteUserExit(e rtc.Event) {
	sid := domain.SessionID(e.UserID)
	pid := o.mapped(e.UserID)
	delete(o.identityMap, sid)
	delete(o.videoStates, pid)
	// Exit takes precedence locally over any in-flight roster fetch.
	o.departed[pid] = true
	o.publish()
	o.scheduleRefetch("")
}

// scheduleRefetch queues the delayed roster re-fetch that absorbs
// backend write-then-read lag. Best-effort convergence, not a
// correctness guarantee. Runs on the loop.
func (o *Orchestrator) scheduleRefetch(enteredSID string) {
	o.after(o.refetchDelay, func() {
		if o.state != StateActive {
			return
		}
		go o.fetchAndReconcile(context.Background(), enteredSID)
	})
}

func (o *Orchestrator) onCustomMessage(e rtc.Event) {
	if e.CmdID != rtc.CmdMeetingEnded {
		return
	}
	o.ended = true
	o.publish()
	go func() {
		o.Exit(context.Background())
		o.OnLeave("meeting ended")
	}()
}

func (o *Orchestrator) onNetworkQuality(e rtc.Event) {
	o.network = e.Quality
	o.publish()
}

// ToggleMicrophone flips the mic and drives the transport. The flag
// reverts if the transport call fails.
func (o *Orchestrator) ToggleMicrophone(ctx context.Context) {
	var on bool
	var roomID uint32
	o.call(func() {
		o.mic = !o.mic
		on = o.mic
		roomID = o.roomID
		o.publish()
	})
	go func() {
		var err error
		if on {
			err = o.Registry.OpenLocalAudio(ctx, roomID)
		} else {
			err = o.Registry.CloseLocalAudio(ctx, roomID)
		}
		if err != nil {
			log.Warn().Err(err).Str("module", "orch").Bool("on", on).Msg("toggle microphone failed")
			o.post(func() {
				o.mic = !on
				o.publish()
			})
		}
	}()
}

// ToggleCamera flips the camera onto the given sink. Only a failed
// open reverts; a failed close keeps the off state.
func (o *Orchestrator) ToggleCamera(ctx context.Context, view string) {
	var on bool
	var roomID uint32
	o.call(func() {
		o.cam = !o.cam
		on = o.cam
		roomID = o.roomID
		o.publish()
	})
	go func() {
		if on {
			if err := o.Registry.OpenLocalVideo(ctx, roomID, view); err != nil {
				log.Warn().Err(err).Str("module", "orch").Msg("open camera failed")
				o.post(func() {
					o.cam = false
					o.publish()
				})
			}
			return
		}
		if err := o.Registry.CloseLocalVideo(ctx, roomID); err != nil {
			log.Warn().Err(err).Str("module", "orch").Msg("close camera failed")
		}
	}()
}

// StartScreenShare begins sharing unless another participant already
// holds the shared sink.
func (o *Orchestrator) StartScreenShare(ctx context.Context) {
	var blocked bool
	var roomID uint32
	o.call(func() {
		blocked = o.screenBusy
		roomID = o.roomID
	})
	if blocked {
		log.Info().Str("module", "orch").Msg("screen share blocked, sink in use")
		return
	}
	go func() {
		if err := o.Registry.StartScreenShare(ctx, roomID); err != nil {
			log.Warn().Err(err).Str("module", "orch").Msg("start screen share failed")
			return
		}
		o.post(func() {
			o.screen = true
			o.publish()
		})
	}()
}

func (o *Orchestrator) StopScreenShare(ctx context.Context) {
	var roomID uint32
	o.call(func() { roomID = o.roomID })
	go func() {
		if err := o.Registry.StopScreenShare(ctx, roomID); err != nil {
			log.Warn().Err(err).Str("module", "orch").Msg("stop screen share failed")
			return
		}
		o.post(func() {
			o.screen = false
			o.publish()
		})
	}()
}
