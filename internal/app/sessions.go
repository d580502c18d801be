// Package app wires per-client meeting sessions together: each browser
// client, identified by its token cookie, gets its own transport
// registry, interaction gate, sink set and orchestrator.
package app

import (
	"context"
	"sync"

	"github.com/rs/zerolog/log"

	"github.com/oztf/meetlink/internal/app/orch"
	"github.com/oztf/meetlink/internal/rtc"
)

// Deps are the process-wide collaborators shared by every client
// session.
type Deps struct {
	Factory rtc.EngineFactory
	Creds   rtc.CredentialProvider
	Prober  rtc.MediaProber
	Roster  orch.RosterAPI
}

// Client is one browser client's live session state. The orchestrator
// is single-use: once its session closes the client is dropped and a
// rejoin builds a fresh one.
type Client struct {
	Token string
	Gate  *rtc.InteractionGate
	Sinks *orch.SinkSet
	Orch  *orch.Orchestrator

	cancel context.CancelFunc

	mu       sync.Mutex
	leaveFns []func(reason string)
}

// NotifyLeave registers a listener for the session's leave signal.
func (c *Client) NotifyLeave(fn func(reason string)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.leaveFns = append(c.leaveFns, fn)
}

func (c *Client) broadcastLeave(reason string) {
	c.mu.Lock()
	fns := append([]func(string){}, c.leaveFns...)
	c.mu.Unlock()
	for _, fn := range fns {
		fn(reason)
	}
}

// Manager owns the token -> client mapping.
type Manager struct {
	ctx  context.Context
	deps Deps

	mu      sync.Mutex
	clients map[string]*Client
}

func NewManager(ctx context.Context, deps Deps) *Manager {
	return &Manager{
		ctx:     ctx,
		deps:    deps,
		clients: make(map[string]*Client),
	}
}

// Get returns the client for token, creating and starting it on first
// use.
func (m *Manager) Get(token string) *Client {
	m.mu.Lock()
	defer m.mu.Unlock()

	if c, ok := m.clients[token]; ok {
		return c
	}

	gate := rtc.NewInteractionGate()
	sinks := orch.NewSinkSet()
	registry := rtc.NewRegistry(m.deps.Factory, m.deps.Creds, gate, m.deps.Prober)
	o := orch.New(registry, m.deps.Roster, sinks)

	ctx, cancel := context.WithCancel(m.ctx)
	c := &Client{
		Token:  token,
		Gate:   gate,
		Sinks:  sinks,
		Orch:   o,
		cancel: cancel,
	}
	o.OnLeave = c.broadcastLeave
	go o.Run(ctx)

	m.clients[token] = c
	log.Info().Str("module", "app").Str("token", token).Msg("client session created")
	return c
}

// Peek returns the client for token without creating one.
func (m *Manager) Peek(token string) (*Client, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.clients[token]
	return c, ok
}

// Drop stops and forgets the client for token. The caller is expected
// to have exited the meeting first; Drop only releases process-local
// resources.
func (m *Manager) Drop(token string) {
	m.mu.Lock()
	c, ok := m.clients[token]
	delete(m.clients, token)
	m.mu.Unlock()
	if !ok {
		return
	}
	c.cancel()
	log.Info().Str("module", "app").Str("token", token).Msg("client session dropped")
}
