// Package roster talks to the backend meeting/participant API. The API
// is an external collaborator: request and response shapes are consumed
// here, never reimplemented.
package roster

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/oztf/meetlink/internal/domain"
	"github.com/rs/zerolog/log"
)

// successCode is the backend's envelope code for a successful call.
const successCode = "1024-S200"

type meta struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

type envelope struct {
	Meta meta            `json:"meta"`
	Data json.RawMessage `json:"data"`
}

// ParticipantInfo is the payload registered for an external participant.
type ParticipantInfo struct {
	Name     string    `json:"name"`
	Device   string    `json:"device"`
	JoinTime time.Time `json:"joinTime"`
}

type Client struct {
	base string
	http *http.Client
}

func NewClient(baseURL string) *Client {
	return &Client{
		base: baseURL,
		http: &http.Client{Timeout: 10 * time.Second},
	}
}

// AddOutParticipant registers an external participant row. The id is
// generated by the caller and passed through.
func (c *Client) AddOutParticipant(ctx context.Context, meetID domain.MeetID, pid domain.ParticipantID, info ParticipantInfo) error {
	infoJSON, err := json.Marshal(info)
	if err != nil {
		return fmt.Errorf("marshal participant info: %w", err)
	}
	req := map[string]string{
		"meetId":          string(meetID),
		"participantId":   string(pid),
		"participantInfo": string(infoJSON),
	}
	_, err = c.post(ctx, "/meet/add-out-participant", req)
	return err
}

// RemoveOutParticipant de-registers an external participant. Failures
// are logged and swallowed: removal must never block teardown.
func (c *Client) RemoveOutParticipant(ctx context.Context, meetID domain.MeetID, pid domain.ParticipantID) error {
	if meetID == "" || pid == "" {
		return nil
	}
	req := map[string]string{"meetId": string(meetID), "participantId": string(pid)}
	if _, err := c.post(ctx, "/meet/remove-out-participant", req); err != nil {
		log.Warn().Err(err).Str("module", "roster").Str("participant", string(pid)).Msg("remove participant failed")
		return err
	}
	return nil
}

// GetParticipants fetches the internal and external rosters for a meeting.
func (c *Client) GetParticipants(ctx context.Context, meetID domain.MeetID) (*domain.Roster, error) {
	data, err := c.post(ctx, "/meet/get-meeting-participants", map[string]string{"meetId": string(meetID)})
	if err != nil {
		return nil, err
	}
	var r domain.Roster
	if err := json.Unmarshal(data, &r); err != nil {
		return nil, fmt.Errorf("parse roster: %w: %w", domain.ErrNetwork, err)
	}
	return &r, nil
}

// GetMeetingInfo fetches meeting status and schedule.
func (c *Client) GetMeetingInfo(ctx context.Context, meetID domain.MeetID) (*domain.Meeting, error) {
	data, err := c.post(ctx, "/meet/get-meeting-by-meetid", map[string]string{"meetId": string(meetID)})
	if err != nil {
		return nil, err
	}
	var m domain.Meeting
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("parse meeting info: %w: %w", domain.ErrNetwork, err)
	}
	return &m, nil
}

type sigResponse struct {
	SDKAppID int    `json:"sdkAppId"`
	UserSig  string `json:"userSig"`
}

// Credential asks the backend to sign a join credential for identity.
// The backend owns the signing secret; this call must succeed before a
// join is allowed.
func (c *Client) Credential(ctx context.Context, identity string) (domain.SessionIdentity, error) {
	data, err := c.post(ctx, "/meet/generate-user-sig", map[string]string{"userId": identity})
	if err != nil {
		return domain.SessionIdentity{}, err
	}
	var sr sigResponse
	if err := json.Unmarshal(data, &sr); err != nil {
		return domain.SessionIdentity{}, fmt.Errorf("parse sig response: %w: %w", domain.ErrNetwork, err)
	}
	if sr.UserSig == "" {
		return domain.SessionIdentity{}, fmt.Errorf("backend returned empty sig: %w", domain.ErrAuthentication)
	}
	return domain.SessionIdentity{
		SessionID: domain.SessionID(identity),
		AppID:     sr.SDKAppID,
		Signature: sr.UserSig,
	}, nil
}

func (c *Client) post(ctx context.Context, path string, body any) (json.RawMessage, error) {
	raw, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.base+path, bytes.NewReader(raw))
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%s: %w: %w", path, domain.ErrNetwork, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("%s: status %d: %w", path, resp.StatusCode, domain.ErrNetwork)
	}
	var env envelope
	if err := json.NewDecoder(resp.Body).Decode(&env); err != nil {
		return nil, fmt.Errorf("%s: decode envelope: %w: %w", path, domain.ErrNetwork, err)
	}
	if env.Meta.Code != successCode {
		return nil, fmt.Errorf("%s: backend code %s (%s): %w", path, env.Meta.Code, env.Meta.Message, domain.ErrNetwork)
	}
	return env.Data, nil
}
