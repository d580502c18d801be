package roster

import (
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/oztf/meetlink/internal/domain"
)

func envelopeOK(data any) []byte {
	raw, _ := json.Marshal(map[string]any{
		"meta": map[string]string{"code": "1024-S200", "message": "ok"},
		"data": data,
	})
	return raw
}

func TestGetParticipants(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/meet/get-meeting-participants" {
			t.Errorf("path = %s", r.URL.Path)
		}
		var req map[string]string
		_ = json.NewDecoder(r.Body).Decode(&req)
		if req["meetId"] != "m-1" {
			t.Errorf("meetId = %s, want m-1", req["meetId"])
		}
		w.Write(envelopeOK(map[string]any{
			"innerParticipants": []map[string]any{
				{"participantId": "42", "name": "Ana", "device": "iOS", "type": "inner", "joinTime": "2026-01-02T10:00:00Z"},
			},
			"outParticipants": []map[string]any{
				{"participantId": "12345678abDEfg9042", "name": "Bo", "device": "Linux - Firefox", "type": "out", "joinTime": "2026-01-02T10:05:00Z"},
			},
			"totalCount": 2,
		}))
	}))
	defer srv.Close()

	c := NewClient(srv.URL)
	r, err := c.GetParticipants(t.Context(), "m-1")
	if err != nil {
		t.Fatalf("GetParticipants error: %v", err)
	}
	if len(r.Inner) != 1 || len(r.Outer) != 1 {
		t.Fatalf("roster sizes = %d/%d, want 1/1", len(r.Inner), len(r.Outer))
	}
	if r.Inner[0].Origin != domain.OriginInner {
		t.Errorf("inner origin = %q", r.Inner[0].Origin)
	}
	if r.Outer[0].ParticipantID != "12345678abDEfg9042" {
		t.Errorf("outer id = %q", r.Outer[0].ParticipantID)
	}
}

func TestBackendErrorCode(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		raw, _ := json.Marshal(map[string]any{
			"meta": map[string]string{"code": "1024-E500", "message": "boom"},
		})
		w.Write(raw)
	}))
	defer srv.Close()

	c := NewClient(srv.URL)
	if _, err := c.GetParticipants(t.Context(), "m-1"); !errors.Is(err, domain.ErrNetwork) {
		t.Errorf("error = %v, want ErrNetwork", err)
	}
}

func TestCredential(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/meet/generate-user-sig" {
			t.Errorf("path = %s", r.URL.Path)
		}
		w.Write(envelopeOK(map[string]any{"sdkAppId": 140000001, "userSig": "sig-abc"}))
	}))
	defer srv.Close()

	c := NewClient(srv.URL)
	id, err := c.Credential(t.Context(), "user-1")
	if err != nil {
		t.Fatalf("Credential error: %v", err)
	}
	if !id.Valid() {
		t.Errorf("identity not valid: %+v", id)
	}
	if id.AppID != 140000001 || id.Signature != "sig-abc" {
		t.Errorf("identity = %+v", id)
	}
}

func TestCredentialEmptySig(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write(envelopeOK(map[string]any{"sdkAppId": 140000001, "userSig": ""}))
	}))
	defer srv.Close()

	c := NewClient(srv.URL)
	if _, err := c.Credential(t.Context(), "user-1"); !errors.Is(err, domain.ErrAuthentication) {
		t.Errorf("error = %v, want ErrAuthentication", err)
	}
}

func TestRemoveOutParticipantTolerant(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	c := NewClient(srv.URL)
	// Error is reported but must be safe to ignore; blank ids are a no-op.
	if err := c.RemoveOutParticipant(t.Context(), "m-1", "p-1"); !errors.Is(err, domain.ErrNetwork) {
		t.Errorf("error = %v, want ErrNetwork", err)
	}
	if err := c.RemoveOutParticipant(t.Context(), "", ""); err != nil {
		t.Errorf("blank remove error = %v, want nil", err)
	}
}

func TestAddOutParticipantEncodesInfo(t *testing.T) {
	var got map[string]string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewDecoder(r.Body).Decode(&got)
		w.Write(envelopeOK(nil))
	}))
	defer srv.Close()

	c := NewClient(srv.URL)
	info := ParticipantInfo{Name: "Cleo", Device: "Linux - Chrome", JoinTime: time.Date(2026, 1, 2, 10, 0, 0, 0, time.UTC)}
	if err := c.AddOutParticipant(t.Context(), "m-1", "p-9", info); err != nil {
		t.Fatalf("AddOutParticipant error: %v", err)
	}
	// participantInfo travels as a JSON string, like the original API.
	var decoded ParticipantInfo
	if err := json.Unmarshal([]byte(got["participantInfo"]), &decoded); err != nil {
		t.Fatalf("participantInfo not a JSON string: %v", err)
	}
	if decoded.Name != "Cleo" {
		t.Errorf("name = %q", decoded.Name)
	}
}
