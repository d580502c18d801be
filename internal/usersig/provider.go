package usersig

import (
	"context"
	"fmt"
	"time"

	"github.com/oztf/meetlink/internal/domain"
	"github.com/rs/zerolog/log"
)

// DevProvider signs credentials locally from a configured secret. It is
// a development fallback only: production credentials come from the
// backend, which exclusively holds the signing secret. The constructor
// refuses to build one outside dev mode so the path cannot be wired
// into a release binary by accident.
type DevProvider struct {
	appID  int
	secret string
	ttl    time.Duration
}

func NewDevProvider(mode string, appID int, secret string, ttl time.Duration) (*DevProvider, error) {
	if mode != "dev" {
		return nil, fmt.Errorf("local credential signing is dev-only, mode is %q", mode)
	}
	if appID <= 0 || secret == "" {
		return nil, fmt.Errorf("dev provider needs sdk_app_id and dev_secret: %w", domain.ErrAuthentication)
	}
	log.Warn().Str("module", "usersig").Msg("using local dev credential signing")
	return &DevProvider{appID: appID, secret: secret, ttl: ttl}, nil
}

func (p *DevProvider) Credential(_ context.Context, identity string) (domain.SessionIdentity, error) {
	sig := Issue(p.appID, identity, p.secret, p.ttl)
	if sig == "" {
		return domain.SessionIdentity{}, fmt.Errorf("issue dev sig for %q: %w", identity, domain.ErrAuthentication)
	}
	return domain.SessionIdentity{
		SessionID: domain.SessionID(identity),
		AppID:     p.appID,
		Signature: sig,
	}, nil
}
