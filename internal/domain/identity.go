package domain

// SessionIdentity is the local participant's transport identity: the
// session id it joins under plus the signed credential authorizing it.
// Created once per join attempt and replaced whenever a different
// identity is supplied mid-session.
type SessionIdentity struct {
	SessionID SessionID
	AppID     int
	Signature string
}

// Valid reports whether the identity carries a usable credential.
// An empty signature is the issuer's failure sentinel and must never
// be handed to the transport.
func (s SessionIdentity) Valid() bool {
	return s.SessionID != "" && s.AppID > 0 && s.Signature != ""
}
