// Package recovery implements biometric recovery authorization: a challenge
// is issued for an address, the holder signs it with the recovery key
// registered on chain, and a verified signature authorizes a key rotation
// relayed to the resolver contract.
package recovery

import (
	"time"

	"namedir/pkg/domain"
)

// Status is the lifecycle state of a recovery request.
type Status string

const (
	StatusPending    Status = "pending"
	StatusAuthorized Status = "authorized"
	StatusRejected   Status = "rejected"
	StatusExpired    Status = "expired"
)

// Request is one recovery attempt. Requests are retained after decision for
// the audit trail; at most one pending request exists per address.
type Request struct {
	ID             domain.RequestID
	Address        domain.Address
	ChallengeNonce string
	Device         DeviceInfo
	Status         Status
	Reason         string
	TxHash         string
	CreatedAt      time.Time
	ExpiresAt      time.Time
	DecidedAt      time.Time
}

// Expired reports whether the challenge window has closed.
func (r *Request) Expired(now time.Time) bool {
	return now.After(r.ExpiresAt)
}

// Pending reports whether the request can still be submitted.
func (r *Request) Pending() bool {
	return r.Status == StatusPending
}

// DeviceInfo captures where a recovery attempt originated, for the owner's
// review channel and forensics.
type DeviceInfo struct {
	UserAgent string
	Platform  string
	OS        string
	Browser   string
	Mobile    bool
	Bot       bool
}
