package domain

import "strings"

// ReusePolicyMode selects how far the breach response reaches when a retired refresh token is replayed.
type ReusePolicyMode string

const (
	// ReusePolicyRevokeSession revokes the token family and the owning session.
	ReusePolicyRevokeSession ReusePolicyMode = "revoke_session"
	// ReusePolicyRevokeFamily revokes only the token family.
	ReusePolicyRevokeFamily ReusePolicyMode = "revoke_family"
)

// ReusePolicy centralises the reaction to refresh token reuse.
type ReusePolicy struct {
	mode ReusePolicyMode
}

// NewReusePolicy constructs a policy, defaulting to the stronger session revocation.
func NewReusePolicy(mode ReusePolicyMode) ReusePolicy {
	if mode != ReusePolicyRevokeFamily {
		mode = ReusePolicyRevokeSession
	}
	return ReusePolicy{mode: mode}
}

// ParseReusePolicyMode normalises textual input into a supported mode.
func ParseReusePolicyMode(value string) ReusePolicyMode {
	switch strings.ToLower(strings.TrimSpace(value)) {
	case string(ReusePolicyRevokeFamily):
		return ReusePolicyRevokeFamily
	default:
		return ReusePolicyRevokeSession
	}
}

// Mode returns the underlying policy mode.
func (p ReusePolicy) Mode() ReusePolicyMode {
	if p.mode == "" {
		return ReusePolicyRevokeSession
	}
	return p.mode
}

// RevokesSession reports whether reuse also terminates the owning session.
func (p ReusePolicy) RevokesSession() bool {
	return p.Mode() == ReusePolicyRevokeSession
}
