// Package access decides whether a caller may act on a bag.
//
// Every bag-scoped operation (metadata, file listing, upload, chat read,
// chat write, chat sync) goes through IsAuthorized.
package access

import (
	"fmt"

	"github.com/drivebags/drivebags-go/internal/components/identity"
	"github.com/drivebags/drivebags-go/internal/components/membership"
)

// Policy is a bag's access policy.
type Policy string

const (
	Private Policy = "private"
	Invite  Policy = "invite"
	Request Policy = "request"
	Public  Policy = "public"
)

// ParsePolicy accepts the four policy names. An empty string yields Private.
func ParsePolicy(s string) (Policy, error) {
	switch p := Policy(s); p {
	case "":
		return Private, nil
	case Private, Invite, Request, Public:
		return p, nil
	default:
		return "", fmt.Errorf("unknown access type %q", s)
	}
}

// Restricted reports whether the allow-list is consulted under p.
// Moving a bag into a restricted policy clears its allow-list.
func (p Policy) Restricted() bool {
	return p != Public
}

// Subject is the part of a bag the decision depends on.
// Members holds emails keyed by Keyer, which also keys the caller.
// A nil Keyer means membership.Default.
type Subject struct {
	HostUID string
	Policy  Policy
	Members []string
	Keyer   membership.Keyer
}

func (s Subject) keyer() membership.Keyer {
	if s.Keyer == nil {
		return membership.Default
	}
	return s.Keyer
}

// Reasons reported in a Decision.
const (
	ReasonHost   = "host"
	ReasonPublic = "public"
	ReasonMember = "member"
	ReasonDenied = "denied"
)

// Decision is the outcome of Evaluate.
type Decision struct {
	Allowed bool
	Reason  string

	// CanRequest is set on denial when the bag accepts access requests.
	CanRequest bool
}

// Evaluate applies, in order: host, public, allow-list, deny.
func Evaluate(s Subject, p identity.Principal) Decision {
	if p.UID != "" && p.UID == s.HostUID {
		return Decision{Allowed: true, Reason: ReasonHost}
	}
	if s.Policy == Public {
		return Decision{Allowed: true, Reason: ReasonPublic}
	}
	if key := membership.MustKey(s.keyer(), p.Email); key != "" {
		for _, m := range s.Members {
			if m == key {
				return Decision{Allowed: true, Reason: ReasonMember}
			}
		}
	}
	return Decision{Reason: ReasonDenied, CanRequest: s.Policy == Request}
}

// IsAuthorized reports whether p may act on the bag described by s.
func IsAuthorized(s Subject, p identity.Principal) bool {
	return Evaluate(s, p).Allowed
}
