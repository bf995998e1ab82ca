package access_test

import (
	"strings"
	"testing"

	"github.com/drivebags/drivebags-go/internal/components/access"
	"github.com/drivebags/drivebags-go/internal/components/identity"
)

var (
	host     = identity.Principal{UID: "uid-host", Email: "host@example.com"}
	member   = identity.Principal{UID: "uid-member", Email: "member@example.com"}
	stranger = identity.Principal{UID: "uid-stranger", Email: "stranger@example.com"}
)

var allPolicies = []access.Policy{access.Private, access.Invite, access.Request, access.Public}

func TestHostAlwaysAuthorized(t *testing.T) {
	for _, p := range allPolicies {
		for _, members := range [][]string{nil, {"member@example.com"}} {
			s := access.Subject{HostUID: host.UID, Policy: p, Members: members}
			d := access.Evaluate(s, host)
			if !d.Allowed || d.Reason != access.ReasonHost {
				t.Errorf("policy %s members %v: host got %+v", p, members, d)
			}
		}
	}
}

func TestPublicAuthorizesEveryone(t *testing.T) {
	s := access.Subject{HostUID: host.UID, Policy: access.Public}
	for _, who := range []identity.Principal{member, stranger, {UID: "x", Email: "weird"}} {
		if !access.IsAuthorized(s, who) {
			t.Errorf("public bag denied %+v", who)
		}
	}
}

func TestRestrictedUsesAllowList(t *testing.T) {
	for _, p := range allPolicies {
		if !p.Restricted() {
			continue
		}
		t.Run(string(p), func(t *testing.T) {
			s := access.Subject{HostUID: host.UID, Policy: p, Members: []string{"member@example.com"}}

			if !access.IsAuthorized(s, member) {
				t.Error("member denied")
			}
			if !access.IsAuthorized(s, identity.Principal{UID: "other-uid", Email: "MEMBER@example.com"}) {
				t.Error("membership must follow the email, not the uid")
			}

			d := access.Evaluate(s, stranger)
			if d.Allowed {
				t.Fatal("stranger allowed")
			}
			if d.CanRequest != (p == access.Request) {
				t.Errorf("CanRequest = %v for policy %s", d.CanRequest, p)
			}
		})
	}
}

type upperKeyer struct{}

func (upperKeyer) Key(email string) (string, error) { return strings.ToUpper(email), nil }

func TestAllowListUsesSubjectKeyer(t *testing.T) {
	s := access.Subject{HostUID: "uid-host", Policy: access.Private, Members: []string{"MEMBER@EXAMPLE.COM"}}
	who := identity.Principal{UID: "uid-m", Email: "member@example.com"}

	if access.IsAuthorized(s, who) {
		t.Error("default keyer matched an upper-cased key")
	}
	s.Keyer = upperKeyer{}
	if d := access.Evaluate(s, who); !d.Allowed || d.Reason != access.ReasonMember {
		t.Errorf("decision with injected keyer = %+v", d)
	}
}

func TestEmptyIdentityNeverMatches(t *testing.T) {
	s := access.Subject{HostUID: "", Policy: access.Private, Members: []string{""}}
	if access.IsAuthorized(s, identity.Principal{}) {
		t.Error("zero principal authorized on a private bag")
	}
}

func TestParsePolicy(t *testing.T) {
	tests := []struct {
		in      string
		want    access.Policy
		wantErr bool
	}{
		{"", access.Private, false},
		{"private", access.Private, false},
		{"invite", access.Invite, false},
		{"request", access.Request, false},
		{"public", access.Public, false},
		{"PUBLIC", "", true},
		{"friends", "", true},
	}
	for _, tt := range tests {
		got, err := access.ParsePolicy(tt.in)
		if (err != nil) != tt.wantErr || got != tt.want {
			t.Errorf("ParsePolicy(%q) = %q, %v", tt.in, got, err)
		}
	}
}
