// Package membership defines how bag members are identified.
//
// Members are keyed by email address. The Keyer interface keeps that choice
// out of the workflows so a uid-based keying can replace it later.
package membership

import (
	"errors"
	"strings"

	"golang.org/x/net/idna"
)

var ErrInvalidEmail = errors.New("invalid email address")

// Keyer turns a member identity into the key stored in a bag's allow-list.
type Keyer interface {
	Key(identity string) (string, error)
}

// EmailKeyer normalises email addresses: surrounding whitespace is trimmed,
// the address is lowercased and the domain is converted to its ASCII form.
type EmailKeyer struct {
	profile *idna.Profile
}

// NewEmailKeyer returns the default email keyer.
func NewEmailKeyer() *EmailKeyer {
	return &EmailKeyer{profile: idna.Lookup}
}

// Key implements Keyer.
func (k *EmailKeyer) Key(email string) (string, error) {
	email = strings.TrimSpace(email)
	at := strings.LastIndex(email, "@")
	if at <= 0 || at == len(email)-1 {
		return "", ErrInvalidEmail
	}
	if strings.ContainsAny(email, " \t\r\n") {
		return "", ErrInvalidEmail
	}

	local := strings.ToLower(email[:at])
	domain, err := k.profile.ToASCII(strings.ToLower(email[at+1:]))
	if err != nil {
		return "", ErrInvalidEmail
	}
	return local + "@" + domain, nil
}

// MustKey normalises email and returns "" when it cannot be keyed.
// Used on read paths where an invalid address simply matches nothing.
func MustKey(k Keyer, email string) string {
	key, err := k.Key(email)
	if err != nil {
		return ""
	}
	return key
}

// Default is the keyer used when none is injected.
var Default Keyer = NewEmailKeyer()
