// Package clientid derives a stable anonymous client identifier for abuse
// gating. The identifier groups requests from the same real user even as
// browser patch versions roll, while keeping distinct users behind a shared
// IP apart.
package clientid

import (
	"encoding/hex"
	"fmt"
	"strings"

	"golang.org/x/crypto/blake2b"
)

// Deriver hashes request attributes into a client identifier. The salt keys
// the hash so identifiers cannot be precomputed or correlated across
// deployments.
type Deriver struct {
	salt []byte
}

func New(salt string) *Deriver {
	return &Deriver{salt: []byte(salt)}
}

// Derive computes the client identifier from the request's IP, user agent
// and Accept-Language header. Digits in the user agent are masked so minor
// version bumps do not rotate the identifier mid-session.
func (d *Deriver) Derive(ip, userAgent, acceptLanguage string) (string, error) {
	h, err := blake2b.New256(d.salt)
	if err != nil {
		return "", fmt.Errorf("init keyed hash: %w", err)
	}
	fmt.Fprintf(h, "%s|%s|%s", ip, maskDigits(userAgent), primaryLanguage(acceptLanguage))
	return hex.EncodeToString(h.Sum(nil)), nil
}

// maskDigits replaces every ASCII digit with '0' so "Chrome/120.0.6099"
// and "Chrome/121.0.6167" map to the same token.
func maskDigits(s string) string {
	return strings.Map(func(r rune) rune {
		if r >= '0' && r <= '9' {
			return '0'
		}
		return r
	}, s)
}

// primaryLanguage extracts the first language tag from an Accept-Language
// header, dropping any quality weight ("fr-CA,fr;q=0.9" -> "fr-ca").
func primaryLanguage(header string) string {
	first, _, _ := strings.Cut(header, ",")
	tag, _, _ := strings.Cut(first, ";")
	return strings.ToLower(strings.TrimSpace(tag))
}
