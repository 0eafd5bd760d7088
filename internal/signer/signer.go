// Copyright 2025 James Ross
// Package signer constructs and verifies the Hook0-Signature header defined
// in spec §4.C: a versioned HMAC-SHA256 signature over a canonicalized
// subset of request headers plus the raw payload bytes.
package signer

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strconv"
	"strings"
)

// SignedHeader is one (name, value) pair included in the signed message, in
// the order the caller wants them to appear in the "h=" field.
type SignedHeader struct {
	Name  string
	Value string
}

// Sign produces the Hook0-Signature header value for the given unix
// timestamp, secret, signed headers and payload. It is deterministic: the
// same (t, secret, headers, payload) always yields the same output (spec §8
// property 7).
func Sign(t int64, secret [16]byte, headers []SignedHeader, payload []byte) string {
	names := make([]string, len(headers))
	values := make([]string, len(headers))
	for i, h := range headers {
		names[i] = h.Name
		values[i] = h.Value
	}

	hNames := strings.Join(names, " ")
	signedValues := strings.Join(values, " ")

	message := strconv.FormatInt(t, 10) + "." + hNames + "." + signedValues + "." + string(payload)

	mac := hmac.New(sha256.New, secret[:])
	mac.Write([]byte(message))
	v1 := hex.EncodeToString(mac.Sum(nil))

	return fmt.Sprintf("t=%d,h=%s,v1=%s", t, hNames, v1)
}

// Verify recomputes the signature for (t, secret, headers, payload) and
// compares it to want in constant time. It exists for symmetry with Sign
// and for dispatcher-side self-tests; Hook0's receivers, not this core,
// verify signatures in production (spec §4.C marks receiver-side
// verification out of scope).
func Verify(want string, t int64, secret [16]byte, headers []SignedHeader, payload []byte) bool {
	got := Sign(t, secret, headers, payload)
	return hmac.Equal([]byte(got), []byte(want))
}

// VerifyEither checks a candidate signature against both the current secret
// and, if present, a previous secret still within its rotation grace
// period. This lets a subscription rotate its signing secret without a
// delivery gap; the signer always signs with the current secret (§4.C), but
// out-of-band verifiers may accept either during rotation.
func VerifyEither(want string, t int64, current [16]byte, previous *[16]byte, headers []SignedHeader, payload []byte) bool {
	if Verify(want, t, current, headers, payload) {
		return true
	}
	if previous != nil {
		return Verify(want, t, *previous, headers, payload)
	}
	return false
}
