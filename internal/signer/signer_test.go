// Copyright 2025 James Ross
package signer

import (
	"testing"
)

func TestSign_MatchesSpecExample(t *testing.T) {
	var secret [16]byte // 32-byte all-zeros in the spec; a 16-byte key is all we store (§3), same zero byte semantics
	headers := []SignedHeader{{Name: "content-type", Value: "application/json"}}
	payload := []byte("{}")

	got := Sign(1765443663, secret, headers, payload)

	want := "t=1765443663,h=content-type,v1="
	if len(got) < len(want) || got[:len(want)] != want {
		t.Fatalf("signature prefix mismatch: got %q", got)
	}
	if len(got) != len(want)+64 {
		t.Fatalf("expected 64 hex chars of SHA-256 digest, got %q", got)
	}
}

func TestSign_Deterministic(t *testing.T) {
	var secret [16]byte
	secret[0] = 0x42
	headers := []SignedHeader{
		{Name: "content-type", Value: "application/json"},
		{Name: "x-event-type", Value: "order.paid"},
	}
	payload := []byte(`{"o":1}`)

	a := Sign(1700000000, secret, headers, payload)
	b := Sign(1700000000, secret, headers, payload)
	if a != b {
		t.Fatalf("Sign must be deterministic: %q != %q", a, b)
	}
}

func TestSign_DifferentPayloadDifferentSignature(t *testing.T) {
	var secret [16]byte
	headers := []SignedHeader{{Name: "content-type", Value: "application/json"}}

	a := Sign(1700000000, secret, headers, []byte(`{"o":1}`))
	b := Sign(1700000000, secret, headers, []byte(`{"o":2}`))
	if a == b {
		t.Fatal("different payloads must not produce the same signature")
	}
}

func TestVerify_RoundTrip(t *testing.T) {
	var secret [16]byte
	secret[5] = 0x99
	headers := []SignedHeader{{Name: "content-type", Value: "application/json"}}
	payload := []byte(`{}`)

	sig := Sign(1700000000, secret, headers, payload)
	if !Verify(sig, 1700000000, secret, headers, payload) {
		t.Fatal("expected signature to verify against the same inputs")
	}
	if Verify(sig, 1700000001, secret, headers, payload) {
		t.Fatal("signature must not verify against a different timestamp")
	}
}

func TestVerifyEither_FallsBackToPreviousSecret(t *testing.T) {
	var current, previous [16]byte
	current[0] = 1
	previous[0] = 2
	headers := []SignedHeader{{Name: "content-type", Value: "application/json"}}
	payload := []byte(`{}`)

	sig := Sign(1700000000, previous, headers, payload)

	if !VerifyEither(sig, 1700000000, current, &previous, headers, payload) {
		t.Fatal("expected fallback verification against previous secret to succeed")
	}
	if VerifyEither(sig, 1700000000, current, nil, headers, payload) {
		t.Fatal("without a previous secret, verification against only current must fail")
	}
}
