package security

import (
	"errors"
	"strings"
	"testing"
	"time"
)

func newTestCodec() *LinkTokenCodec {
	return NewLinkTokenCodec("link-secret-for-tests", 5*time.Minute)
}

func TestLinkTokenRoundTrip(t *testing.T) {
	codec := newTestCodec()
	issued := time.Now().UTC()
	token, err := codec.Encode(LinkingGrant{UserID: 42, Provider: "github", Nonce: "n-1", IssuedAt: issued})
	if err != nil {
		t.Fatalf("encode: %v", err)
	}

	grant, err := codec.Decode(token, issued.Add(time.Minute))
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if grant.UserID != 42 || grant.Provider != "github" || grant.Nonce != "n-1" {
		t.Fatalf("grant mismatch: %+v", grant)
	}
}

func TestLinkTokenRejectsTampering(t *testing.T) {
	codec := newTestCodec()
	token, err := codec.Encode(LinkingGrant{UserID: 1, Provider: "google", Nonce: "n-2"})
	if err != nil {
		t.Fatalf("encode: %v", err)
	}

	body, sig, _ := strings.Cut(token, ".")
	cases := map[string]string{
		"flipped payload byte": "A" + body[1:] + "." + sig,
		"flipped sig byte":     body + "." + "A" + sig[1:],
		"missing signature":    body,
		"empty token":          "",
		"garbage":              "not-a-token.at-all",
	}
	for name, tampered := range cases {
		if _, err := codec.Decode(tampered, time.Now()); !errors.Is(err, ErrLinkTokenInvalid) {
			t.Errorf("%s: expected ErrLinkTokenInvalid, got %v", name, err)
		}
	}
}

func TestLinkTokenRejectsForeignKey(t *testing.T) {
	token, err := newTestCodec().Encode(LinkingGrant{UserID: 1, Provider: "google", Nonce: "n-3"})
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	other := NewLinkTokenCodec("a-different-secret!", 5*time.Minute)
	if _, err := other.Decode(token, time.Now()); !errors.Is(err, ErrLinkTokenInvalid) {
		t.Fatalf("expected ErrLinkTokenInvalid, got %v", err)
	}
}

func TestLinkTokenExpiry(t *testing.T) {
	codec := newTestCodec()
	issued := time.Now().UTC()
	token, err := codec.Encode(LinkingGrant{UserID: 9, Provider: "github", Nonce: "n-4", IssuedAt: issued})
	if err != nil {
		t.Fatalf("encode: %v", err)
	}

	if _, err := codec.Decode(token, issued.Add(5*time.Minute+time.Second)); !errors.Is(err, ErrLinkTokenExpired) {
		t.Fatalf("expected ErrLinkTokenExpired, got %v", err)
	}
	// A grant claiming to come from the future is a forgery, not skew.
	if _, err := codec.Decode(token, issued.Add(-2*time.Minute)); !errors.Is(err, ErrLinkTokenInvalid) {
		t.Fatalf("expected ErrLinkTokenInvalid for future grant, got %v", err)
	}
}

func TestLinkTokenEncodeRequiresCompleteGrant(t *testing.T) {
	codec := newTestCodec()
	for name, grant := range map[string]LinkingGrant{
		"no user":     {Provider: "github", Nonce: "n"},
		"no provider": {UserID: 1, Nonce: "n"},
		"no nonce":    {UserID: 1, Provider: "github"},
	} {
		if _, err := codec.Encode(grant); err == nil {
			t.Errorf("%s: expected error", name)
		}
	}
}
