package security

import (
	"bytes"
	"encoding/base64"
	"strings"
	"testing"
)

func TestSecretBox_RoundTrip(t *testing.T) {
	box, err := NewSecretBox(bytes.Repeat([]byte{7}, 32))
	if err != nil {
		t.Fatalf("NewSecretBox: %v", err)
	}
	sealed, err := box.Seal("whsec_abc123")
	if err != nil {
		t.Fatalf("Seal: %v", err)
	}
	if !strings.HasPrefix(sealed, "v1:") || strings.Contains(sealed, "whsec_abc123") {
		t.Fatalf("sealed value leaks plaintext: %q", sealed)
	}
	again, _ := box.Seal("whsec_abc123")
	if again == sealed {
		t.Error("two seals of the same secret should differ (random nonce)")
	}
	plain, err := box.Open(sealed)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	if plain != "whsec_abc123" {
		t.Errorf("Open = %q, want %q", plain, "whsec_abc123")
	}
}

func TestSecretBox_WrongKeyAndTamper(t *testing.T) {
	a, _ := NewSecretBox(bytes.Repeat([]byte{1}, 32))
	b, _ := NewSecretBox(bytes.Repeat([]byte{2}, 32))
	sealed, err := a.Seal("secret")
	if err != nil {
		t.Fatalf("Seal: %v", err)
	}
	if _, err := b.Open(sealed); err != ErrSealed {
		t.Errorf("wrong key: want ErrSealed, got %v", err)
	}
	raw, _ := base64.RawStdEncoding.DecodeString(strings.TrimPrefix(sealed, "v1:"))
	raw[len(raw)-1] ^= 0xff
	tampered := "v1:" + base64.RawStdEncoding.EncodeToString(raw)
	if _, err := a.Open(tampered); err != ErrSealed {
		t.Errorf("tampered: want ErrSealed, got %v", err)
	}
	var none *SecretBox
	if _, err := none.Open(sealed); err != ErrSealed {
		t.Errorf("nil box on sealed value: want ErrSealed, got %v", err)
	}
}

func TestSecretBox_NilIsPassthrough(t *testing.T) {
	box, err := NewSecretBox(nil)
	if err != nil || box != nil {
		t.Fatalf("NewSecretBox(nil) = %v, %v; want nil, nil", box, err)
	}
	sealed, _ := box.Seal("plain")
	if sealed != "plain" {
		t.Errorf("nil Seal = %q, want passthrough", sealed)
	}
	opened, _ := box.Open("plain")
	if opened != "plain" {
		t.Errorf("nil Open = %q, want passthrough", opened)
	}
	if _, err := NewSecretBox([]byte("short")); err == nil {
		t.Error("short key should be rejected")
	}
}
