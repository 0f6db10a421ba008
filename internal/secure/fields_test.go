package secure

import (
	"errors"
	"strings"
	"testing"
)

const testKey = "6368616e676520746869732070617373776f726420746f206120736563726574"

func TestSealOpenRoundTrip(t *testing.T) {
	codec, err := NewCodec(testKey)
	if err != nil {
		t.Fatalf("NewCodec: %v", err)
	}

	plaintext := `{"name":"Ade Onile","bank_name":"GTBank","account_number":"0123456789"}`
	bundle, err := codec.Seal(plaintext)
	if err != nil {
		t.Fatalf("Seal: %v", err)
	}
	if !strings.HasPrefix(bundle, "v1:") {
		t.Fatalf("bundle missing version prefix: %q", bundle)
	}
	if strings.Contains(bundle, "0123456789") {
		t.Fatal("bundle leaks plaintext")
	}

	opened, err := codec.Open(bundle)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	if opened != plaintext {
		t.Fatalf("round trip mismatch: got %q", opened)
	}
}

func TestSealProducesDistinctBundles(t *testing.T) {
	codec, err := NewCodec(testKey)
	if err != nil {
		t.Fatalf("NewCodec: %v", err)
	}

	a, _ := codec.Seal("same input")
	b, _ := codec.Seal("same input")
	if a == b {
		t.Fatal("expected random nonce to produce distinct bundles")
	}
}

func TestOpenFailsClosed(t *testing.T) {
	codec, err := NewCodec(testKey)
	if err != nil {
		t.Fatalf("NewCodec: %v", err)
	}

	cases := map[string]string{
		"missing prefix":  "not-a-bundle",
		"bad base64":      "v1:!!!!",
		"too short":       "v1:YWJj",
		"wrong ciphertext": "v1:AAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAA",
	}
	for name, input := range cases {
		if _, err := codec.Open(input); !errors.Is(err, ErrUnreadableValue) {
			t.Errorf("%s: expected ErrUnreadableValue, got %v", name, err)
		}
	}

	// Tampering with a valid bundle must also fail closed.
	bundle, _ := codec.Seal("sensitive")
	tampered := bundle[:len(bundle)-2] + "AA"
	if tampered == bundle {
		tampered = bundle[:len(bundle)-2] + "BB"
	}
	if _, err := codec.Open(tampered); !errors.Is(err, ErrUnreadableValue) {
		t.Errorf("tampered bundle: expected ErrUnreadableValue, got %v", err)
	}
}

func TestOpenWithWrongKeyFails(t *testing.T) {
	sealer, _ := NewCodec(testKey)
	opener, _ := NewCodec("0000000000000000000000000000000000000000000000000000000000000000")

	bundle, err := sealer.Seal("group treasury secret")
	if err != nil {
		t.Fatalf("Seal: %v", err)
	}
	if _, err := opener.Open(bundle); !errors.Is(err, ErrUnreadableValue) {
		t.Fatalf("expected ErrUnreadableValue with wrong key, got %v", err)
	}
}

func TestSealJSONRoundTrip(t *testing.T) {
	codec, _ := NewCodec(testKey)

	type payload struct {
		Ref    string `json:"ref"`
		Amount int64  `json:"amount"`
	}
	in := payload{Ref: "PAYOUT_abc", Amount: 500000}

	bundle, err := codec.SealJSON(in)
	if err != nil {
		t.Fatalf("SealJSON: %v", err)
	}

	var out payload
	if err := codec.OpenJSON(bundle, &out); err != nil {
		t.Fatalf("OpenJSON: %v", err)
	}
	if out != in {
		t.Fatalf("round trip mismatch: got %+v", out)
	}
}

func TestNewCodecRejectsBadKeys(t *testing.T) {
	for _, key := range []string{"", "abcd", "zz" + testKey[2:], testKey + "00"} {
		if _, err := NewCodec(key); err == nil {
			t.Errorf("expected error for key %q", key)
		}
	}
}
