package crypto

import (
	"strings"
	"testing"

	ethcrypto "github.com/ethereum/go-ethereum/crypto"
)

func TestSignAndRecoverCaller(t *testing.T) {
	pk, err := ethcrypto.GenerateKey()
	if err != nil {
		t.Fatalf("generate key: %v", err)
	}
	want := ethcrypto.PubkeyToAddress(pk.PublicKey)

	sig, err := SignCallerProof(pk, "POST", "/api/bets/7/deposit/stable", 1750000000)
	if err != nil {
		t.Fatalf("SignCallerProof: %v", err)
	}
	if !strings.HasPrefix(sig, "0x") || len(sig) != 132 {
		t.Fatalf("unexpected signature format: %q", sig)
	}

	got, err := RecoverCaller("POST", "/api/bets/7/deposit/stable", 1750000000, sig)
	if err != nil {
		t.Fatalf("RecoverCaller: %v", err)
	}
	if got != want {
		t.Fatalf("recovered %s, want %s", got, want)
	}
}

func TestRecoverCaller_RejectsTamperedRequest(t *testing.T) {
	pk, _ := ethcrypto.GenerateKey()
	want := ethcrypto.PubkeyToAddress(pk.PublicKey)

	sig, err := SignCallerProof(pk, "POST", "/api/bets/7/settle", 1750000000)
	if err != nil {
		t.Fatalf("SignCallerProof: %v", err)
	}

	// A signature over one request must not authenticate a different path,
	// method, or timestamp.
	for name, tc := range map[string]struct {
		method string
		path   string
		ts     int64
	}{
		"different path":      {"POST", "/api/bets/8/settle", 1750000000},
		"different method":    {"GET", "/api/bets/7/settle", 1750000000},
		"different timestamp": {"POST", "/api/bets/7/settle", 1750000001},
	} {
		got, err := RecoverCaller(tc.method, tc.path, tc.ts, sig)
		if err == nil && got == want {
			t.Fatalf("%s: tampered request recovered the original signer", name)
		}
	}
}

func TestRecoverCaller_RejectsMalformedSignature(t *testing.T) {
	if _, err := RecoverCaller("GET", "/api/bets", 1, "0xzz"); err == nil {
		t.Fatal("non-hex signature accepted")
	}
	if _, err := RecoverCaller("GET", "/api/bets", 1, "0xdead"); err == nil {
		t.Fatal("short signature accepted")
	}
}

func TestAuthMessage_Canonicalization(t *testing.T) {
	if got, want := AuthMessage("post", "/api/bets", 42), "coinduel|POST|/api/bets|42"; got != want {
		t.Fatalf("AuthMessage = %q, want %q", got, want)
	}
}

func TestParseAuthTimestamp(t *testing.T) {
	ts, err := ParseAuthTimestamp("1750000000")
	if err != nil || ts != 1750000000 {
		t.Fatalf("got %d, %v", ts, err)
	}
	if _, err := ParseAuthTimestamp("yesterday"); err == nil {
		t.Fatal("non-numeric timestamp accepted")
	}
}
