package domain

import "testing"

func TestFillFingerprintDeterministic(t *testing.T) {
	a := FillFingerprint("ord-1", "t-1", "1700000000000", "1.5", "50000")
	b := FillFingerprint("ord-1", "t-1", "1700000000000", "1.5", "50000")
	if a != b {
		t.Errorf("same inputs must produce same fingerprint: %q vs %q", a, b)
	}
	if len(a) != 64 {
		t.Errorf("expected hex sha256 (64 chars), got %d", len(a))
	}
}

func TestFillFingerprintSensitivity(t *testing.T) {
	base := FillFingerprint("ord-1", "t-1", "1700000000000", "1.5", "50000")
	variants := []string{
		FillFingerprint("ord-2", "t-1", "1700000000000", "1.5", "50000"),
		FillFingerprint("ord-1", "t-2", "1700000000000", "1.5", "50000"),
		FillFingerprint("ord-1", "t-1", "1700000000001", "1.5", "50000"),
		FillFingerprint("ord-1", "t-1", "1700000000000", "1.6", "50000"),
		FillFingerprint("ord-1", "t-1", "1700000000000", "1.5", "50001"),
	}
	for i, v := range variants {
		if v == base {
			t.Errorf("variant %d must produce a different fingerprint", i)
		}
	}
}
