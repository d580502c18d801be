package roomcode

import (
	"errors"
	"testing"

	"github.com/oztf/meetlink/internal/domain"
)

func TestEncodeDeterministic(t *testing.T) {
	a, err := Encode("123-4567-8901")
	if err != nil {
		t.Fatalf("Encode error: %v", err)
	}
	b, err := Encode("123-4567-8901")
	if err != nil {
		t.Fatalf("Encode error: %v", err)
	}
	if a != b {
		t.Errorf("Encode not deterministic: %d != %d", a, b)
	}
	if a < MinRoomID || a > MaxRoomID {
		t.Errorf("Encode = %d, outside [%d, %d]", a, MinRoomID, MaxRoomID)
	}
}

func TestEncodeAcceptsBareDigits(t *testing.T) {
	withSep, err := Encode("123-4567-8901")
	if err != nil {
		t.Fatalf("Encode error: %v", err)
	}
	bare, err := Encode("12345678901")
	if err != nil {
		t.Fatalf("Encode error: %v", err)
	}
	if withSep != bare {
		t.Errorf("separator form %d != bare form %d", withSep, bare)
	}
}

func TestEncodeInvalidFormat(t *testing.T) {
	cases := []string{
		"",
		"123-4567-890",    // 10 digits
		"123-4567-89012",  // 12 digits
		"abc-defg-hijk",   // letters
		"123-4567-890a",   // trailing letter
		"123 4567 8901",   // wrong separator
		"123456789012345", // way too long
	}
	for _, code := range cases {
		if _, err := Encode(code); !errors.Is(err, domain.ErrInvalidFormat) {
			t.Errorf("Encode(%q) error = %v, want ErrInvalidFormat", code, err)
		}
	}
}

func TestEncodeNumericBounds(t *testing.T) {
	cases := []struct {
		id uint64
		ok bool
	}{
		{0, false},
		{1, true},
		{4294967294, true},
		{4294967295, false},
		{9999999999999, false},
	}
	for _, tc := range cases {
		got, err := EncodeNumeric(tc.id)
		if tc.ok {
			if err != nil {
				t.Errorf("EncodeNumeric(%d) error = %v, want nil", tc.id, err)
			}
			if uint64(got) != tc.id {
				t.Errorf("EncodeNumeric(%d) = %d", tc.id, got)
			}
			continue
		}
		if !errors.Is(err, domain.ErrOutOfRange) {
			t.Errorf("EncodeNumeric(%d) error = %v, want ErrOutOfRange", tc.id, err)
		}
	}
}

func TestDecodeFormat(t *testing.T) {
	cases := []struct {
		id   uint32
		want string
	}{
		{1, "000-0000-0001"},
		{987654321, "009-8765-4321"},
		{4294967294, "042-9496-7294"},
	}
	for _, tc := range cases {
		if got := Decode(tc.id); got != tc.want {
			t.Errorf("Decode(%d) = %q, want %q", tc.id, got, tc.want)
		}
	}
}

func TestFormatRoundTrip(t *testing.T) {
	codes := []string{"123-4567-8901", "000-0000-0001", "999-9999-9999", "555-1234-0000"}
	for _, code := range codes {
		id, err := Encode(code)
		if err != nil {
			t.Fatalf("Encode(%q) error: %v", code, err)
		}
		out := Decode(id)
		// Round trip on format, not value: 11 digits, separators at 3 and 7.
		if len(out) != 13 || out[3] != '-' || out[8] != '-' {
			t.Errorf("Decode(Encode(%q)) = %q, not canonically formatted", code, out)
		}
		if _, err := Encode(out); err != nil {
			t.Errorf("Decode output %q not re-encodable: %v", out, err)
		}
	}
}
