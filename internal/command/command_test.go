package command

import (
	"errors"
	"testing"
)

func TestParseCommand(t *testing.T) {
	tests := []struct {
		name     string
		token    string
		expected Command
		wantErr  bool
	}{
		{name: "decimal", token: "017-001", expected: Command{Address: 17, Data: 1}},
		{name: "decimal_wide_address", token: "1234-250", expected: Command{Address: 1234, Data: 250}},
		{name: "decimal_four_digits", token: "017-1001", expected: Command{Address: 17, Data: 1001}},
		{name: "hex_upper", token: "045-FF8000", expected: Command{Address: 45, Data: 0xFF8000, IsHexColor: true}},
		{name: "hex_lower", token: "045-ff8000", expected: Command{Address: 45, Data: 0xFF8000, IsHexColor: true}},
		{name: "hex_all_digits", token: "045-000100", expected: Command{Address: 45, Data: 0x100, IsHexColor: true}},
		{name: "missing_dash", token: "017001", wantErr: true},
		{name: "empty_data", token: "017-", wantErr: true},
		{name: "empty_address", token: "-001", wantErr: true},
		{name: "bad_address", token: "0x1-001", wantErr: true},
		{name: "bad_decimal", token: "017-0A1", wantErr: true},
		{name: "bad_hex", token: "017-GG0000", wantErr: true},
		{name: "decimal_too_large", token: "017-0100000", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ParseCommand(tt.token)
			if tt.wantErr {
				if err == nil {
					t.Fatalf("ParseCommand(%q) = %+v, want error", tt.token, got)
				}
				if !errors.Is(err, ErrInvalidToken) {
					t.Errorf("error %v does not wrap ErrInvalidToken", err)
				}
				return
			}
			if err != nil {
				t.Fatalf("ParseCommand(%q) error: %v", tt.token, err)
			}
			if got != tt.expected {
				t.Errorf("ParseCommand(%q) = %+v, want %+v", tt.token, got, tt.expected)
			}
		})
	}
}

func TestCommandRoundTrip(t *testing.T) {
	tokens := []string{"017-001", "001-000", "999-99999", "123-456", "045-ff00aa", "045-000000", "2000-012"}
	for _, tok := range tokens {
		c, err := ParseCommand(tok)
		if err != nil {
			t.Fatalf("ParseCommand(%q): %v", tok, err)
		}
		again, err := ParseCommand(c.String())
		if err != nil {
			t.Fatalf("ParseCommand(%q): %v", c.String(), err)
		}
		if again != c {
			t.Errorf("round trip of %q: got %+v, want %+v", tok, again, c)
		}
	}
}

func TestCommandString(t *testing.T) {
	tests := []struct {
		cmd  Command
		want string
	}{
		{Command{Address: 5, Data: 7}, "005-007"},
		{Command{Address: 17, Data: 1250}, "017-1250"},
		{Command{Address: 45, Data: 0xab12cd, IsHexColor: true}, "045-AB12CD"},
		{Command{Address: 45, Data: 0x10, IsHexColor: true}, "045-000010"},
	}
	for _, tt := range tests {
		if got := tt.cmd.String(); got != tt.want {
			t.Errorf("%+v.String() = %q, want %q", tt.cmd, got, tt.want)
		}
	}
}

func TestCommandRGB(t *testing.T) {
	r, g, b := MustParse("001-12AB34").RGB()
	if r != 0x12 || g != 0xAB || b != 0x34 {
		t.Errorf("RGB() = %x %x %x", r, g, b)
	}
}
