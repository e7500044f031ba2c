package palette

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/dokzlo13/fountaind/internal/lighting"
)

const sample = `INDEX,RGB,DESCRIPTION
1,FF0000,red
2,FF,blue
3,00ff00,green

16,202020,Curtain 16
17,404040,CURTAIN 32
18,606060,curtain 48
20,FFFFFF,Voice
`

func TestRead(t *testing.T) {
	p, err := Read(strings.NewReader(sample))
	if err != nil {
		t.Fatalf("Read: %v", err)
	}
	if p.Len() != 7 {
		t.Errorf("Len = %d, want 7", p.Len())
	}

	tests := []struct {
		index uint32
		want  lighting.Color
		ok    bool
	}{
		{1, lighting.Color{R: 255}, true},
		{2, lighting.Color{B: 255}, true},
		{3, lighting.Color{G: 255}, true},
		{0, lighting.Black, true},
		{99, lighting.Color{}, false},
	}
	for _, tt := range tests {
		got, ok := p.Lookup(tt.index)
		if ok != tt.ok || got != tt.want {
			t.Errorf("Lookup(%d) = %v,%v, want %v,%v", tt.index, got, ok, tt.want, tt.ok)
		}
	}
}

func TestWellKnownEntries(t *testing.T) {
	p, err := Read(strings.NewReader(sample))
	if err != nil {
		t.Fatal(err)
	}
	for code, hex := range map[uint32]string{16: "202020", 32: "404040", 48: "606060"} {
		c, ok := p.Curtain(code)
		if !ok || c.Hex() != hex {
			t.Errorf("Curtain(%d) = %s,%v, want %s", code, c.Hex(), ok, hex)
		}
	}
	if _, ok := p.Curtain(64); ok {
		t.Error("Curtain(64) should not exist")
	}
	if v, ok := p.Voice(); !ok || v.Hex() != "FFFFFF" {
		t.Errorf("Voice = %s,%v", v.Hex(), ok)
	}
}

func TestReadInvalidColor(t *testing.T) {
	if _, err := Read(strings.NewReader("1,GGGGGG,bad\n")); err == nil {
		t.Error("expected error for invalid hex")
	}
}

func TestNilPalette(t *testing.T) {
	var p *Palette
	if c, ok := p.Lookup(0); !ok || !c.IsBlack() {
		t.Error("nil palette should still resolve index 0 to black")
	}
	if _, ok := p.Lookup(1); ok {
		t.Error("nil palette should not resolve index 1")
	}
}

func TestLoadCSV(t *testing.T) {
	path := filepath.Join(t.TempDir(), "palette.csv")
	if err := os.WriteFile(path, []byte(sample), 0o644); err != nil {
		t.Fatal(err)
	}
	p, err := LoadCSV(path)
	if err != nil {
		t.Fatalf("LoadCSV: %v", err)
	}
	if p.Len() != 7 {
		t.Errorf("Len = %d, want 7", p.Len())
	}
	if _, err := LoadCSV(filepath.Join(t.TempDir(), "missing.csv")); err == nil {
		t.Error("expected error for missing file")
	}
}
