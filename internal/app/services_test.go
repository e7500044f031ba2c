package app

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/dokzlo13/fountaind/internal/config"
	"github.com/dokzlo13/fountaind/internal/fcw"
	"github.com/dokzlo13/fountaind/internal/ledger"
	"github.com/dokzlo13/fountaind/internal/lighting"
	"github.com/dokzlo13/fountaind/internal/playback"
)

const testScript = `
local show = require("show")
show.song{ name = "overture", text = [[
00:00.0 018-001
00:00.0 995-000
]], duration = 0.05 }
show.playlist("evening", { "overture" })
show.special(995, "unlock_all")
`

func newTestServices(t *testing.T) *Services {
	t.Helper()
	return newTestServicesWithScript(t, testScript)
}

func newTestServicesWithScript(t *testing.T, source string) *Services {
	t.Helper()
	dir := t.TempDir()
	script := filepath.Join(dir, "main.lua")
	if err := os.WriteFile(script, []byte(source), 0o644); err != nil {
		t.Fatal(err)
	}

	yaml := fmt.Sprintf(`
database:
  path: %s
script: %s
playback:
  tick: 1ms
  leader: 10ms
scheduler:
  timezone: UTC
universe:
  lights:
    - number: 1
      channels:
        - { index: 1, type: red }
        - { index: 2, type: green }
        - { index: 3, type: blue }
`, filepath.Join(dir, "fountaind.sqlite"), script)

	cfg, err := config.Parse([]byte(yaml))
	if err != nil {
		t.Fatalf("config: %v", err)
	}
	s, err := NewServices(cfg)
	if err != nil {
		t.Fatalf("NewServices: %v", err)
	}
	return s
}

func TestServicesPlayRecordsLedger(t *testing.T) {
	s := newTestServices(t)
	ctx, cancel := context.WithCancel(context.Background())

	if err := s.Start(ctx, func(err error) { t.Errorf("fatal: %v", err) }); err != nil {
		cancel()
		s.Close()
		t.Fatalf("Start: %v", err)
	}
	defer func() {
		cancel()
		s.Close()
	}()

	if !s.ready.Load() {
		t.Error("services not ready after Start")
	}
	if entry, ok := s.Show.Registry.Lookup(995); !ok || entry.Special != playback.SpecialUnlockAll {
		t.Errorf("script alias not registered: %+v", entry)
	}

	if err := s.Show.Runner.PlayPlaylist("evening"); err != nil {
		t.Fatalf("PlayPlaylist: %v", err)
	}
	s.Show.Runner.Wait()

	deadline := time.Now().Add(2 * time.Second)
	for {
		finished, err := s.Ledger.GetByType(ledger.EventShowFinished, 10)
		if err != nil {
			t.Fatalf("GetByType: %v", err)
		}
		if len(finished) == 1 {
			if finished[0].Song != "overture" {
				t.Errorf("finished entry = %+v", finished[0])
			}
			break
		}
		if time.Now().After(deadline) {
			t.Fatal("show_finished was never recorded")
		}
		time.Sleep(10 * time.Millisecond)
	}
}

func TestScriptCannotAliasReservedAddress(t *testing.T) {
	s := newTestServicesWithScript(t, `require("show").special(990, "reset")`)
	ctx, cancel := context.WithCancel(context.Background())
	defer func() {
		cancel()
		s.Close()
	}()

	err := s.Start(ctx, nil)
	if !errors.Is(err, fcw.ErrReservedAddress) {
		t.Fatalf("Start = %v, want ErrReservedAddress", err)
	}
	if entry, _ := s.Show.Registry.Lookup(990); entry.Special != fcw.SpecialModuleSwap {
		t.Errorf("990 = %q, want module_swap", entry.Special)
	}
}

func TestServicesStatus(t *testing.T) {
	s := newTestServices(t)
	defer s.Close()

	ctrl := &controller{Runner: s.Show.Runner, services: s}
	status := ctrl.Status()
	if status["state"] != "idle" {
		t.Errorf("state = %v", status["state"])
	}
	links, ok := status["links"].(map[string]any)
	if !ok {
		t.Fatalf("links = %v", status["links"])
	}
	if _, ok := links[linkDMX]; !ok {
		t.Error("status lacks the dmx link")
	}
	if _, ok := links[linkControl]; ok {
		t.Error("status reports a control link that is not configured")
	}
}

func TestUniverseConfig(t *testing.T) {
	tests := []struct {
		name    string
		in      config.UniverseConfig
		wantErr string
	}{
		{
			name: "valid",
			in: config.UniverseConfig{
				Lights: []config.LightConfig{
					{Number: 1, Channels: []config.ChannelConfig{{Index: 1, Type: "r"}, {Index: 2, Type: "dmx"}}},
				},
				Modules: []config.ModuleConfig{{Name: "A", Kind: "a", Lights: []uint32{1}}},
			},
		},
		{
			name: "unknown channel type",
			in: config.UniverseConfig{
				Lights: []config.LightConfig{{Number: 1, Channels: []config.ChannelConfig{{Index: 1, Type: "ultraviolet"}}}},
			},
			wantErr: "unknown channel type",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			out, err := universeConfig(tt.in)
			if tt.wantErr != "" {
				if err == nil || !strings.Contains(err.Error(), tt.wantErr) {
					t.Errorf("error = %v, want %q", err, tt.wantErr)
				}
				return
			}
			if err != nil {
				t.Fatalf("universeConfig: %v", err)
			}
			if out.Lights[0].Channels[0].Type != lighting.ChannelRed || out.Modules[0].Kind != lighting.ModuleGroupA {
				t.Errorf("converted = %+v", out)
			}
		})
	}
}

func TestOverrideModes(t *testing.T) {
	got := overrideModes([]config.ColorOverride{{Address: 60, Mode: "voice"}, {Address: 61, Mode: "curtain"}})
	if got[60] != playback.OverrideVoice || got[61] != playback.OverrideCurtain {
		t.Errorf("overrides = %v", got)
	}
	if overrideModes(nil) != nil {
		t.Error("no overrides should give a nil map")
	}
}

func TestDaemonRunsUntilCancelled(t *testing.T) {
	s := newTestServices(t)
	d := &Daemon{cfg: s.cfg, services: s}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- d.Run(ctx) }()

	deadline := time.Now().Add(2 * time.Second)
	for !s.ready.Load() {
		if time.Now().After(deadline) {
			cancel()
			t.Fatal("daemon never became ready")
		}
		time.Sleep(5 * time.Millisecond)
	}
	cancel()

	select {
	case err := <-done:
		if err != nil {
			t.Errorf("Run = %v, want nil after cancel", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("Run did not return after cancel")
	}
	if s.ready.Load() {
		t.Error("services still ready after Run returned")
	}
}
