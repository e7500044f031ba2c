package playback

import (
	"errors"
	"testing"

	"github.com/dokzlo13/fountaind/internal/command"
)

func testSong(t *testing.T, name string) Song {
	t.Helper()
	line, ok, err := command.ParseLine("00:01.0 017-255")
	if err != nil || !ok {
		t.Fatalf("ParseLine: %v", err)
	}
	return Song{Name: name, Timeline: command.NewTimeline([]command.CommandLine{line})}
}

func TestCatalogPlaylists(t *testing.T) {
	c := NewCatalog()
	if err := c.AddPlaylist("evening", []string{"overture", "finale"}); err != nil {
		t.Fatalf("AddPlaylist: %v", err)
	}
	if err := c.AddSong(testSong(t, "overture")); err != nil {
		t.Fatalf("AddSong: %v", err)
	}

	if err := c.Validate(); !errors.Is(err, ErrUnknownSong) {
		t.Errorf("Validate = %v, want ErrUnknownSong", err)
	}
	if _, err := c.Playlist("evening"); !errors.Is(err, ErrUnknownSong) {
		t.Errorf("Playlist = %v, want ErrUnknownSong", err)
	}

	if err := c.AddSong(testSong(t, "finale")); err != nil {
		t.Fatalf("AddSong: %v", err)
	}
	if err := c.Validate(); err != nil {
		t.Errorf("Validate = %v", err)
	}

	songs, err := c.Playlist("evening")
	if err != nil {
		t.Fatalf("Playlist: %v", err)
	}
	if len(songs) != 2 || songs[0].Name != "overture" || songs[1].Name != "finale" {
		t.Errorf("songs = %v", songs)
	}

	single, err := c.Playlist("finale")
	if err != nil || len(single) != 1 {
		t.Errorf("song as playlist = %v, %v", single, err)
	}
	if _, err := c.Playlist("matinee"); !errors.Is(err, ErrUnknownPlaylist) {
		t.Errorf("unknown playlist = %v", err)
	}

	if got := c.Songs(); len(got) != 2 || got[0] != "finale" {
		t.Errorf("Songs = %v", got)
	}
	if got := c.Playlists(); len(got) != 1 || got[0] != "evening" {
		t.Errorf("Playlists = %v", got)
	}
}

func TestCatalogRejects(t *testing.T) {
	c := NewCatalog()
	if err := c.AddSong(testSong(t, "overture")); err != nil {
		t.Fatal(err)
	}

	tests := []struct {
		name string
		fn   func() error
	}{
		{"duplicate song", func() error { return c.AddSong(testSong(t, "overture")) }},
		{"unnamed song", func() error { return c.AddSong(testSong(t, "")) }},
		{"no timeline", func() error { return c.AddSong(Song{Name: "x"}) }},
		{"empty playlist", func() error { return c.AddPlaylist("p", nil) }},
		{"unnamed playlist", func() error { return c.AddPlaylist("", []string{"overture"}) }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if err := tt.fn(); err == nil {
				t.Error("expected error")
			}
		})
	}
}
