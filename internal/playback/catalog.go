package playback

import (
	"errors"
	"fmt"
	"sort"
	"sync"
)

var (
	ErrUnknownSong     = errors.New("unknown song")
	ErrUnknownPlaylist = errors.New("unknown playlist")
)

// Catalog holds the songs and playlists declared by the show script.
type Catalog struct {
	mu        sync.RWMutex
	songs     map[string]Song
	playlists map[string][]string
}

func NewCatalog() *Catalog {
	return &Catalog{
		songs:     make(map[string]Song),
		playlists: make(map[string][]string),
	}
}

// AddSong registers a song. Names are unique.
func (c *Catalog) AddSong(s Song) error {
	if s.Name == "" {
		return fmt.Errorf("song name is empty")
	}
	if s.Timeline == nil {
		return fmt.Errorf("song %s: %w", s.Name, ErrNoTimeline)
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.songs[s.Name]; ok {
		return fmt.Errorf("song %s declared twice", s.Name)
	}
	c.songs[s.Name] = s
	return nil
}

// AddPlaylist registers an ordered list of song names. Songs may be declared
// after the playlist; they are checked by Validate and Playlist.
func (c *Catalog) AddPlaylist(name string, songs []string) error {
	if name == "" {
		return fmt.Errorf("playlist name is empty")
	}
	if len(songs) == 0 {
		return fmt.Errorf("playlist %s is empty", name)
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.playlists[name] = append([]string(nil), songs...)
	return nil
}

// Song returns a song by name.
func (c *Catalog) Song(name string) (Song, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	s, ok := c.songs[name]
	return s, ok
}

// Playlist resolves a playlist to its songs. A single song name is accepted
// as a one-song playlist.
func (c *Catalog) Playlist(name string) ([]Song, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	names, ok := c.playlists[name]
	if !ok {
		if s, ok := c.songs[name]; ok {
			return []Song{s}, nil
		}
		return nil, fmt.Errorf("%w: %s", ErrUnknownPlaylist, name)
	}
	songs := make([]Song, 0, len(names))
	for _, n := range names {
		s, ok := c.songs[n]
		if !ok {
			return nil, fmt.Errorf("playlist %s: %w: %s", name, ErrUnknownSong, n)
		}
		songs = append(songs, s)
	}
	return songs, nil
}

// Validate checks that every playlist references declared songs.
func (c *Catalog) Validate() error {
	c.mu.RLock()
	defer c.mu.RUnlock()
	var errs []error
	for name, names := range c.playlists {
		for _, n := range names {
			if _, ok := c.songs[n]; !ok {
				errs = append(errs, fmt.Errorf("playlist %s: %w: %s", name, ErrUnknownSong, n))
			}
		}
	}
	return errors.Join(errs...)
}

// Songs returns the declared song names, sorted.
func (c *Catalog) Songs() []string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return sortedKeys(c.songs)
}

// Playlists returns the declared playlist names, sorted.
func (c *Catalog) Playlists() []string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return sortedKeys(c.playlists)
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
