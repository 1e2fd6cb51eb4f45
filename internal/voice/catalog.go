package voice

import (
	"fmt"
	"sort"
	"sync"

	"github.com/charmbracelet/log"
)

// VoiceInfo describes one selectable preset voice.
type VoiceInfo struct {
	ID         string   `json:"id"`
	Name       string   `json:"name"`
	Emotions   []string `json:"emotions"`
	HasDefault bool     `json:"has_default"`
}

// PersonaInfo lists the assets bound to one persona.
type PersonaInfo struct {
	ID    string   `json:"id"`
	Names []string `json:"names"`
}

// Listing is the full catalog.
type Listing struct {
	Voices   []VoiceInfo   `json:"voices"`
	Personas []PersonaInfo `json:"personas"`
}

// Catalog lists available voices. The listing is computed lazily and cached
// until Invalidate is called.
type Catalog struct {
	presets  AssetStore
	personas AssetStore
	resolver *Resolver

	mu     sync.RWMutex
	cached *Listing

	logger *log.Logger
}

// NewCatalog returns a catalog over the resolver's stores.
func NewCatalog(presets, personas AssetStore, resolver *Resolver) *Catalog {
	return &Catalog{
		presets:  presets,
		personas: personas,
		resolver: resolver,
		logger:   log.WithPrefix("catalog"),
	}
}

// List returns the current catalog.
func (c *Catalog) List() (Listing, error) {
	c.mu.RLock()
	if c.cached != nil {
		l := *c.cached
		c.mu.RUnlock()
		return l, nil
	}
	c.mu.RUnlock()

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.cached != nil {
		return *c.cached, nil
	}

	voices, err := c.scanPresets()
	if err != nil {
		return Listing{}, err
	}
	personas, err := c.scanPersonas()
	if err != nil {
		return Listing{}, err
	}

	l := Listing{Voices: voices, Personas: personas}
	c.cached = &l
	c.logger.Info("Voice catalog loaded", "voices", len(voices), "personas", len(personas))
	return l, nil
}

// Invalidate drops the cached listing.
func (c *Catalog) Invalidate() {
	c.mu.Lock()
	c.cached = nil
	c.mu.Unlock()
}

// scanPresets lists hierarchical voice directories that hold at least one
// asset, then legacy flat files whose id is not already listed.
func (c *Catalog) scanPresets() ([]VoiceInfo, error) {
	entries, err := c.presets.List("")
	if err != nil {
		return nil, fmt.Errorf("failed to list presets: %w", err)
	}

	voices := []VoiceInfo{}
	seen := make(map[string]bool)
	var legacy []string

	for _, e := range entries {
		if !e.IsDir() {
			if c.resolver.HasAllowedExtension(e.Name()) {
				legacy = append(legacy, c.resolver.StripExtension(e.Name()))
			}
			continue
		}

		emotions, err := c.assetNames(c.presets, e.Name())
		if err != nil {
			return nil, err
		}
		if len(emotions) == 0 {
			continue
		}

		info := VoiceInfo{ID: e.Name(), Name: e.Name(), Emotions: emotions}
		for _, emo := range emotions {
			if emo == DefaultEmotion {
				info.HasDefault = true
			}
		}
		voices = append(voices, info)
		seen[e.Name()] = true
	}
	sort.Slice(voices, func(i, j int) bool { return voices[i].ID < voices[j].ID })

	sort.Strings(legacy)
	for _, id := range legacy {
		if seen[id] {
			continue
		}
		seen[id] = true
		voices = append(voices, VoiceInfo{
			ID:         id,
			Name:       id,
			Emotions:   []string{DefaultEmotion},
			HasDefault: true,
		})
	}

	return voices, nil
}

func (c *Catalog) scanPersonas() ([]PersonaInfo, error) {
	entries, err := c.personas.List("")
	if err != nil {
		return nil, fmt.Errorf("failed to list personas: %w", err)
	}

	personas := []PersonaInfo{}
	for _, e := range entries {
		if !e.IsDir() {
			continue
		}
		names, err := c.assetNames(c.personas, e.Name())
		if err != nil {
			return nil, err
		}
		if len(names) == 0 {
			continue
		}
		personas = append(personas, PersonaInfo{ID: e.Name(), Names: names})
	}
	sort.Slice(personas, func(i, j int) bool { return personas[i].ID < personas[j].ID })
	return personas, nil
}

// assetNames returns the sorted, extension-stripped asset names under dir.
func (c *Catalog) assetNames(store AssetStore, dir string) ([]string, error) {
	entries, err := store.List(dir)
	if err != nil {
		return nil, fmt.Errorf("failed to list %s: %w", dir, err)
	}
	var names []string
	dedup := make(map[string]bool)
	for _, e := range entries {
		if e.IsDir() || !c.resolver.HasAllowedExtension(e.Name()) {
			continue
		}
		name := c.resolver.StripExtension(e.Name())
		if dedup[name] {
			continue
		}
		dedup[name] = true
		names = append(names, name)
	}
	sort.Strings(names)
	return names, nil
}
