package voice

import (
	"errors"
	"fmt"
	"path"
	"strings"

	"github.com/charmbracelet/log"
	"golang.org/x/text/unicode/norm"
)

// ErrAssetNotFound is returned when no reference audio matches a request.
var ErrAssetNotFound = errors.New("reference audio not found")

// PersonaPrefix selects the persona namespace in a voice id.
const PersonaPrefix = "persona/"

// DefaultEmotion is the emotion file every voice directory may provide.
const DefaultEmotion = "default"

// Fallback records which step of the resolution chain produced an asset.
type Fallback int

const (
	// FallbackNone is an exact voice/emotion match.
	FallbackNone Fallback = iota
	// FallbackDefaultEmotion means the emotion was missing and the voice's default was used.
	FallbackDefaultEmotion
	// FallbackLegacyFlat means the pre-directory presets/<voice> file was used.
	FallbackLegacyFlat
	// FallbackPersona is an asset from the persona namespace.
	FallbackPersona
)

func (f Fallback) String() string {
	switch f {
	case FallbackNone:
		return "exact"
	case FallbackDefaultEmotion:
		return "default_emotion"
	case FallbackLegacyFlat:
		return "legacy_flat"
	case FallbackPersona:
		return "persona"
	default:
		return "unknown"
	}
}

// Asset is a resolved reference audio file.
type Asset struct {
	Path     string // absolute filesystem path
	Rel      string // path relative to its store
	VoiceID  string
	Emotion  string
	Fallback Fallback
}

// Degraded reports whether the asset came from a fallback step.
func (a Asset) Degraded() bool {
	return a.Fallback == FallbackDefaultEmotion || a.Fallback == FallbackLegacyFlat
}

// NotFoundError lists every candidate that was tried.
type NotFoundError struct {
	VoiceID   string
	Emotion   string
	Attempted []string
	Reason    string
}

func (e *NotFoundError) Error() string {
	var b strings.Builder
	fmt.Fprintf(&b, "voice %q not found", e.VoiceID)
	if e.Reason != "" {
		fmt.Fprintf(&b, " (%s)", e.Reason)
	}
	if len(e.Attempted) > 0 {
		b.WriteString("; tried:")
		for _, p := range e.Attempted {
			b.WriteString("\n  - ")
			b.WriteString(p)
		}
	}
	return b.String()
}

// Is makes errors.Is(err, ErrAssetNotFound) match.
func (e *NotFoundError) Is(target error) bool {
	return target == ErrAssetNotFound
}

// candidate is one step of the resolution chain, without extension.
type candidate struct {
	store    AssetStore
	rel      string
	fallback Fallback
}

// Resolver maps (voice, emotion) to a reference asset.
type Resolver struct {
	presets    AssetStore
	personas   AssetStore
	extensions []string
	logger     *log.Logger
}

// NewResolver returns a resolver over the given stores. extensions are the
// allowed asset suffixes including the dot, e.g. ".wav".
func NewResolver(presets, personas AssetStore, extensions []string) *Resolver {
	if len(extensions) == 0 {
		extensions = []string{".wav"}
	}
	exts := make([]string, 0, len(extensions))
	for _, e := range extensions {
		e = strings.ToLower(e)
		if !strings.HasPrefix(e, ".") {
			e = "." + e
		}
		exts = append(exts, e)
	}
	return &Resolver{
		presets:    presets,
		personas:   personas,
		extensions: exts,
		logger:     log.WithPrefix("voice"),
	}
}

// Extensions returns the normalized allowed extensions.
func (r *Resolver) Extensions() []string {
	return r.extensions
}

// Resolve finds the reference audio for voiceID and emotion.
//
// A voice id of the form persona/<id>/<name> is looked up in the persona
// store only. Anything else walks presets/<voice>/<emotion>,
// presets/<voice>/default, then the legacy presets/<voice> file.
func (r *Resolver) Resolve(voiceID, emotion string) (Asset, error) {
	voiceID = norm.NFC.String(strings.TrimSpace(voiceID))
	emotion = norm.NFC.String(strings.TrimSpace(emotion))

	if strings.HasPrefix(voiceID, PersonaPrefix) {
		return r.resolvePersona(voiceID)
	}

	voice := r.StripExtension(voiceID)
	emo := r.StripExtension(emotion)
	if emo == "" {
		emo = DefaultEmotion
	}

	if !validSegment(voice) || !validSegment(emo) {
		return Asset{}, &NotFoundError{VoiceID: voiceID, Emotion: emotion, Reason: "invalid voice or emotion name"}
	}

	chain := []candidate{
		{r.presets, path.Join(voice, emo), FallbackNone},
		{r.presets, path.Join(voice, DefaultEmotion), FallbackDefaultEmotion},
		{r.presets, voice, FallbackLegacyFlat},
	}

	for _, c := range chain {
		rel, ok := r.lookup(c.store, c.rel)
		if !ok {
			continue
		}
		asset := Asset{
			Path:     c.store.Abs(rel),
			Rel:      rel,
			VoiceID:  voice,
			Emotion:  emo,
			Fallback: c.fallback,
		}
		switch c.fallback {
		case FallbackDefaultEmotion:
			asset.Emotion = DefaultEmotion
			r.logger.Warn("Emotion not found, using voice default", "voice", voice, "emotion", emo, "path", asset.Path)
		case FallbackLegacyFlat:
			asset.Emotion = DefaultEmotion
			r.logger.Warn("Using legacy flat voice file, consider moving it into a voice directory", "voice", voice, "path", asset.Path)
		default:
			r.logger.Debug("Resolved voice", "voice", voice, "emotion", emo, "path", asset.Path)
		}
		return asset, nil
	}

	attempted := make([]string, 0, len(chain))
	for _, c := range chain {
		attempted = append(attempted, c.store.Abs(c.rel+r.extensions[0]))
	}
	return Asset{}, &NotFoundError{VoiceID: voice, Emotion: emo, Attempted: attempted}
}

func (r *Resolver) resolvePersona(voiceID string) (Asset, error) {
	parts := strings.Split(strings.TrimPrefix(voiceID, PersonaPrefix), "/")
	if len(parts) != 2 {
		return Asset{}, &NotFoundError{VoiceID: voiceID, Reason: "persona voices must be persona/<id>/<name>"}
	}
	id, name := parts[0], r.StripExtension(parts[1])
	if !validSegment(id) || !validSegment(name) {
		return Asset{}, &NotFoundError{VoiceID: voiceID, Reason: "invalid persona name"}
	}

	base := path.Join(id, name)
	if rel, ok := r.lookup(r.personas, base); ok {
		asset := Asset{
			Path:     r.personas.Abs(rel),
			Rel:      rel,
			VoiceID:  id,
			Emotion:  name,
			Fallback: FallbackPersona,
		}
		r.logger.Debug("Resolved persona voice", "persona", id, "name", name, "path", asset.Path)
		return asset, nil
	}

	return Asset{}, &NotFoundError{
		VoiceID:   voiceID,
		Attempted: []string{r.personas.Abs(base + r.extensions[0])},
	}
}

// lookup checks base with every allowed extension in its lower, upper and
// title case spellings and returns the first that exists.
func (r *Resolver) lookup(store AssetStore, base string) (string, bool) {
	for _, ext := range r.extensions {
		for _, variant := range extensionVariants(ext) {
			rel := base + variant
			if store.Exists(rel) {
				return rel, true
			}
		}
	}
	return "", false
}

// StripExtension removes one trailing allowed extension, ignoring case.
func (r *Resolver) StripExtension(name string) string {
	for _, ext := range r.extensions {
		if len(name) > len(ext) && strings.EqualFold(name[len(name)-len(ext):], ext) {
			return name[:len(name)-len(ext)]
		}
	}
	return name
}

// HasAllowedExtension reports whether name ends in an allowed extension.
func (r *Resolver) HasAllowedExtension(name string) bool {
	return r.StripExtension(name) != name
}

func extensionVariants(ext string) []string {
	lower := strings.ToLower(ext)
	title := lower
	if len(lower) > 1 {
		title = lower[:1] + strings.ToUpper(lower[1:2]) + lower[2:]
	}

	variants := make([]string, 0, 4)
	seen := make(map[string]bool, 4)
	for _, v := range []string{ext, lower, strings.ToUpper(ext), title} {
		if !seen[v] {
			seen[v] = true
			variants = append(variants, v)
		}
	}
	return variants
}

// validSegment rejects empty names, dot segments and anything containing a
// path separator.
func validSegment(s string) bool {
	if s == "" || s == "." || s == ".." {
		return false
	}
	return !strings.ContainsAny(s, "/\\\x00")
}
