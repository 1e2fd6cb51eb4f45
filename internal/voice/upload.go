package voice

import (
	"errors"
	"fmt"
	"path"
	"path/filepath"
	"strings"

	"github.com/charmbracelet/log"
	"github.com/dustin/go-humanize"
	"golang.org/x/text/unicode/norm"

	"github.com/voicenexus/voicenexus/internal/audio"
)

// ErrInvalidUpload indicates an upload that was refused before storage.
var ErrInvalidUpload = errors.New("invalid voice upload")

// UploadResult is reported back to the uploading client.
type UploadResult struct {
	Success bool   `json:"success"`
	Message string `json:"message"`
	VoiceID string `json:"voice_id,omitempty"`
	Emotion string `json:"emotion,omitempty"`
}

// Uploader validates and stores new preset assets.
type Uploader struct {
	presets  AssetStore
	resolver *Resolver
	catalog  *Catalog
	maxSize  int64
	logger   *log.Logger
}

// NewUploader returns an Uploader writing into presets. catalog may be nil.
func NewUploader(presets AssetStore, resolver *Resolver, catalog *Catalog, maxSize int64) *Uploader {
	return &Uploader{
		presets:  presets,
		resolver: resolver,
		catalog:  catalog,
		maxSize:  maxSize,
		logger:   log.WithPrefix("upload"),
	}
}

// MaxSize returns the largest accepted upload in bytes.
func (u *Uploader) MaxSize() int64 {
	return u.maxSize
}

// Upload stores data as presets/<voiceID>/<emotion><ext>, where ext comes
// from filename. WAV uploads must decode to a non-empty stream with a
// positive sample rate.
func (u *Uploader) Upload(voiceID, emotion, filename string, data []byte) (UploadResult, error) {
	voiceID = norm.NFC.String(strings.TrimSpace(voiceID))
	emotion = norm.NFC.String(strings.TrimSpace(emotion))
	if voiceID == "" {
		voiceID = "default"
	}
	if emotion == "" {
		emotion = DefaultEmotion
	}
	voiceID = u.resolver.StripExtension(voiceID)
	emotion = u.resolver.StripExtension(emotion)

	if !validSegment(voiceID) || !validSegment(emotion) || strings.HasPrefix(voiceID, ".") {
		return UploadResult{}, fmt.Errorf("%w: invalid voice id or emotion", ErrInvalidUpload)
	}

	ext := strings.ToLower(filepath.Ext(filename))
	if !u.resolver.HasAllowedExtension("x" + ext) {
		return UploadResult{}, fmt.Errorf("%w: only %s files are supported", ErrInvalidUpload, strings.Join(u.resolver.Extensions(), ", "))
	}

	if u.maxSize > 0 && int64(len(data)) > u.maxSize {
		return UploadResult{}, fmt.Errorf("%w: file is %s, limit is %s", ErrInvalidUpload,
			humanize.IBytes(uint64(len(data))), humanize.IBytes(uint64(u.maxSize)))
	}
	if len(data) == 0 {
		return UploadResult{}, fmt.Errorf("%w: file is empty", ErrInvalidUpload)
	}

	if ext == ".wav" {
		info, err := audio.ProbeWAV(data)
		if err != nil {
			return UploadResult{}, fmt.Errorf("%w: %v", ErrInvalidUpload, err)
		}
		u.logger.Debug("Upload decoded", "sample_rate", info.SampleRate, "channels", info.Channels, "duration", info.Duration)
	}

	rel := path.Join(voiceID, emotion+ext)
	if err := u.presets.Write(rel, data); err != nil {
		return UploadResult{}, fmt.Errorf("failed to store %s: %w", rel, err)
	}
	if u.catalog != nil {
		u.catalog.Invalidate()
	}

	u.logger.Info("Voice uploaded", "voice", voiceID, "emotion", emotion, "size", humanize.IBytes(uint64(len(data))))
	return UploadResult{
		Success: true,
		Message: fmt.Sprintf("voice %s/%s uploaded", voiceID, emotion),
		VoiceID: voiceID,
		Emotion: emotion,
	}, nil
}
