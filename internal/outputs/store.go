package outputs

import (
	"encoding/gob"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/charmbracelet/log"
	"github.com/dustin/go-humanize"
	"github.com/klauspost/compress/zstd"
)

var (
	// ErrNotFound is returned for a name the store does not hold.
	ErrNotFound = errors.New("output not found")

	// ErrTooLarge is returned when a blob exceeds the store capacity.
	ErrTooLarge = errors.New("output too large for store")

	// ErrInvalidName is returned when a name sanitizes to nothing.
	ErrInvalidName = errors.New("invalid output name")
)

const (
	indexFile       = ".index"
	compressedExt   = ".zst"
	compressMinSize = 1024
	maxNameLength   = 128
)

// Entry describes a stored blob.
type Entry struct {
	Name       string    `json:"name"`
	Size       int64     `json:"size"`
	DiskSize   int64     `json:"disk_size"`
	Compressed bool      `json:"compressed"`
	Created    time.Time `json:"created"`
	LastAccess time.Time `json:"-"`
}

// Stats holds store counters.
type Stats struct {
	Capacity  int64
	Size      int64
	Count     int
	Evictions int64
	LastEvict time.Time
}

// Store is a capacity-bounded blob store on the local filesystem.
type Store struct {
	dir      string
	capacity int64
	size     int64

	encoder *zstd.Encoder
	decoder *zstd.Decoder

	index map[string]*Entry
	stats Stats
	mu    sync.Mutex

	logger *log.Logger
	now    func() time.Time
}

// Open opens or creates a store in dir. A compression level of zero or less
// disables compression.
func Open(dir string, capacity int64, compressionLevel int) (*Store, error) {
	if capacity <= 0 {
		return nil, fmt.Errorf("capacity must be positive, got %d", capacity)
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create output directory: %w", err)
	}

	s := &Store{
		dir:      dir,
		capacity: capacity,
		index:    make(map[string]*Entry),
		logger:   log.WithPrefix("outputs"),
		now:      time.Now,
	}

	if compressionLevel > 0 {
		var err error
		s.encoder, err = zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.EncoderLevelFromZstd(compressionLevel)))
		if err != nil {
			return nil, fmt.Errorf("failed to create zstd encoder: %w", err)
		}
	}
	// Blobs written with compression stay readable after it is turned off.
	dec, err := zstd.NewReader(nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create zstd decoder: %w", err)
	}
	s.decoder = dec

	if err := s.loadIndex(); err != nil {
		s.logger.Warn("Output index unreadable, starting empty", "error", err)
		s.index = make(map[string]*Entry)
	}
	for name, e := range s.index {
		if _, err := os.Stat(s.path(e)); err != nil {
			delete(s.index, name)
			continue
		}
		s.size += e.DiskSize
	}

	s.logger.Debug("Output store opened", "dir", dir, "items", len(s.index), "size", humanize.IBytes(uint64(s.size)))
	return s, nil
}

// Dir returns the store directory.
func (s *Store) Dir() string {
	return s.dir
}

// Put stores data under the sanitized form of name, replacing any previous
// blob with that name.
func (s *Store) Put(name string, data []byte) (Entry, error) {
	name = SanitizeName(name)
	if name == "" {
		return Entry{}, ErrInvalidName
	}

	payload := data
	compressed := false
	if s.encoder != nil && len(data) > compressMinSize {
		if c := s.encoder.EncodeAll(data, nil); len(c) < len(data) {
			payload = c
			compressed = true
		}
	}
	diskSize := int64(len(payload))
	if diskSize > s.capacity {
		return Entry{}, ErrTooLarge
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if old, ok := s.index[name]; ok {
		s.removeLocked(old)
	}
	for s.size+diskSize > s.capacity && len(s.index) > 0 {
		s.evictOldestLocked()
	}

	now := s.now()
	e := &Entry{
		Name:       name,
		Size:       int64(len(data)),
		DiskSize:   diskSize,
		Compressed: compressed,
		Created:    now,
		LastAccess: now,
	}
	if err := writeFile(s.path(e), payload); err != nil {
		return Entry{}, fmt.Errorf("failed to write output: %w", err)
	}
	s.index[name] = e
	s.size += diskSize

	if err := s.saveIndex(); err != nil {
		s.logger.Warn("Failed to save output index", "error", err)
	}
	s.logger.Info("Output saved", "name", name, "size", humanize.IBytes(uint64(e.Size)), "on_disk", humanize.IBytes(uint64(diskSize)))
	return *e, nil
}

// Get returns the blob stored under name.
func (s *Store) Get(name string) ([]byte, Entry, error) {
	name = SanitizeName(name)

	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.index[name]
	if !ok {
		return nil, Entry{}, ErrNotFound
	}

	data, err := os.ReadFile(s.path(e))
	if err != nil {
		s.removeLocked(e)
		return nil, Entry{}, fmt.Errorf("%w: %v", ErrNotFound, err)
	}
	if e.Compressed {
		data, err = s.decoder.DecodeAll(data, nil)
		if err != nil {
			s.removeLocked(e)
			return nil, Entry{}, fmt.Errorf("output %q is corrupted: %w", name, err)
		}
	}

	e.LastAccess = s.now()
	return data, *e, nil
}

// List returns every entry sorted by name.
func (s *Store) List() []Entry {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]Entry, 0, len(s.index))
	for _, e := range s.index {
		out = append(out, *e)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// Delete removes name. Deleting an unknown name is not an error.
func (s *Store) Delete(name string) error {
	name = SanitizeName(name)

	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.index[name]
	if !ok {
		return nil
	}
	s.removeLocked(e)
	return s.saveIndex()
}

// Stats returns store counters.
func (s *Store) Stats() Stats {
	s.mu.Lock()
	defer s.mu.Unlock()

	st := s.stats
	st.Capacity = s.capacity
	st.Size = s.size
	st.Count = len(s.index)
	return st
}

// Close saves the index and releases the codecs.
func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	err := s.saveIndex()
	if s.encoder != nil {
		s.encoder.Close()
	}
	s.decoder.Close()
	return err
}

// SanitizeName reduces name to a safe single path element made of letters,
// digits, '.', '-' and '_'.
func SanitizeName(name string) string {
	var b strings.Builder
	for _, r := range strings.TrimSpace(name) {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9',
			r == '.', r == '-', r == '_':
			b.WriteRune(r)
		default:
			b.WriteByte('_')
		}
	}
	out := strings.Trim(b.String(), "._")
	if len(out) > maxNameLength {
		out = out[:maxNameLength]
	}
	return out
}

func (s *Store) path(e *Entry) string {
	if e.Compressed {
		return filepath.Join(s.dir, e.Name+compressedExt)
	}
	return filepath.Join(s.dir, e.Name)
}

func (s *Store) removeLocked(e *Entry) {
	os.Remove(s.path(e))
	delete(s.index, e.Name)
	s.size -= e.DiskSize
}

func (s *Store) evictOldestLocked() {
	var oldest *Entry
	for _, e := range s.index {
		if oldest == nil || e.LastAccess.Before(oldest.LastAccess) {
			oldest = e
		}
	}
	if oldest == nil {
		return
	}
	s.removeLocked(oldest)
	s.stats.Evictions++
	s.stats.LastEvict = s.now()
	s.logger.Info("Output evicted", "name", oldest.Name, "size", humanize.IBytes(uint64(oldest.Size)))
}

func (s *Store) loadIndex() error {
	f, err := os.Open(filepath.Join(s.dir, indexFile))
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return err
	}
	defer f.Close()
	return gob.NewDecoder(f).Decode(&s.index)
}

func (s *Store) saveIndex() error {
	path := filepath.Join(s.dir, indexFile)
	tmp := path + ".tmp"

	f, err := os.Create(tmp)
	if err != nil {
		return err
	}
	err = gob.NewEncoder(f).Encode(s.index)
	closeErr := f.Close()
	if err == nil {
		err = closeErr
	}
	if err != nil {
		os.Remove(tmp)
		return err
	}
	return os.Rename(tmp, path)
}

// writeFile writes through a temp file and renames it into place.
func writeFile(path string, data []byte) error {
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		os.Remove(tmp)
		return err
	}
	return os.Rename(tmp, path)
}
