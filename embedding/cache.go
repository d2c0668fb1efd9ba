package embedding

import (
	"bufio"
	"bytes"
	"crypto/sha256"
	"encoding/binary"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"os"
	"sync"

	"github.com/swdee/go-deepocsort/tracker"
	"github.com/x448/float16"
)

// cacheMagic identifies an embedding cache file
var cacheMagic = [4]byte{'D', 'O', 'C', 'E'}

const cacheVersion uint16 = 1

// ErrCacheFormat is returned when loading a file that is not an embedding
// cache
var ErrCacheFormat = errors.New("invalid embedding cache file")

// Cache memoises the embeddings of a frame keyed by the frame tag and the
// boxes embedded, so replaying a sequence skips inference.  Vectors are
// persisted as IEEE half floats.
type Cache struct {
	mu      sync.Mutex
	entries map[string][][]float32
}

// NewCache returns an empty cache
func NewCache() *Cache {
	return &Cache{entries: make(map[string][][]float32)}
}

// FingerprintHash returns a hex encoded SHA-256 hash of the box
// coordinates in little endian form
func FingerprintHash(boxes []tracker.Box) (string, error) {

	buf := new(bytes.Buffer)

	for _, b := range boxes {
		if err := binary.Write(buf, binary.LittleEndian, [4]float64{b.X1, b.Y1, b.X2, b.Y2}); err != nil {
			return "", err
		}
	}

	sum := sha256.Sum256(buf.Bytes())

	return hex.EncodeToString(sum[:]), nil
}

// cacheKey returns the key of a frame tag and its boxes
func cacheKey(tag string, boxes []tracker.Box) (string, error) {

	hash, err := FingerprintHash(boxes)

	if err != nil {
		return "", fmt.Errorf("error hashing boxes: %w", err)
	}

	return tag + "/" + hash, nil
}

// Get returns the cached embeddings for tag and boxes
func (c *Cache) Get(tag string, boxes []tracker.Box) ([][]float32, bool) {

	key, err := cacheKey(tag, boxes)
	if err != nil {
		return nil, false
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	embs, ok := c.entries[key]

	return embs, ok
}

// Put stores the embeddings for tag and boxes
func (c *Cache) Put(tag string, boxes []tracker.Box, embs [][]float32) error {

	key, err := cacheKey(tag, boxes)
	if err != nil {
		return err
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	c.entries[key] = embs

	return nil
}

// Len returns the number of cached frames
func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()

	return len(c.entries)
}

// Dump writes the cache to path, replacing any existing file
func (c *Cache) Dump(path string) error {

	tmp := path + ".tmp"

	f, err := os.Create(tmp)
	if err != nil {
		return fmt.Errorf("failed to create cache file: %w", err)
	}

	w := bufio.NewWriter(f)

	c.mu.Lock()
	err = c.write(w)
	c.mu.Unlock()

	if err == nil {
		err = w.Flush()
	}

	if cerr := f.Close(); err == nil {
		err = cerr
	}

	if err != nil {
		_ = os.Remove(tmp)
		return fmt.Errorf("failed to write cache file: %w", err)
	}

	return os.Rename(tmp, path)
}

// write encodes the entries as magic, version, count then per entry the key,
// vector count, dimension and half float values
func (c *Cache) write(w io.Writer) error {

	if _, err := w.Write(cacheMagic[:]); err != nil {
		return err
	}

	if err := binary.Write(w, binary.LittleEndian, cacheVersion); err != nil {
		return err
	}

	if err := binary.Write(w, binary.LittleEndian, uint32(len(c.entries))); err != nil {
		return err
	}

	for key, embs := range c.entries {

		if err := writeString(w, key); err != nil {
			return err
		}

		dim := 0
		if len(embs) > 0 {
			dim = len(embs[0])
		}

		if err := binary.Write(w, binary.LittleEndian, [2]uint32{uint32(len(embs)), uint32(dim)}); err != nil {
			return err
		}

		bits := make([]uint16, dim)

		for _, e := range embs {

			if len(e) != dim {
				return fmt.Errorf("entry %s has mixed dimensions", key)
			}

			for i, v := range e {
				bits[i] = float16.Fromfloat32(v).Bits()
			}

			if err := binary.Write(w, binary.LittleEndian, bits); err != nil {
				return err
			}
		}
	}

	return nil
}

// Load merges the entries of a cache file written by Dump.  A missing file
// is not an error.
func (c *Cache) Load(path string) error {

	f, err := os.Open(path)

	if errors.Is(err, os.ErrNotExist) {
		return nil
	}

	if err != nil {
		return fmt.Errorf("failed to open cache file: %w", err)
	}

	defer f.Close()

	entries, err := readEntries(bufio.NewReader(f))
	if err != nil {
		return fmt.Errorf("failed to read cache file %s: %w", path, err)
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	for k, v := range entries {
		c.entries[k] = v
	}

	return nil
}

// readEntries decodes the format written by write
func readEntries(r io.Reader) (map[string][][]float32, error) {

	var magic [4]byte

	if _, err := io.ReadFull(r, magic[:]); err != nil || magic != cacheMagic {
		return nil, ErrCacheFormat
	}

	var version uint16

	if err := binary.Read(r, binary.LittleEndian, &version); err != nil {
		return nil, err
	}

	if version != cacheVersion {
		return nil, fmt.Errorf("%w: version %d", ErrCacheFormat, version)
	}

	var count uint32

	if err := binary.Read(r, binary.LittleEndian, &count); err != nil {
		return nil, err
	}

	entries := make(map[string][][]float32)

	for n := uint32(0); n < count; n++ {

		key, err := readString(r)
		if err != nil {
			return nil, err
		}

		var shape [2]uint32

		if err := binary.Read(r, binary.LittleEndian, &shape); err != nil {
			return nil, err
		}

		if shape[0] > maxEntryVectors || shape[1] > maxEmbeddingDim {
			return nil, fmt.Errorf("%w: shape %dx%d", ErrCacheFormat, shape[0], shape[1])
		}

		embs := make([][]float32, shape[0])
		bits := make([]uint16, shape[1])

		for i := range embs {

			if err := binary.Read(r, binary.LittleEndian, bits); err != nil {
				return nil, err
			}

			embs[i] = make([]float32, shape[1])

			for j, b := range bits {
				embs[i][j] = float16.Frombits(b).Float32()
			}
		}

		entries[key] = embs
	}

	return entries, nil
}

func writeString(w io.Writer, s string) error {
	if err := binary.Write(w, binary.LittleEndian, uint32(len(s))); err != nil {
		return err
	}
	_, err := io.WriteString(w, s)
	return err
}

// limits bounding allocation when reading a corrupt file
const (
	maxKeyLen       = 1 << 16
	maxEntryVectors = 1 << 16
	maxEmbeddingDim = 1 << 14
)

func readString(r io.Reader) (string, error) {

	var n uint32

	if err := binary.Read(r, binary.LittleEndian, &n); err != nil {
		return "", err
	}

	if n > maxKeyLen {
		return "", fmt.Errorf("%w: key length %d", ErrCacheFormat, n)
	}

	buf := make([]byte, n)

	if _, err := io.ReadFull(r, buf); err != nil {
		return "", err
	}

	return string(buf), nil
}
