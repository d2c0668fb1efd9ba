package embedding

import (
	"errors"
	"fmt"
	"sync"

	"github.com/cyclopcam/logs"
	"github.com/swdee/go-deepocsort/tracker"
	"gocv.io/x/gocv"
)

// ErrEmptyFrame is returned when embeddings are requested for a frame with
// no pixels
var ErrEmptyFrame = errors.New("frame image is empty")

// Config of a Computer
type Config struct {
	// BatchSize is the maximum number of crops passed to a Model at once
	BatchSize int
	// CachePath is the file the embedding cache is loaded from and dumped
	// to.  Empty disables persistence, the in memory cache is still used.
	CachePath string
}

// DefaultConfig returns a Config with batches of 16 crops and no cache file
func DefaultConfig() Config {
	return Config{BatchSize: 16}
}

// Computer extracts appearance embeddings of detection crops using a pool of
// ReID models.  It implements tracker.EmbeddingComputer and
// tracker.CacheDumper.
type Computer struct {
	pool  *Pool
	cfg   Config
	cache *Cache
	log   logs.Log
}

// NewComputer creates a Computer over the models in pool.  When cfg.CachePath
// names an existing cache file its entries are loaded.
func NewComputer(pool *Pool, cfg Config, log logs.Log) (*Computer, error) {

	if pool == nil {
		return nil, errors.New("embedding computer needs a model pool")
	}

	if cfg.BatchSize < 1 {
		cfg.BatchSize = DefaultConfig().BatchSize
	}

	c := &Computer{
		pool:  pool,
		cfg:   cfg,
		cache: NewCache(),
		log:   log,
	}

	if cfg.CachePath != "" {
		if err := c.cache.Load(cfg.CachePath); err != nil {
			return nil, err
		}

		c.infof("Loaded %d cached embedding frames from %s", c.cache.Len(), cfg.CachePath)
	}

	return c, nil
}

// ComputeEmbedding returns one L2 normalised embedding per box, in order
func (c *Computer) ComputeEmbedding(img gocv.Mat, boxes []tracker.Box, tag string) ([][]float32, error) {

	if len(boxes) == 0 {
		return nil, nil
	}

	if tag != "" {
		if embs, ok := c.cache.Get(tag, boxes); ok {
			return embs, nil
		}
	}

	if img.Empty() {
		return nil, ErrEmptyFrame
	}

	embs, err := c.embed(img, boxes)

	if err != nil {
		return nil, err
	}

	if tag != "" {
		if err := c.cache.Put(tag, boxes, embs); err != nil {
			c.warnf("Failed to cache embeddings for frame %s: %v", tag, err)
		}
	}

	return embs, nil
}

// embed splits boxes into batches and runs each batch on a model taken from
// the pool
func (c *Computer) embed(img gocv.Mat, boxes []tracker.Box) ([][]float32, error) {

	embs := make([][]float32, len(boxes))

	// waitgroup used to wait for all go-routines to complete
	var wg sync.WaitGroup
	errCh := make(chan error, (len(boxes)+c.cfg.BatchSize-1)/c.cfg.BatchSize)

	for start := 0; start < len(boxes); start += c.cfg.BatchSize {

		end := start + c.cfg.BatchSize
		if end > len(boxes) {
			end = len(boxes)
		}

		// pool.Get() blocks if no models are available in the pool
		model, err := c.pool.Get()
		if err != nil {
			wg.Wait()
			return nil, err
		}

		batch := NewBatch(end-start, model.InputSize())

		for _, box := range boxes[start:end] {
			if err := batch.Add(img, box); err != nil {
				batch.Close()
				c.pool.Return(model)
				wg.Wait()
				return nil, fmt.Errorf("error cropping detection: %w", err)
			}
		}

		wg.Add(1)

		go func(start int, model Model, batch *Batch) {
			defer wg.Done()
			defer c.pool.Return(model)
			defer batch.Close()

			feats, err := model.Embed(batch.Mats())

			if err != nil {
				errCh <- err
				return
			}

			if len(feats) != batch.Len() {
				errCh <- fmt.Errorf("model returned %d embeddings for %d crops", len(feats), batch.Len())
				return
			}

			for i, f := range feats {
				embs[start+i] = tracker.NormalizeVec(f)
			}
		}(start, model, batch)
	}

	wg.Wait()
	close(errCh)

	// return the first error
	for err := range errCh {
		return nil, err
	}

	return embs, nil
}

// Cache returns the embedding cache
func (c *Computer) Cache() *Cache {
	return c.cache
}

// DumpCache writes the embedding cache to Config.CachePath
func (c *Computer) DumpCache() error {

	if c.cfg.CachePath == "" {
		return nil
	}

	if err := c.cache.Dump(c.cfg.CachePath); err != nil {
		return err
	}

	c.infof("Dumped %d embedding frames to %s", c.cache.Len(), c.cfg.CachePath)

	return nil
}

func (c *Computer) infof(format string, args ...any) {
	if c.log != nil {
		c.log.Infof(format, args...)
	}
}

func (c *Computer) warnf(format string, args ...any) {
	if c.log != nil {
		c.log.Warnf(format, args...)
	}
}
