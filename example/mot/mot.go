// Command mot replays MOTChallenge format detections through the Deep
// OC-SORT tracker and writes tracking results in the same format.
//
// Supplying the sequence image directory enables camera motion compensation,
// adding a ReID model enables appearance embeddings.
package main

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/akamensky/argparse"
	"github.com/cyclopcam/logs"
	"github.com/swdee/go-deepocsort/cmc"
	"github.com/swdee/go-deepocsort/embedding"
	"github.com/swdee/go-deepocsort/render"
	"github.com/swdee/go-deepocsort/tracker"
	"gocv.io/x/gocv"
)

func main() {
	logger, err := logs.NewLog()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to create logger: %v\n", err)
		os.Exit(1)
	}

	parser := argparse.NewParser("mot", "Run Deep OC-SORT over MOTChallenge detections")
	detFile := parser.String("d", "detections", &argparse.Options{Help: "det.txt detections file", Required: true})
	outFile := parser.String("o", "output", &argparse.Options{Help: "Results file to write", Default: "results.txt"})
	imgDir := parser.String("i", "images", &argparse.Options{Help: "Sequence image directory containing %06d.jpg frames"})
	modelFile := parser.String("m", "model", &argparse.Options{Help: "ReID model file loaded with OpenCV DNN, requires --images"})
	paramsFile := parser.String("p", "params", &argparse.Options{Help: "JSON file overriding tracker parameters"})
	cacheDir := parser.String("c", "cache", &argparse.Options{Help: "Directory to persist embedding and camera motion caches"})
	overlayDir := parser.String("", "overlay", &argparse.Options{Help: "Directory to write association overlay images"})
	poolSize := parser.Int("n", "pool", &argparse.Options{Help: "Number of ReID model instances", Default: 1})
	verbose := parser.Flag("v", "verbose", &argparse.Options{Help: "Log per frame tracker details"})
	err = parser.Parse(os.Args)
	if err != nil {
		logger.Errorf(parser.Usage(err))
		os.Exit(1)
	}

	if err := run(logger, options{
		detFile:    *detFile,
		outFile:    *outFile,
		imgDir:     *imgDir,
		modelFile:  *modelFile,
		paramsFile: *paramsFile,
		cacheDir:   *cacheDir,
		overlayDir: *overlayDir,
		poolSize:   *poolSize,
		verbose:    *verbose,
	}); err != nil {
		logger.Errorf("%v", err)
		os.Exit(1)
	}
}

type options struct {
	detFile    string
	outFile    string
	imgDir     string
	modelFile  string
	paramsFile string
	cacheDir   string
	overlayDir string
	poolSize   int
	verbose    bool
}

func run(logger logs.Log, opt options) error {

	params := tracker.DefaultParams()

	if opt.paramsFile != "" {
		p, err := tracker.LoadParams(opt.paramsFile)
		if err != nil {
			return err
		}
		params = p
	}

	if opt.modelFile != "" && opt.imgDir == "" {
		return fmt.Errorf("--model requires --images")
	}

	// collaborators need pixels
	params.CMCOff = params.CMCOff || opt.imgDir == ""
	params.EmbeddingOff = params.EmbeddingOff || opt.modelFile == ""

	f, err := os.Open(opt.detFile)
	if err != nil {
		return fmt.Errorf("failed to open detections: %w", err)
	}

	frames, err := readDetections(f)
	f.Close()

	if err != nil {
		return fmt.Errorf("failed to parse %s: %w", opt.detFile, err)
	}

	var trkOpts []tracker.Option

	if opt.verbose {
		trkOpts = append(trkOpts, tracker.WithLogger(logger))
	}

	if !params.CMCOff {
		cfg := cmc.DefaultConfig()
		if opt.cacheDir != "" {
			cfg.CachePath = filepath.Join(opt.cacheDir, "cmc.json")
		}

		comp, err := cmc.NewCompensator(cfg, logger)
		if err != nil {
			return err
		}
		defer comp.Close()

		trkOpts = append(trkOpts, tracker.WithMotionCompensator(comp))
	}

	if !params.EmbeddingOff {
		pool, err := embedding.NewPool(opt.poolSize, func(int) (embedding.Model, error) {
			return embedding.NewNetModel(opt.modelFile, embedding.OSNetConfig())
		})
		if err != nil {
			return fmt.Errorf("error loading reid model: %w", err)
		}
		defer pool.Close()

		cfg := embedding.DefaultConfig()
		if opt.cacheDir != "" {
			cfg.CachePath = filepath.Join(opt.cacheDir, "embeddings.cache")
		}

		comp, err := embedding.NewComputer(pool, cfg, logger)
		if err != nil {
			return err
		}

		trkOpts = append(trkOpts, tracker.WithEmbeddingComputer(comp))
	}

	if opt.overlayDir != "" && opt.imgDir != "" {
		if err := os.MkdirAll(opt.overlayDir, 0o755); err != nil {
			return err
		}

		trkOpts = append(trkOpts, tracker.WithOverlay(
			render.AssociationOverlay(render.WriteOverlay(opt.overlayDir), logger)))
	}

	trk, err := tracker.NewTracker(params, trkOpts...)
	if err != nil {
		return err
	}

	out, err := os.Create(opt.outFile)
	if err != nil {
		return fmt.Errorf("failed to create results file: %w", err)
	}
	defer out.Close()

	first, last := frameRange(frames)
	start := time.Now()
	ids := make(map[int]bool)

	for n := first; n <= last; n++ {

		frame := tracker.Frame{Tag: fmt.Sprintf("%06d", n)}

		if opt.imgDir != "" {
			path := filepath.Join(opt.imgDir, frame.Tag+".jpg")
			frame.Image = gocv.IMRead(path, gocv.IMReadColor)

			if frame.Image.Empty() {
				return fmt.Errorf("error reading image from %s", path)
			}
		}

		outs, err := trk.Update(frames[n], frame)

		if opt.imgDir != "" {
			frame.Image.Close()
		}

		if err != nil {
			return fmt.Errorf("frame %d: %w", n, err)
		}

		for _, o := range outs {
			ids[o.TrackID] = true
		}

		if err := writeResults(out, n, outs); err != nil {
			return fmt.Errorf("failed to write results: %w", err)
		}
	}

	elapsed := time.Since(start)
	count := last - first + 1

	if count > 0 {
		logger.Infof("Tracked %d frames in %s (%.1f FPS), %d identities",
			count, elapsed, float64(count)/elapsed.Seconds(), len(ids))
	}

	if opt.cacheDir != "" {
		if err := os.MkdirAll(opt.cacheDir, 0o755); err != nil {
			return err
		}

		if err := trk.DumpCache(); err != nil {
			return fmt.Errorf("failed to dump caches: %w", err)
		}
	}

	return nil
}
