package main

import (
	"bufio"
	"fmt"
	"io"
	"sort"
	"strconv"
	"strings"

	"github.com/swdee/go-deepocsort/tracker"
)

// readDetections parses a MOTChallenge det.txt style file of
// frame,id,left,top,width,height,score[,...] lines into detections grouped
// by frame number
func readDetections(r io.Reader) (map[int][]tracker.Detection, error) {

	frames := make(map[int][]tracker.Detection)

	scanner := bufio.NewScanner(r)
	lineNum := 0

	for scanner.Scan() {
		lineNum++

		line := strings.TrimSpace(scanner.Text())

		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}

		parts := strings.Split(line, ",")

		if len(parts) < 7 {
			return nil, fmt.Errorf("line %d: expected at least 7 fields, got %d", lineNum, len(parts))
		}

		vals := make([]float64, 7)

		for i := range vals {
			v, err := strconv.ParseFloat(strings.TrimSpace(parts[i]), 64)

			if err != nil {
				return nil, fmt.Errorf("line %d field %d: %w", lineNum, i+1, err)
			}

			vals[i] = v
		}

		frame := int(vals[0])
		left, top, w, h := vals[2], vals[3], vals[4], vals[5]

		frames[frame] = append(frames[frame], tracker.Detection{
			Box:   tracker.NewBox(left, top, left+w, top+h),
			Score: vals[6],
		})
	}

	if err := scanner.Err(); err != nil {
		return nil, err
	}

	return frames, nil
}

// frameRange returns the first and last frame numbers present
func frameRange(frames map[int][]tracker.Detection) (int, int) {

	if len(frames) == 0 {
		return 0, -1
	}

	keys := make([]int, 0, len(frames))

	for k := range frames {
		keys = append(keys, k)
	}

	sort.Ints(keys)

	return keys[0], keys[len(keys)-1]
}

// writeResults appends the outputs of a frame in MOTChallenge result format
func writeResults(w io.Writer, frame int, outs []tracker.Output) error {

	for _, o := range outs {
		tlwh := o.Box.ToTLWH()

		_, err := fmt.Fprintf(w, "%d,%d,%.2f,%.2f,%.2f,%.2f,1,-1,-1,-1\n",
			frame, o.TrackID, tlwh[0], tlwh[1], tlwh[2], tlwh[3])

		if err != nil {
			return err
		}
	}

	return nil
}
