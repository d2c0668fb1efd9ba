/*
Package tracker implements the Deep OC-SORT multi-object tracker.

Each frame the Tracker receives the detector boxes and scores, predicts every
live track forward with its motion filter, and associates detections to
tracks in two phases.  The first combines IoU, velocity direction
consistency and appearance embedding similarity.  The second recovers
leftover pairs by comparing detections against the last observation of
each unmatched track.  Unmatched high confidence detections start new
tracks, tracks unmatched for more than MaxAge frames are removed.

Appearance embeddings and camera motion compensation are supplied by
collaborators implementing EmbeddingComputer and MotionCompensator, see the
embedding and cmc packages.

	trk, err := tracker.NewTracker(tracker.DefaultParams(),
		tracker.WithEmbeddingComputer(computer),
		tracker.WithMotionCompensator(compensator),
	)

	outs, err := trk.Update(dets, tracker.Frame{Image: img, Tag: "000001"})
*/
package tracker
