package tracker

import "errors"

var (
	// ErrInvalidParams is returned when tracker parameters fail validation
	ErrInvalidParams = errors.New("invalid tracker parameters")

	// ErrEmbeddingDimension is returned when the embedding collaborator
	// produces vectors of the wrong length
	ErrEmbeddingDimension = errors.New("embedding has wrong dimension")

	// ErrEmbeddingCount is returned when the embedding collaborator does not
	// produce exactly one vector per requested box
	ErrEmbeddingCount = errors.New("embedding count does not match box count")

	// ErrAffineShape is returned when the motion compensation collaborator
	// produces a malformed affine transform
	ErrAffineShape = errors.New("malformed affine transform")
)
