package vector

import "errors"

var (
	ErrNotFound          = errors.New("collection not found")
	ErrAlreadyExists     = errors.New("collection already exists")
	ErrInvalidName       = errors.New("invalid collection name")
	ErrDimensionMismatch = errors.New("embedding dimension mismatch")
	ErrLengthMismatch    = errors.New("parallel arrays differ in length")
	ErrInvalidEmbedding  = errors.New("embedding holds NaN or Inf")
	ErrInvalidMetadata   = errors.New("invalid metadata value")
	ErrInvalidID         = errors.New("invalid document id")
	ErrInvalidFilter     = errors.New("invalid where filter")
)
