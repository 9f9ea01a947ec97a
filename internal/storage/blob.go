package storage

import "io"

// BlobStore holds uploaded binary assets, currently question images.
type BlobStore interface {
	Put(key string, r io.Reader) (string, error)
	Get(key string) (io.ReadCloser, error)
}
