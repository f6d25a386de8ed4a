// Package constants provides shared constants used across the codebase.
package constants

import "time"

// HTTP API constants
const (
	// EventChannelBuffer is the buffer size of each SSE listener channel
	EventChannelBuffer = 256

	// MaxRequestBodySize bounds JSON request bodies, which carry base64 images
	MaxRequestBodySize = 256 << 20

	// DefaultNearestK is the number of neighbors returned when a request omits k
	DefaultNearestK = 10

	// JobRetention is how long finished scan jobs stay queryable
	JobRetention = time.Hour
)

// Local scan constants
const (
	// MaxImageFileSize is the largest candidate file read from disk
	MaxImageFileSize = 64 << 20

	// IndexSaveTimeout bounds writing HNSW indexes on shutdown
	IndexSaveTimeout = 30 * time.Second
)

// ImageExtensions lists the file extensions picked up when loading a directory.
var ImageExtensions = []string{".jpg", ".jpeg", ".png", ".gif", ".bmp", ".tif", ".tiff", ".webp"}
