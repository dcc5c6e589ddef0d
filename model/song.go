package model

import "time"

// Song represents one playable entry in the music manifest.
// Entries are immutable once published to the manifest.
type Song struct {
	ID       string  `json:"id"`
	Path     string  `json:"path"`     // Object key inside the audio bucket
	Name     string  `json:"name"`     // Display name
	Genre    string  `json:"genre"`
	Version  string  `json:"version"`  // e.g. "studio", "live", "remix"
	Duration float64 `json:"duration"` // Duration in seconds
	Size     int64   `json:"size"`     // Total byte size of the audio blob
}

// Manifest is the music list served to clients at /getMusicList.
type Manifest struct {
	GeneratedAt time.Time `json:"generatedAt"`
	Songs       []Song    `json:"songs"`
}

// BlobInfo describes an audio blob stored in the bucket.
type BlobInfo struct {
	Path         string
	Size         int64
	ContentType  string
	LastModified time.Time
}
