// Package storage holds template documents as files under one root.
package storage

import "time"

// FileInfo describes one stored document. Path uses forward slashes and is
// relative to the provider root.
type FileInfo struct {
	Path      string
	Size      int64
	Checksum  string
	UpdatedAt time.Time
}

// Provider stores documents by root-relative path.
type Provider interface {
	List(dir string) ([]FileInfo, error)
	Read(path string) ([]byte, error)
	Write(path string, content []byte) error
	Delete(path string) error
}
