package store

import (
	"fmt"
	"os"
)

// VCLStore reads and rewrites the single opaque VCL blob file.
type VCLStore struct {
	path string
}

// NewVCLStore returns a store backed by path.
func NewVCLStore(path string) *VCLStore {
	return &VCLStore{path: path}
}

// Load slurps the VCL file. A missing file is treated as an empty blob.
func (s *VCLStore) Load() (string, error) {
	data, err := os.ReadFile(s.path)
	if err != nil {
		if os.IsNotExist(err) {
			return "", nil
		}
		return "", fmt.Errorf("couldn't read VCL file %s: %v", s.path, err)
	}
	return string(data), nil
}

// Save overwrites the VCL file with body, through a temp file and rename.
func (s *VCLStore) Save(body string) error {
	return atomicWriteFile(s.path, []byte(body), 0640)
}

// Fingerprint returns the hexadecimal SHA-1 of body: the VCL name the
// gateway assigns a blob when replaying it to the daemon.
func Fingerprint(body string) string {
	return SHA1Hex(body)
}
