package store

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestVCLStoreLoadMissingFileIsEmpty(t *testing.T) {
	a := assert.New(t)

	s := NewVCLStore(filepath.Join(t.TempDir(), "vcl"))
	body, err := s.Load()
	a.Nil(err)
	a.Equal("", body)
}

func TestVCLStoreSaveAndLoadRoundTrip(t *testing.T) {
	a := assert.New(t)

	s := NewVCLStore(filepath.Join(t.TempDir(), "vcl"))
	body := "vcl 4.0;\nbackend default { .host = \"127.0.0.1\"; }\n"
	a.Nil(s.Save(body))

	loaded, err := s.Load()
	a.Nil(err)
	a.Equal(body, loaded)
}

func TestFingerprintStability(t *testing.T) {
	a := assert.New(t)

	body := "vcl 4.0;\n"
	f1 := Fingerprint(body)
	f2 := Fingerprint(body)
	a.Equal(f1, f2)
	a.Equal(40, len(f1))
	a.NotEqual(f1, Fingerprint("vcl 4.0;\nsub vcl_recv {}\n"))
}
