package artifact

import (
	"archive/tar"
	"archive/zip"
	"bytes"
	"compress/gzip"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/rs/zerolog/log"
)

// DefaultMarkerName is the completion marker written into the workload root
// after a successful unpack.
const DefaultMarkerName = ".materialized"

// Materialize wipes root and unpacks the bundle into it, then writes the
// completion marker. The marker is written last: its absence on a later boot
// means the previous unpack did not finish and the root must not be trusted.
func Materialize(key string, data []byte, root, markerName string) error {
	if markerName == "" {
		markerName = DefaultMarkerName
	}
	if err := os.RemoveAll(root); err != nil {
		return fmt.Errorf("clear workload root: %w", err)
	}
	if err := os.MkdirAll(root, 0755); err != nil {
		return fmt.Errorf("create workload root: %w", err)
	}

	switch {
	case bytes.HasPrefix(data, []byte("PK\x03\x04")):
		if err := unpackZip(data, root); err != nil {
			return fmt.Errorf("unpack zip: %w", err)
		}
	case bytes.HasPrefix(data, []byte{0x1f, 0x8b}):
		if err := unpackTarGz(data, root); err != nil {
			return fmt.Errorf("unpack tar.gz: %w", err)
		}
	default:
		return fmt.Errorf("unrecognized archive format for %s", key)
	}

	sum := sha256.Sum256(data)
	marker := key + "\n" + hex.EncodeToString(sum[:]) + "\n"
	if err := os.WriteFile(filepath.Join(root, markerName), []byte(marker), 0644); err != nil {
		return fmt.Errorf("write completion marker: %w", err)
	}
	log.Debug().Str("key", key).Str("root", root).Msg("bundle materialized")
	return nil
}

// MarkerMatches reports whether root holds a completed unpack of key. A
// marker without a full digest line is treated as absent: the write may have
// been cut short by a crash.
func MarkerMatches(root, markerName, key string) bool {
	if markerName == "" {
		markerName = DefaultMarkerName
	}
	b, err := os.ReadFile(filepath.Join(root, markerName))
	if err != nil {
		return false
	}
	lines := strings.Split(strings.TrimRight(string(b), "\n"), "\n")
	if len(lines) != 2 || lines[0] != key {
		return false
	}
	digest, err := hex.DecodeString(lines[1])
	return err == nil && len(digest) == sha256.Size
}

func unpackZip(data []byte, root string) error {
	zr, err := zip.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return err
	}
	for _, f := range zr.File {
		target, err := securePath(root, f.Name)
		if err != nil {
			return err
		}
		if f.FileInfo().IsDir() {
			if err := os.MkdirAll(target, 0755); err != nil {
				return err
			}
			continue
		}
		if err := os.MkdirAll(filepath.Dir(target), 0755); err != nil {
			return err
		}
		rc, err := f.Open()
		if err != nil {
			return err
		}
		if err := writeFile(target, rc, f.Mode()); err != nil {
			rc.Close()
			return err
		}
		rc.Close()
	}
	return nil
}

func unpackTarGz(data []byte, root string) error {
	gz, err := gzip.NewReader(bytes.NewReader(data))
	if err != nil {
		return err
	}
	defer gz.Close()
	tr := tar.NewReader(gz)
	for {
		hdr, err := tr.Next()
		if err == io.EOF {
			return nil
		}
		if err != nil {
			return err
		}
		target, err := securePath(root, hdr.Name)
		if err != nil {
			return err
		}
		switch hdr.Typeflag {
		case tar.TypeDir:
			if err := os.MkdirAll(target, 0755); err != nil {
				return err
			}
		case tar.TypeReg:
			if err := os.MkdirAll(filepath.Dir(target), 0755); err != nil {
				return err
			}
			if err := writeFile(target, tr, os.FileMode(hdr.Mode)); err != nil {
				return err
			}
		}
	}
}

// securePath rejects archive entries that would escape root. Entries like
// "./" resolve to root itself and are allowed; tar built with -C emits them.
func securePath(root, name string) (string, error) {
	target := filepath.Join(root, filepath.FromSlash(name))
	clean := filepath.Clean(root)
	if target == clean {
		return target, nil
	}
	if !strings.HasPrefix(target, clean+string(os.PathSeparator)) {
		return "", fmt.Errorf("archive entry escapes root: %s", name)
	}
	return target, nil
}

func writeFile(target string, r io.Reader, mode os.FileMode) error {
	if mode == 0 {
		mode = 0644
	}
	f, err := os.OpenFile(target, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, mode)
	if err != nil {
		return err
	}
	if _, err := io.Copy(f, r); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}
