package artifact

import (
	"archive/tar"
	"archive/zip"
	"bytes"
	"compress/gzip"
	"os"
	"path/filepath"
	"testing"
)

func zipBundle(t *testing.T, files map[string]string) []byte {
	t.Helper()
	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)
	for name, content := range files {
		w, err := zw.Create(name)
		if err != nil {
			t.Fatalf("zip create: %v", err)
		}
		if _, err := w.Write([]byte(content)); err != nil {
			t.Fatalf("zip write: %v", err)
		}
	}
	if err := zw.Close(); err != nil {
		t.Fatalf("zip close: %v", err)
	}
	return buf.Bytes()
}

func tarGzBundle(t *testing.T, files map[string]string) []byte {
	t.Helper()
	var buf bytes.Buffer
	gz := gzip.NewWriter(&buf)
	tw := tar.NewWriter(gz)
	for name, content := range files {
		if err := tw.WriteHeader(&tar.Header{Name: name, Mode: 0644, Size: int64(len(content))}); err != nil {
			t.Fatalf("tar header: %v", err)
		}
		if _, err := tw.Write([]byte(content)); err != nil {
			t.Fatalf("tar write: %v", err)
		}
	}
	if err := tw.Close(); err != nil {
		t.Fatalf("tar close: %v", err)
	}
	if err := gz.Close(); err != nil {
		t.Fatalf("gzip close: %v", err)
	}
	return buf.Bytes()
}

func TestMaterializeZip(t *testing.T) {
	root := filepath.Join(t.TempDir(), "workload")
	data := zipBundle(t, map[string]string{
		"workload.yaml":    "services: []\n",
		"conf/settings.sh": "export X=1\n",
	})

	if err := Materialize("bundles/v3.zip", data, root, ""); err != nil {
		t.Fatalf("materialize: %v", err)
	}
	b, err := os.ReadFile(filepath.Join(root, "workload.yaml"))
	if err != nil {
		t.Fatalf("read manifest: %v", err)
	}
	if string(b) != "services: []\n" {
		t.Errorf("manifest content = %q", b)
	}
	if _, err := os.Stat(filepath.Join(root, "conf", "settings.sh")); err != nil {
		t.Errorf("nested file missing: %v", err)
	}
	if !MarkerMatches(root, "", "bundles/v3.zip") {
		t.Errorf("marker does not match after successful unpack")
	}
	if MarkerMatches(root, "", "bundles/v4.zip") {
		t.Errorf("marker matched wrong key")
	}
}

func TestMaterializeTarGz(t *testing.T) {
	root := filepath.Join(t.TempDir(), "workload")
	data := tarGzBundle(t, map[string]string{"workload.yaml": "services: []\n"})

	if err := Materialize("bundles/v3.tar.gz", data, root, ""); err != nil {
		t.Fatalf("materialize: %v", err)
	}
	if _, err := os.Stat(filepath.Join(root, "workload.yaml")); err != nil {
		t.Fatalf("manifest missing: %v", err)
	}
}

// A crash before the marker is written leaves stale content behind; the next
// materialization must wipe it rather than merge.
func TestMaterializeWipesPartialState(t *testing.T) {
	root := filepath.Join(t.TempDir(), "workload")
	if err := os.MkdirAll(root, 0755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	if err := os.WriteFile(filepath.Join(root, "leftover.txt"), []byte("stale"), 0644); err != nil {
		t.Fatalf("write leftover: %v", err)
	}
	if MarkerMatches(root, "", "bundles/v3.zip") {
		t.Fatalf("marker matched with no marker file present")
	}

	data := zipBundle(t, map[string]string{"workload.yaml": "services: []\n"})
	if err := Materialize("bundles/v3.zip", data, root, ""); err != nil {
		t.Fatalf("materialize: %v", err)
	}
	if _, err := os.Stat(filepath.Join(root, "leftover.txt")); !os.IsNotExist(err) {
		t.Errorf("stale content survived re-materialization")
	}
	if !MarkerMatches(root, "", "bundles/v3.zip") {
		t.Errorf("marker missing after re-materialization")
	}
}

func TestMaterializeRejectsCorruptArchive(t *testing.T) {
	root := filepath.Join(t.TempDir(), "workload")
	if err := Materialize("bundles/v3.zip", []byte("not an archive"), root, ""); err == nil {
		t.Fatalf("expected error for corrupt archive")
	}
	if MarkerMatches(root, "", "bundles/v3.zip") {
		t.Errorf("marker written despite failed unpack")
	}
}

// tar -C emits entries prefixed with "./", including one for the directory
// itself; those name the root, not an escape.
func TestMaterializeTarWithDotEntries(t *testing.T) {
	root := filepath.Join(t.TempDir(), "workload")

	var buf bytes.Buffer
	gz := gzip.NewWriter(&buf)
	tw := tar.NewWriter(gz)
	if err := tw.WriteHeader(&tar.Header{Name: "./", Mode: 0755, Typeflag: tar.TypeDir}); err != nil {
		t.Fatalf("tar header: %v", err)
	}
	content := "services: []\n"
	if err := tw.WriteHeader(&tar.Header{Name: "./workload.yaml", Mode: 0644, Size: int64(len(content))}); err != nil {
		t.Fatalf("tar header: %v", err)
	}
	if _, err := tw.Write([]byte(content)); err != nil {
		t.Fatalf("tar write: %v", err)
	}
	if err := tw.Close(); err != nil {
		t.Fatalf("tar close: %v", err)
	}
	if err := gz.Close(); err != nil {
		t.Fatalf("gzip close: %v", err)
	}

	if err := Materialize("bundles/v3.tgz", buf.Bytes(), root, ""); err != nil {
		t.Fatalf("materialize: %v", err)
	}
	if _, err := os.Stat(filepath.Join(root, "workload.yaml")); err != nil {
		t.Fatalf("manifest missing: %v", err)
	}
	if !MarkerMatches(root, "", "bundles/v3.tgz") {
		t.Errorf("marker does not match after successful unpack")
	}
}

// A marker missing or mangling its digest line was not fully written and
// must not short-circuit a fresh materialization.
func TestMarkerIgnoredWithoutDigest(t *testing.T) {
	root := t.TempDir()
	marker := filepath.Join(root, DefaultMarkerName)

	if err := os.WriteFile(marker, []byte("bundles/v3.zip\n"), 0644); err != nil {
		t.Fatalf("write marker: %v", err)
	}
	if MarkerMatches(root, "", "bundles/v3.zip") {
		t.Errorf("truncated marker accepted")
	}

	if err := os.WriteFile(marker, []byte("bundles/v3.zip\nnot-a-digest\n"), 0644); err != nil {
		t.Fatalf("write marker: %v", err)
	}
	if MarkerMatches(root, "", "bundles/v3.zip") {
		t.Errorf("mangled digest accepted")
	}
}

func TestMaterializeRejectsEscapingEntry(t *testing.T) {
	root := filepath.Join(t.TempDir(), "workload")
	data := tarGzBundle(t, map[string]string{"../evil.sh": "rm -rf /\n"})
	if err := Materialize("bundles/evil.tar.gz", data, root, ""); err == nil {
		t.Fatalf("expected error for path escaping root")
	}
}
