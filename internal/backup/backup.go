// Package backup implements tar.gz archiving and restoration of flux's
// on-disk state (SPEC_FULL.md §4.20, grounded on
// original_source/openclaw/backup.py), using archive/tar and compress/gzip
// as the teacher's own modules do for similar byte-stream work.
package backup

import (
	"archive/tar"
	"compress/gzip"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"
)

// sqliteDBs are the fixed relative paths of spec.md §6's four databases.
var sqliteDBs = []string{
	filepath.Join("data", "conversations.db"),
	filepath.Join("data", "auth.db"),
	filepath.Join("data", "audit.db"),
	filepath.Join("data", "webhooks.db"),
}

// jsonFiles are the standalone JSON state files included in every backup.
var jsonFiles = []string{
	filepath.Join("memory", "memories.json"),
	"usage_data.json",
}

// treeDirs are directories archived in full.
var treeDirs = []string{
	"knowledge",
}

// Manifest describes a completed backup or restore operation.
type Manifest struct {
	Path      string    `json:"path"`
	SizeBytes int64     `json:"size_bytes"`
	CreatedAt time.Time `json:"created_at"`
	Contents  []string  `json:"contents"`
}

// Create archives every present file/directory under dataDir into a
// flux-backup-YYYYMMDD-HHMMSS.tar.gz written to outDir. Missing files are
// skipped rather than treated as an error, matching the original's
// presence-check-before-archive behavior.
func Create(dataDir, outDir string) (*Manifest, error) {
	if err := os.MkdirAll(outDir, 0o755); err != nil {
		return nil, fmt.Errorf("backup: create output dir: %w", err)
	}

	name := fmt.Sprintf("flux-backup-%s.tar.gz", time.Now().UTC().Format("20060102-150405"))
	outPath := filepath.Join(outDir, name)

	f, err := os.Create(outPath)
	if err != nil {
		return nil, fmt.Errorf("backup: create archive: %w", err)
	}
	defer f.Close()

	gz := gzip.NewWriter(f)
	tw := tar.NewWriter(gz)

	var contents []string
	for _, rel := range sqliteDBs {
		ok, err := addFile(tw, dataDir, rel)
		if err != nil {
			return nil, err
		}
		if ok {
			contents = append(contents, rel)
		}
	}
	for _, rel := range jsonFiles {
		ok, err := addFile(tw, dataDir, rel)
		if err != nil {
			return nil, err
		}
		if ok {
			contents = append(contents, rel)
		}
	}
	for _, rel := range treeDirs {
		ok, err := addTree(tw, dataDir, rel)
		if err != nil {
			return nil, err
		}
		if ok {
			contents = append(contents, rel)
		}
	}

	if err := tw.Close(); err != nil {
		return nil, fmt.Errorf("backup: finalize tar: %w", err)
	}
	if err := gz.Close(); err != nil {
		return nil, fmt.Errorf("backup: finalize gzip: %w", err)
	}

	info, err := f.Stat()
	if err != nil {
		return nil, err
	}

	return &Manifest{
		Path:      outPath,
		SizeBytes: info.Size(),
		CreatedAt: time.Now().UTC(),
		Contents:  contents,
	}, nil
}

func addFile(tw *tar.Writer, dataDir, rel string) (bool, error) {
	src := filepath.Join(dataDir, rel)
	info, err := os.Stat(src)
	if os.IsNotExist(err) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	if info.IsDir() {
		return false, fmt.Errorf("backup: %s is a directory, expected a file", rel)
	}

	hdr, err := tar.FileInfoHeader(info, "")
	if err != nil {
		return false, err
	}
	hdr.Name = filepath.ToSlash(rel)
	if err := tw.WriteHeader(hdr); err != nil {
		return false, err
	}

	in, err := os.Open(src)
	if err != nil {
		return false, err
	}
	defer in.Close()
	if _, err := io.Copy(tw, in); err != nil {
		return false, err
	}
	return true, nil
}

func addTree(tw *tar.Writer, dataDir, rel string) (bool, error) {
	root := filepath.Join(dataDir, rel)
	if _, err := os.Stat(root); os.IsNotExist(err) {
		return false, nil
	} else if err != nil {
		return false, err
	}

	err := filepath.Walk(root, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		relPath, err := filepath.Rel(dataDir, path)
		if err != nil {
			return err
		}
		hdr, err := tar.FileInfoHeader(info, "")
		if err != nil {
			return err
		}
		hdr.Name = filepath.ToSlash(relPath)
		if info.IsDir() {
			hdr.Name += "/"
			return tw.WriteHeader(hdr)
		}
		if err := tw.WriteHeader(hdr); err != nil {
			return err
		}
		in, err := os.Open(path)
		if err != nil {
			return err
		}
		defer in.Close()
		_, err = io.Copy(tw, in)
		return err
	})
	if err != nil {
		return false, err
	}
	return true, nil
}

// Restore extracts archivePath into dataDir. Every tar member is validated
// before anything is written: an absolute path, a ".." path segment, or a
// symlink/hardlink/device node anywhere in the archive rejects the whole
// restore, matching spec.md §6's restore contract.
func Restore(archivePath, dataDir string) (*Manifest, error) {
	f, err := os.Open(archivePath)
	if err != nil {
		return nil, fmt.Errorf("backup: open archive: %w", err)
	}
	defer f.Close()

	if !strings.HasSuffix(archivePath, ".tar.gz") {
		return nil, fmt.Errorf("backup: %s is not a .tar.gz archive", archivePath)
	}

	gz, err := gzip.NewReader(f)
	if err != nil {
		return nil, fmt.Errorf("backup: open gzip stream: %w", err)
	}
	defer gz.Close()

	tr := tar.NewReader(gz)

	var headers []*tar.Header
	var bodies [][]byte

	for {
		hdr, err := tr.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("backup: read archive: %w", err)
		}
		if err := validateMember(hdr); err != nil {
			return nil, err
		}
		headers = append(headers, hdr)
		if hdr.Typeflag == tar.TypeReg {
			body, err := io.ReadAll(tr)
			if err != nil {
				return nil, fmt.Errorf("backup: read member %s: %w", hdr.Name, err)
			}
			bodies = append(bodies, body)
		} else {
			bodies = append(bodies, nil)
		}
	}

	if len(headers) == 0 {
		return nil, fmt.Errorf("backup: empty archive: %s", archivePath)
	}

	var contents []string
	seen := map[string]bool{}
	for i, hdr := range headers {
		dest := filepath.Join(dataDir, filepath.FromSlash(hdr.Name))
		switch hdr.Typeflag {
		case tar.TypeDir:
			if err := os.MkdirAll(dest, 0o755); err != nil {
				return nil, err
			}
		case tar.TypeReg:
			if err := os.MkdirAll(filepath.Dir(dest), 0o755); err != nil {
				return nil, err
			}
			if err := os.WriteFile(dest, bodies[i], hdr.FileInfo().Mode().Perm()); err != nil {
				return nil, err
			}
			for _, suffix := range []string{"-wal", "-shm"} {
				_ = os.Remove(dest + suffix)
			}
		}
		top := strings.SplitN(filepath.ToSlash(hdr.Name), "/", 2)[0]
		if !seen[top] {
			seen[top] = true
			contents = append(contents, top)
		}
	}
	sort.Strings(contents)

	info, err := f.Stat()
	if err != nil {
		return nil, err
	}
	return &Manifest{
		Path:      archivePath,
		SizeBytes: info.Size(),
		CreatedAt: time.Now().UTC(),
		Contents:  contents,
	}, nil
}

func validateMember(hdr *tar.Header) error {
	name := hdr.Name
	if filepath.IsAbs(name) || strings.HasPrefix(name, "/") {
		return fmt.Errorf("backup: invalid archive member (absolute path): %s", name)
	}
	for _, part := range strings.Split(filepath.ToSlash(name), "/") {
		if part == ".." {
			return fmt.Errorf("backup: invalid archive member (path traversal): %s", name)
		}
	}
	switch hdr.Typeflag {
	case tar.TypeSymlink, tar.TypeLink:
		return fmt.Errorf("backup: invalid archive member (symlink/hardlink): %s", name)
	case tar.TypeChar, tar.TypeBlock, tar.TypeFifo:
		return fmt.Errorf("backup: invalid archive member (device/special file): %s", name)
	}
	return nil
}
