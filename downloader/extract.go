package downloader

import (
	"archive/tar"
	"archive/zip"
	"compress/gzip"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/pkg/errors"
	"k8s.io/klog/v2"
)

// safeJoin joins name to baseDir, refusing names that would land outside of it.
func safeJoin(baseDir, name string) (string, error) {
	target := filepath.Join(baseDir, name)
	rel, err := filepath.Rel(baseDir, target)
	if err != nil || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return "", errors.Errorf("archive entry %q escapes %q", name, baseDir)
	}
	return target, nil
}

func writeFile(target string, mode os.FileMode, r io.Reader) error {
	if err := os.MkdirAll(filepath.Dir(target), 0777); err != nil {
		return errors.Wrapf(err, "creating directory for %q", target)
	}
	if mode&0600 == 0 {
		mode = 0644
	}
	f, err := os.OpenFile(target, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, mode.Perm())
	if err != nil {
		return errors.Wrapf(err, "creating %q", target)
	}
	if _, err = io.Copy(f, r); err != nil {
		_ = f.Close()
		return errors.Wrapf(err, "writing %q", target)
	}
	return errors.Wrapf(f.Close(), "closing %q", target)
}

// Unzip extracts zipFile under baseDir. Existing files are overwritten.
func Unzip(zipFile, baseDir string) error {
	r, err := zip.OpenReader(zipFile)
	if err != nil {
		return errors.Wrapf(err, "opening zip file %q", zipFile)
	}
	defer func() { _ = r.Close() }()
	for _, entry := range r.File {
		target, err := safeJoin(baseDir, entry.Name)
		if err != nil {
			return err
		}
		if entry.FileInfo().IsDir() {
			if err = os.MkdirAll(target, 0777); err != nil {
				return errors.Wrapf(err, "creating directory %q", target)
			}
			continue
		}
		rc, err := entry.Open()
		if err != nil {
			return errors.Wrapf(err, "reading %q from %q", entry.Name, zipFile)
		}
		err = writeFile(target, entry.Mode(), rc)
		_ = rc.Close()
		if err != nil {
			return err
		}
	}
	klog.V(1).Infof("unzipped %d entries of %q into %q", len(r.File), zipFile, baseDir)
	return nil
}

// Untar extracts tarFile under baseDir. Files ending in `.gz` or `.tgz` are gunzipped first.
// Only directories and regular files are extracted.
func Untar(tarFile, baseDir string) error {
	f, err := os.Open(tarFile)
	if err != nil {
		return errors.Wrapf(err, "opening tar file %q", tarFile)
	}
	defer func() { _ = f.Close() }()
	var reader io.Reader = f
	if strings.HasSuffix(tarFile, ".gz") || strings.HasSuffix(tarFile, ".tgz") {
		gz, err := gzip.NewReader(f)
		if err != nil {
			return errors.Wrapf(err, "failed to un-gzip %q", tarFile)
		}
		defer func() { _ = gz.Close() }()
		reader = gz
	}
	tr := tar.NewReader(reader)
	count := 0
	for {
		header, err := tr.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			return errors.Wrapf(err, "reading tar file %q", tarFile)
		}
		target, err := safeJoin(baseDir, header.Name)
		if err != nil {
			return err
		}
		switch header.Typeflag {
		case tar.TypeDir:
			if err = os.MkdirAll(target, 0777); err != nil {
				return errors.Wrapf(err, "creating directory %q", target)
			}
		case tar.TypeReg:
			if err = writeFile(target, os.FileMode(header.Mode), tr); err != nil {
				return err
			}
			count++
		default:
			klog.V(1).Infof("Untar(%q): skipping %q of type %q", tarFile, header.Name, header.Typeflag)
		}
	}
	klog.V(1).Infof("untar'ed %d files of %q into %q", count, tarFile, baseDir)
	return nil
}
