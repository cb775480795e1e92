// Package downloader fetches the raw benchmark files and extracts them.
//
// Archives are extracted in Go (zip, tar, tar.gz), so no external tools are required.
package downloader

import (
	"compress/gzip"
	"encoding/csv"
	"fmt"
	"io"
	"net/http"
	"os"
	"path"

	humanize "github.com/dustin/go-humanize"
	"github.com/gomlx/gomlx/pkg/support/fsutil"
	"github.com/pkg/errors"
	"github.com/schollz/progressbar/v3"
	"k8s.io/klog/v2"
)

// progressWriter forwards writes to w while advancing a progress bar, in units of barUnit bytes
// so the bar never has more than ~1M steps.
type progressWriter struct {
	w                             io.Writer
	bar                           *progressbar.ProgressBar
	written                       int64
	barUnit, numUnits, addedUnits int64
}

func newProgressWriter(w io.Writer, contentLength int64) *progressWriter {
	pw := &progressWriter{w: w, barUnit: 1}
	for contentLength > pw.barUnit*1024*1024 {
		pw.barUnit *= 1024
	}
	pw.numUnits = (contentLength + pw.barUnit - 1) / pw.barUnit
	pw.bar = progressbar.NewOptions64(pw.numUnits,
		progressbar.OptionSetDescription(humanize.IBytes(uint64(contentLength))),
		progressbar.OptionUseANSICodes(true),
		progressbar.OptionEnableColorCodes(true),
		progressbar.OptionSetTheme(progressbar.ThemeUnicode),
	)
	return pw
}

// Write implements io.Writer.
func (pw *progressWriter) Write(p []byte) (n int, err error) {
	n, err = pw.w.Write(p)
	pw.written += int64(n)
	if units := pw.written / pw.barUnit; units > pw.addedUnits {
		_ = pw.bar.Add64(units - pw.addedUnits)
		pw.addedUnits = units
	}
	return
}

func (pw *progressWriter) finish() {
	if pw.addedUnits < pw.numUnits {
		_ = pw.bar.Add64(pw.numUnits - pw.addedUnits)
	}
	_ = pw.bar.Close()
	fmt.Println()
}

// CopyWithProgressBar is like io.Copy, but displays a progress bar.
// If contentLength is unknown (<= 0), it copies without the bar.
func CopyWithProgressBar(dst io.Writer, src io.Reader, contentLength int64) (int64, error) {
	if contentLength <= 0 {
		return io.Copy(dst, src)
	}
	pw := newProgressWriter(dst, contentLength)
	n, err := io.Copy(pw, src)
	pw.finish()
	return n, err
}

// Client used for downloads. Tests may replace it.
var Client = &http.Client{}

// Download url to filePath, creating its directory if needed. It returns the number of bytes written.
//
// A partially written file is removed on failure.
func Download(url, filePath string, showProgressBar bool) (size int64, err error) {
	filePath, err = fsutil.ReplaceTildeInDir(filePath)
	if err != nil {
		return 0, err
	}
	if err = os.MkdirAll(path.Dir(filePath), 0777); err != nil && !os.IsExist(err) {
		return 0, errors.Wrapf(err, "failed to create the directory for the path %q", path.Dir(filePath))
	}
	resp, err := Client.Get(url)
	if err != nil {
		return 0, errors.Wrapf(err, "failed downloading %q", url)
	}
	defer func() { _ = resp.Body.Close() }()
	if resp.StatusCode != http.StatusOK {
		return 0, errors.Errorf("failed downloading %q: %s", url, resp.Status)
	}

	file, err := os.Create(filePath)
	if err != nil {
		return 0, errors.Wrapf(err, "failed creating file %q", filePath)
	}
	if showProgressBar {
		size, err = CopyWithProgressBar(file, resp.Body, resp.ContentLength)
	} else {
		size, err = io.Copy(file, resp.Body)
	}
	if err != nil {
		_ = file.Close()
		_ = os.Remove(filePath)
		return 0, errors.Wrapf(err, "downloading %q to %q", url, filePath)
	}
	if err = file.Close(); err != nil {
		return 0, errors.Wrapf(err, "failed closing %q", filePath)
	}
	klog.V(1).Infof("downloaded %s from %q to %q", humanize.IBytes(uint64(size)), url, filePath)
	return size, nil
}

// DownloadIfMissing downloads url to filePath, unless filePath already exists.
//
// If checkHash (sha256, hex encoded) is given, the file is validated against it. A file that fails the
// validation is removed.
func DownloadIfMissing(url, filePath, checkHash string) error {
	filePath, err := fsutil.ReplaceTildeInDir(filePath)
	if err != nil {
		return err
	}
	exists, err := fsutil.FileExists(filePath)
	if err != nil {
		return err
	}
	if !exists {
		fmt.Printf("Downloading %s ...\n", url)
		if _, err = Download(url, filePath, true); err != nil {
			return err
		}
	}
	return ValidateChecksum(filePath, checkHash)
}

// ValidateChecksum checks the sha256 of filePath, if checkHash is not empty.
func ValidateChecksum(filePath, checkHash string) error {
	if checkHash == "" {
		return nil
	}
	return fsutil.ValidateChecksum(filePath, checkHash)
}

// DownloadAndUnzipIfMissing downloads zipFile from url, if not there yet, and extracts it under
// unzipBaseDir, unless targetUnzipDir already exists.
func DownloadAndUnzipIfMissing(url, zipFile, unzipBaseDir, targetUnzipDir, checkHash string) error {
	return downloadAndExtractIfMissing(url, zipFile, unzipBaseDir, targetUnzipDir, checkHash, Unzip)
}

// DownloadAndUntarIfMissing downloads tarFile from url, if not there yet, and extracts it under
// untarBaseDir, unless targetUntarDir already exists. Gzip compression is detected from the suffix.
func DownloadAndUntarIfMissing(url, tarFile, untarBaseDir, targetUntarDir, checkHash string) error {
	return downloadAndExtractIfMissing(url, tarFile, untarBaseDir, targetUntarDir, checkHash, Untar)
}

func downloadAndExtractIfMissing(url, archive, baseDir, targetDir, checkHash string,
	extractFn func(archive, baseDir string) error) error {
	var err error
	for _, p := range []*string{&archive, &baseDir, &targetDir} {
		if *p, err = fsutil.ReplaceTildeInDir(*p); err != nil {
			return err
		}
	}
	if !path.IsAbs(archive) {
		archive = path.Join(baseDir, archive)
	}
	if !path.IsAbs(targetDir) {
		targetDir = path.Join(baseDir, targetDir)
	}
	exists, err := fsutil.FileExists(targetDir)
	if err != nil || exists {
		return err
	}
	if err = DownloadIfMissing(url, archive, checkHash); err != nil {
		return err
	}
	if err = extractFn(archive, baseDir); err != nil {
		return err
	}
	exists, err = fsutil.FileExists(targetDir)
	if err != nil {
		return err
	}
	if !exists {
		return errors.Errorf("downloaded from %q and extracted %q, but didn't get %q", url, archive, targetDir)
	}
	return nil
}

// ParseGzipCSVFile opens a `CSV.gz` file and calls perRowFn with the cells of each of its rows.
func ParseGzipCSVFile(filePath string, perRowFn func(row []string) error) error {
	f, err := os.Open(filePath)
	if err != nil {
		return errors.Wrapf(err, "failed to open file %q", filePath)
	}
	defer func() { _ = f.Close() }()
	gz, err := gzip.NewReader(f)
	if err != nil {
		return errors.Wrapf(err, "failed to un-gzip file %q", filePath)
	}
	r := csv.NewReader(gz)
	r.ReuseRecord = true
	for {
		record, err := r.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return errors.Wrapf(err, "while reading gzip+csv %q", filePath)
		}
		if err = perRowFn(record); err != nil {
			return errors.WithMessagef(err, "while processing file %q", filePath)
		}
	}
	return nil
}
