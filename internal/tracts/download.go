package tracts

import (
	"archive/zip"
	"context"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/jlaffaye/ftp"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/meridian-analytics/georate/internal/resilience"
)

const (
	httpsBase = "https://www2.census.gov/geo/tiger"
	ftpHost   = "ftp2.census.gov:21"
	ftpBase   = "/geo/tiger"
)

// Downloader fetches TIGER tract ZIPs into a local directory, skipping
// files already on disk. Transport is HTTPS by default; FTP is available
// for networks where the HTTPS mirror is blocked.
type Downloader struct {
	dir     string
	useFTP  bool
	client  *http.Client
	limiter *rate.Limiter
	retry   resilience.RetryConfig
}

// DownloaderOption configures a Downloader.
type DownloaderOption func(*Downloader)

// WithFTP switches the transport to anonymous FTP.
func WithFTP() DownloaderOption {
	return func(d *Downloader) { d.useFTP = true }
}

// WithHTTPClient sets a custom HTTP client.
func WithHTTPClient(hc *http.Client) DownloaderOption {
	return func(d *Downloader) { d.client = hc }
}

// WithRateLimit sets the requests-per-second limit against census.gov.
func WithRateLimit(rps float64) DownloaderOption {
	return func(d *Downloader) { d.limiter = rate.NewLimiter(rate.Limit(rps), 1) }
}

// NewDownloader creates a Downloader writing into dir.
func NewDownloader(dir string, opts ...DownloaderOption) *Downloader {
	d := &Downloader{
		dir:     dir,
		client:  &http.Client{Timeout: 10 * time.Minute},
		limiter: rate.NewLimiter(2, 1),
		retry:   resilience.DefaultRetryConfig(),
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// zipName returns the TIGER tract product filename for a query.
func zipName(q Query) string {
	return fmt.Sprintf("tl_%d_%s_tract.zip", q.Year, q.StateFIPS)
}

// Fetch downloads (or reuses) the tract ZIP for a query, extracts it, and
// returns the path to the .shp file. Network failures get a single retry on
// transient errors, then fail hard.
func (d *Downloader) Fetch(ctx context.Context, q Query) (string, error) {
	log := zap.L().With(
		zap.String("component", "tracts.download"),
		zap.Int("year", q.Year),
		zap.String("state", q.StateFIPS),
	)

	if err := os.MkdirAll(d.dir, 0o755); err != nil {
		return "", eris.Wrap(err, "tracts: create download dir")
	}

	name := zipName(q)
	zipPath := filepath.Join(d.dir, name)

	if info, err := os.Stat(zipPath); err == nil && info.Size() > 0 {
		log.Debug("zip already on disk, skipping download", zap.String("path", zipPath))
	} else {
		log.Info("downloading tract boundaries")
		if err := d.limiter.Wait(ctx); err != nil {
			return "", eris.Wrap(err, "tracts: rate limit")
		}
		err := resilience.Do(ctx, d.retry, func(ctx context.Context) error {
			if d.useFTP {
				return d.downloadFTP(ctx, q, zipPath)
			}
			return d.downloadHTTP(ctx, q, zipPath)
		})
		if err != nil {
			return "", resilience.NewNetworkError("tracts", name, err)
		}
	}

	extractDir := filepath.Join(d.dir, strings.TrimSuffix(name, ".zip"))
	if err := os.MkdirAll(extractDir, 0o755); err != nil {
		return "", eris.Wrap(err, "tracts: create extract dir")
	}
	if err := extractZIP(zipPath, extractDir); err != nil {
		return "", eris.Wrap(err, "tracts: extract zip")
	}

	shpPath, err := findFileByExt(extractDir, ".shp")
	if err != nil {
		return "", eris.Wrap(err, "tracts: find .shp file")
	}
	return shpPath, nil
}

func (d *Downloader) downloadHTTP(ctx context.Context, q Query, dest string) error {
	url := fmt.Sprintf("%s/TIGER%d/TRACT/%s", httpsBase, q.Year, zipName(q))

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return eris.Wrap(err, "build request")
	}

	resp, err := d.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close() //nolint:errcheck

	if resp.StatusCode != http.StatusOK {
		err := eris.Errorf("download returned status %d", resp.StatusCode)
		if resilience.IsTransientHTTPStatus(resp.StatusCode) {
			return resilience.NewTransientError(err, resp.StatusCode)
		}
		return err
	}

	return writeFile(dest, resp.Body)
}

func (d *Downloader) downloadFTP(ctx context.Context, q Query, dest string) error {
	conn, err := ftp.Dial(ftpHost, ftp.DialWithTimeout(30*time.Second), ftp.DialWithContext(ctx))
	if err != nil {
		return eris.Wrap(err, "ftp dial")
	}
	defer conn.Quit() //nolint:errcheck

	if err := conn.Login("anonymous", "anonymous@"); err != nil {
		return eris.Wrap(err, "ftp login")
	}

	path := fmt.Sprintf("%s/TIGER%d/TRACT/%s", ftpBase, q.Year, zipName(q))
	resp, err := conn.Retr(path)
	if err != nil {
		return eris.Wrapf(err, "ftp retrieve %s", path)
	}
	defer resp.Close() //nolint:errcheck

	return writeFile(dest, resp)
}

func writeFile(dest string, r io.Reader) error {
	f, err := os.Create(dest)
	if err != nil {
		return eris.Wrap(err, "create file")
	}
	defer f.Close() //nolint:errcheck

	if _, err := io.Copy(f, r); err != nil {
		return eris.Wrap(err, "write file")
	}
	return nil
}

// extractZIP extracts a ZIP archive to the destination directory.
func extractZIP(zipPath, destDir string) error {
	r, err := zip.OpenReader(zipPath)
	if err != nil {
		return eris.Wrap(err, "open zip")
	}
	defer r.Close() //nolint:errcheck

	for _, f := range r.File {
		if f.FileInfo().IsDir() {
			continue
		}
		destPath := filepath.Join(destDir, filepath.Base(f.Name))

		rc, err := f.Open()
		if err != nil {
			return eris.Wrapf(err, "open zip entry %s", f.Name)
		}

		outFile, err := os.Create(destPath)
		if err != nil {
			_ = rc.Close()
			return eris.Wrapf(err, "create %s", destPath)
		}

		if _, err := io.Copy(outFile, rc); err != nil {
			_ = outFile.Close()
			_ = rc.Close()
			return eris.Wrapf(err, "extract %s", f.Name)
		}
		_ = outFile.Close()
		_ = rc.Close()
	}

	return nil
}

// findFileByExt finds the first file with the given extension in a directory.
func findFileByExt(dir, ext string) (string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return "", eris.Wrap(err, "read directory")
	}
	for _, e := range entries {
		if !e.IsDir() && strings.HasSuffix(strings.ToLower(e.Name()), ext) {
			return filepath.Join(dir, e.Name()), nil
		}
	}
	return "", eris.Errorf("no %s file found in %s", ext, dir)
}
