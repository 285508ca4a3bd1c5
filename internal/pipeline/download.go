// SPDX-License-Identifier: MIT

package pipeline

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"github.com/google/renameio/v2"

	"github.com/genscene/genscene/internal/log"
	"github.com/genscene/genscene/internal/metrics"
	"github.com/genscene/genscene/internal/platform/httpx"
	pnet "github.com/genscene/genscene/internal/platform/net"
	"github.com/genscene/genscene/internal/store"
)

// defaultDownloader allows long transfers: generated videos can run to
// hundreds of megabytes on slow provider CDNs.
var defaultDownloader = httpx.NewClient(10 * time.Minute)

func (d Deps) downloader() *http.Client {
	if d.Downloader != nil {
		return d.Downloader
	}
	return defaultDownloader
}

// fetch downloads rawURL to dest after validating it against the outbound
// policy. The write is atomic: dest either keeps its old content or holds
// the complete download. Returns bytes written and the content type.
func (d Deps) fetch(ctx context.Context, rawURL, dest string) (int64, string, error) {
	cfg := d.Settings()
	clean, err := pnet.ValidateDownloadURL(rawURL, pnet.Policy{
		AllowHosts:            cfg.Outbound.AllowHosts,
		AllowInsecureLoopback: cfg.Outbound.AllowInsecureLoopback,
	})
	if err != nil {
		return 0, "", fmt.Errorf("download %s: %w", pnet.SanitizeURL(rawURL), err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, clean, nil)
	if err != nil {
		return 0, "", fmt.Errorf("download request: %w", err)
	}

	res, err := d.downloader().Do(req)
	if err != nil {
		return 0, "", fmt.Errorf("download %s: %w", pnet.SanitizeURL(rawURL), err)
	}
	defer res.Body.Close() //nolint:errcheck

	if res.StatusCode != http.StatusOK {
		return 0, "", fmt.Errorf("download %s: HTTP %d", pnet.SanitizeURL(rawURL), res.StatusCode)
	}

	if err := os.MkdirAll(filepath.Dir(dest), 0o750); err != nil {
		return 0, "", fmt.Errorf("create download dir: %w", err)
	}

	pending, err := renameio.NewPendingFile(dest)
	if err != nil {
		return 0, "", fmt.Errorf("create pending file: %w", err)
	}
	defer pending.Cleanup() //nolint:errcheck

	n, err := io.Copy(pending, res.Body)
	if err != nil {
		return 0, "", fmt.Errorf("stream download: %w", err)
	}
	if err := pending.CloseAtomicallyReplace(); err != nil {
		return 0, "", fmt.Errorf("replace %s: %w", dest, err)
	}
	return n, res.Header.Get("Content-Type"), nil
}

// cachedFetch downloads rawURL to dest through the assets cache: a cache
// hit copies the stored blob, a miss downloads, records the blob under its
// URL hash, and copies it out. Cache bookkeeping failures degrade to a
// plain download rather than failing the caller.
func (d Deps) cachedFetch(ctx context.Context, rawURL, dest string) error {
	logger := log.WithComponentFromContext(ctx, "pipeline")

	sum := sha256.Sum256([]byte(rawURL))
	hash := hex.EncodeToString(sum[:])
	blob := filepath.Join(d.AssetsDir, hash)

	if a, err := d.Store.LookupAsset(ctx, hash); err != nil {
		logger.Warn().Err(err).Msg("asset lookup failed")
	} else if a != nil {
		if err := copyFile(blob, dest); err == nil {
			metrics.IncCacheHit()
			return nil
		}
		// Row exists but the blob is gone; re-download below.
		logger.Warn().Str("hash", hash).Msg("asset blob missing, re-fetching")
	}
	metrics.IncCacheMiss()

	size, contentType, err := d.fetch(ctx, rawURL, blob)
	if err != nil {
		return err
	}

	if err := d.Store.PutAsset(ctx, store.Asset{
		Hash:        hash,
		URL:         rawURL,
		Size:        size,
		ContentType: contentType,
	}, d.Settings().Cache.TTL); err != nil {
		logger.Warn().Err(err).Str("hash", hash).Msg("asset record failed")
	}

	return copyFile(blob, dest)
}

// copyFile copies src to dest atomically.
func copyFile(src, dest string) error {
	in, err := os.Open(src) // #nosec G304 -- both paths are daemon-owned
	if err != nil {
		return err
	}
	defer in.Close() //nolint:errcheck

	if err := os.MkdirAll(filepath.Dir(dest), 0o750); err != nil {
		return err
	}
	pending, err := renameio.NewPendingFile(dest)
	if err != nil {
		return err
	}
	defer pending.Cleanup() //nolint:errcheck

	if _, err := io.Copy(pending, in); err != nil {
		return err
	}
	return pending.CloseAtomicallyReplace()
}

// fileSHA256 hashes a finished artifact for its render row.
func fileSHA256(path string) (string, error) {
	f, err := os.Open(path) // #nosec G304 -- daemon-owned artifact path
	if err != nil {
		return "", err
	}
	defer f.Close() //nolint:errcheck

	h := sha256.New()
	if _, err := io.Copy(h, f); err != nil {
		return "", err
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}
