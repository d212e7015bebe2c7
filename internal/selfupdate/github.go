package selfupdate

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/cenkalti/backoff/v4"
	log "github.com/sirupsen/logrus"

	"github.com/aptsettle/aptsettle/internal/version"
)

const (
	defaultAPIBase      = "https://api.github.com"
	defaultDownloadBase = "https://github.com"

	userAgent = "aptsettle/%s"

	// maxTagResponse bounds the release-metadata body; a tag payload is tiny.
	maxTagResponse = 64 * 1024

	metadataMaxElapsed = 30 * time.Second
)

// maxAssetSize bounds the downloaded binary. Variable so tests can lower it.
var maxAssetSize int64 = 256 * 1024 * 1024

type releaseInfo struct {
	TagName string `json:"tag_name"`
}

// latestReleaseTag queries the releases API for the newest published tag of
// repo ("owner/name"). Transient failures are retried with exponential
// backoff bounded by metadataMaxElapsed; the operation never outlives ctx.
func (u *Updater) latestReleaseTag(ctx context.Context) (string, error) {
	url := fmt.Sprintf("%s/repos/%s/releases/latest", u.apiBase, u.repo)

	var tag string
	operation := func() error {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
		if err != nil {
			return backoff.Permanent(err)
		}
		req.Header.Set("Accept", "application/vnd.github+json")
		req.Header.Set("User-Agent", fmt.Sprintf(userAgent, version.Version()))

		resp, err := u.client.Do(req)
		if err != nil {
			return err
		}
		defer func() {
			if cerr := resp.Body.Close(); cerr != nil {
				log.Warnf("Error closing release metadata response: %v", cerr)
			}
		}()

		if resp.StatusCode == http.StatusNotFound {
			return backoff.Permanent(fmt.Errorf("no published release for %s", u.repo))
		}
		if resp.StatusCode != http.StatusOK {
			return fmt.Errorf("unexpected HTTP status %d from release metadata", resp.StatusCode)
		}

		data, err := io.ReadAll(io.LimitReader(resp.Body, maxTagResponse))
		if err != nil {
			return err
		}
		var info releaseInfo
		if err := json.Unmarshal(data, &info); err != nil {
			return backoff.Permanent(fmt.Errorf("failed to parse release metadata: %w", err))
		}
		tag = info.TagName
		return nil
	}

	bo := backoff.NewExponentialBackOff()
	bo.MaxElapsedTime = metadataMaxElapsed
	if err := backoff.Retry(operation, backoff.WithContext(bo, ctx)); err != nil {
		return "", err
	}
	return tag, nil
}

// downloadAsset fetches the named release asset for tag as raw bytes.
func (u *Updater) downloadAsset(ctx context.Context, tag, name string) ([]byte, error) {
	url := fmt.Sprintf("%s/%s/releases/download/%s/%s", u.downloadBase, u.repo, tag, name)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("User-Agent", fmt.Sprintf(userAgent, version.Version()))

	resp, err := u.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to download %s: %w", url, err)
	}
	defer func() {
		if cerr := resp.Body.Close(); cerr != nil {
			log.Warnf("Error closing asset response: %v", cerr)
		}
	}()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("unexpected HTTP status %d downloading %s", resp.StatusCode, url)
	}

	// Read one byte past the cap so an oversized asset is rejected instead of
	// being truncated and installed.
	data, err := io.ReadAll(io.LimitReader(resp.Body, maxAssetSize+1))
	if err != nil {
		return nil, fmt.Errorf("failed to read asset body: %w", err)
	}
	if int64(len(data)) > maxAssetSize {
		return nil, fmt.Errorf("asset %s exceeds the %d byte limit", name, maxAssetSize)
	}
	if len(data) == 0 {
		return nil, fmt.Errorf("empty asset %s", name)
	}
	return data, nil
}
