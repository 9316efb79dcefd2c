// Package updater checks GitHub releases for a newer threatlens binary and
// replaces the running executable with a verified download.
package updater

import (
	"bufio"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"runtime"
	"strconv"
	"strings"
	"time"
)

const (
	defaultAPIURL = "https://api.github.com/repos/iyulab/threatlens/releases/latest"
	checksumsName = "checksums.txt"
)

// UpdateInfo holds the result of a version check.
type UpdateInfo struct {
	HasUpdate      bool
	CurrentVersion string
	LatestVersion  string
	AssetName      string
	DownloadURL    string
	ChecksumsURL   string // empty when the release publishes no checksums
}

type githubRelease struct {
	TagName string        `json:"tag_name"`
	Assets  []githubAsset `json:"assets"`
}

type githubAsset struct {
	Name               string `json:"name"`
	BrowserDownloadURL string `json:"browser_download_url"`
}

// Updater talks to the releases API.
type Updater struct {
	APIURL string // defaults to the threatlens releases endpoint
	Client *http.Client
	GOOS   string
	GOARCH string
}

// New returns an Updater for the running platform.
func New() *Updater {
	return &Updater{
		APIURL: defaultAPIURL,
		Client: &http.Client{Timeout: 60 * time.Second},
		GOOS:   runtime.GOOS,
		GOARCH: runtime.GOARCH,
	}
}

// CheckLatest queries the releases API and returns update info.
func (u *Updater) CheckLatest(ctx context.Context, currentVersion string) (*UpdateInfo, error) {
	body, err := u.get(ctx, u.APIURL)
	if err != nil {
		return nil, fmt.Errorf("updater: fetch releases: %w", err)
	}
	defer body.Close()

	var release githubRelease
	if err := json.NewDecoder(body).Decode(&release); err != nil {
		return nil, fmt.Errorf("updater: parse response: %w", err)
	}

	info := &UpdateInfo{
		CurrentVersion: currentVersion,
		LatestVersion:  release.TagName,
		AssetName:      AssetName(u.GOOS, u.GOARCH),
		HasUpdate:      isNewer(currentVersion, release.TagName),
	}
	for _, a := range release.Assets {
		switch a.Name {
		case info.AssetName:
			info.DownloadURL = a.BrowserDownloadURL
		case checksumsName:
			info.ChecksumsURL = a.BrowserDownloadURL
		}
	}
	return info, nil
}

// Download fetches the release asset to destPath. When the release has a
// checksums file the download is verified against it and removed on mismatch.
func (u *Updater) Download(ctx context.Context, info *UpdateInfo, destPath string) error {
	if info.DownloadURL == "" {
		return fmt.Errorf("updater: no %s asset in release %s", info.AssetName, info.LatestVersion)
	}

	body, err := u.get(ctx, info.DownloadURL)
	if err != nil {
		return fmt.Errorf("updater: download: %w", err)
	}
	defer body.Close()

	f, err := os.OpenFile(destPath, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o755)
	if err != nil {
		return fmt.Errorf("updater: create dest file: %w", err)
	}
	h := sha256.New()
	_, copyErr := io.Copy(io.MultiWriter(f, h), body)
	closeErr := f.Close()
	if copyErr != nil || closeErr != nil {
		os.Remove(destPath)
		return fmt.Errorf("updater: write download: %v", firstErr(copyErr, closeErr))
	}

	if info.ChecksumsURL == "" {
		return nil
	}
	want, err := u.checksum(ctx, info.ChecksumsURL, info.AssetName)
	if err != nil {
		os.Remove(destPath)
		return err
	}
	if got := hex.EncodeToString(h.Sum(nil)); !strings.EqualFold(got, want) {
		os.Remove(destPath)
		return fmt.Errorf("updater: checksum mismatch for %s: got %s, want %s", info.AssetName, got, want)
	}
	return nil
}

// checksum finds name in a sha256sum-format checksums file.
func (u *Updater) checksum(ctx context.Context, url, name string) (string, error) {
	body, err := u.get(ctx, url)
	if err != nil {
		return "", fmt.Errorf("updater: fetch checksums: %w", err)
	}
	defer body.Close()

	sc := bufio.NewScanner(body)
	for sc.Scan() {
		fields := strings.Fields(sc.Text())
		if len(fields) == 2 && strings.TrimPrefix(fields[1], "*") == name {
			return fields[0], nil
		}
	}
	if err := sc.Err(); err != nil {
		return "", fmt.Errorf("updater: read checksums: %w", err)
	}
	return "", fmt.Errorf("updater: %s not listed in %s", name, checksumsName)
}

func (u *Updater) get(ctx context.Context, url string) (io.ReadCloser, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "application/vnd.github+json")

	client := u.Client
	if client == nil {
		client = http.DefaultClient
	}
	resp, err := client.Do(req)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode != http.StatusOK {
		resp.Body.Close()
		return nil, fmt.Errorf("GET %s returned %d", url, resp.StatusCode)
	}
	return resp.Body, nil
}

// AssetName returns the expected release asset filename for the given OS/arch.
func AssetName(goos, goarch string) string {
	name := "threatlens-" + goos + "-" + goarch
	if goos == "windows" {
		name += ".exe"
	}
	return name
}

// SelfReplace replaces exePath with newBinary.
// On Linux/macOS it uses os.Rename (atomic on same filesystem).
// On Windows it renames the current exe to .bak first.
func SelfReplace(exePath, newBinary string) error {
	return selfReplace(runtime.GOOS, exePath, newBinary)
}

func selfReplace(goos, exePath, newBinary string) error {
	if err := os.Chmod(newBinary, 0o755); err != nil {
		return fmt.Errorf("updater: chmod new binary: %w", err)
	}

	if goos == "windows" {
		bakPath := exePath + ".bak"
		_ = os.Remove(bakPath)
		if err := os.Rename(exePath, bakPath); err != nil {
			return fmt.Errorf("updater: rename current exe: %w", err)
		}
	}

	if err := os.Rename(newBinary, exePath); err != nil {
		return fmt.Errorf("updater: replace exe: %w", err)
	}
	return nil
}

// isNewer returns true if latest > current. A development build is always
// older than any tagged release; a pre-release sorts before its release.
func isNewer(current, latest string) bool {
	current = strings.TrimPrefix(current, "v")
	latest = strings.TrimPrefix(latest, "v")
	if latest == "" {
		return false
	}
	if current == "dev" || current == "" || current == "none" {
		return true
	}
	return versionLess(current, latest)
}

func versionLess(a, b string) bool {
	na, preA := splitVersion(a)
	nb, preB := splitVersion(b)
	for i := range 3 {
		if na[i] != nb[i] {
			return na[i] < nb[i]
		}
	}
	// 1.2.0-rc1 < 1.2.0
	switch {
	case preA != "" && preB == "":
		return true
	case preA == "" || preB == "":
		return false
	default:
		return preA < preB
	}
}

// splitVersion parses "1.2.3-rc1+build" into [1 2 3] and "rc1".
func splitVersion(v string) ([3]int, string) {
	v, _, _ = strings.Cut(v, "+")
	core, pre, _ := strings.Cut(v, "-")
	var out [3]int
	for i, p := range strings.SplitN(core, ".", 3) {
		out[i], _ = strconv.Atoi(p)
	}
	return out, pre
}

func firstErr(errs ...error) error {
	for _, err := range errs {
		if err != nil {
			return err
		}
	}
	return nil
}
