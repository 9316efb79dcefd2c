package updater

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

const fakeBinary = "#!/bin/sh\necho threatlens v0.2.0\n"

// releaseServer serves a releases/latest document, the assets it lists, and
// optionally a checksums file.
func releaseServer(t *testing.T, tag string, checksums string) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()
	var srv *httptest.Server
	mux.HandleFunc("/latest", func(w http.ResponseWriter, r *http.Request) {
		type asset struct {
			Name               string `json:"name"`
			BrowserDownloadURL string `json:"browser_download_url"`
		}
		assets := []asset{
			{"threatlens-linux-amd64", srv.URL + "/dl/threatlens-linux-amd64"},
			{"threatlens-windows-amd64.exe", srv.URL + "/dl/threatlens-windows-amd64.exe"},
		}
		if checksums != "" {
			assets = append(assets, asset{"checksums.txt", srv.URL + "/dl/checksums.txt"})
		}
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]interface{}{"tag_name": tag, "assets": assets})
	})
	mux.HandleFunc("/dl/checksums.txt", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, checksums)
	})
	mux.HandleFunc("/dl/", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, fakeBinary)
	})
	srv = httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv
}

func testUpdater(srv *httptest.Server) *Updater {
	return &Updater{APIURL: srv.URL + "/latest", Client: srv.Client(), GOOS: "linux", GOARCH: "amd64"}
}

func sum(s string) string {
	h := sha256.Sum256([]byte(s))
	return hex.EncodeToString(h[:])
}

func TestCheckLatest_NewerAvailable(t *testing.T) {
	srv := releaseServer(t, "v0.2.0", "")

	info, err := testUpdater(srv).CheckLatest(context.Background(), "v0.1.0")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !info.HasUpdate {
		t.Error("expected HasUpdate=true")
	}
	if info.LatestVersion != "v0.2.0" {
		t.Errorf("LatestVersion = %q, want v0.2.0", info.LatestVersion)
	}
	if !strings.HasSuffix(info.DownloadURL, "/dl/threatlens-linux-amd64") {
		t.Errorf("DownloadURL = %q", info.DownloadURL)
	}
	if info.ChecksumsURL != "" {
		t.Error("no checksums asset was published")
	}
}

func TestCheckLatest_AlreadyLatest(t *testing.T) {
	srv := releaseServer(t, "v0.2.0", "")

	info, err := testUpdater(srv).CheckLatest(context.Background(), "v0.2.0")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if info.HasUpdate {
		t.Error("expected HasUpdate=false when already on latest")
	}
}

func TestCheckLatest_APIError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "rate limited", http.StatusForbidden)
	}))
	defer srv.Close()

	u := &Updater{APIURL: srv.URL, Client: srv.Client(), GOOS: "linux", GOARCH: "amd64"}
	if _, err := u.CheckLatest(context.Background(), "v0.1.0"); err == nil || !strings.Contains(err.Error(), "403") {
		t.Errorf("err = %v, want status 403", err)
	}
}

func TestDownload_VerifiesChecksum(t *testing.T) {
	srv := releaseServer(t, "v0.2.0", sum(fakeBinary)+"  threatlens-linux-amd64\n"+sum("other")+"  threatlens-windows-amd64.exe\n")
	u := testUpdater(srv)

	info, err := u.CheckLatest(context.Background(), "v0.1.0")
	if err != nil {
		t.Fatalf("CheckLatest: %v", err)
	}
	dest := filepath.Join(t.TempDir(), "threatlens.new")
	if err := u.Download(context.Background(), info, dest); err != nil {
		t.Fatalf("Download: %v", err)
	}
	got, _ := os.ReadFile(dest)
	if string(got) != fakeBinary {
		t.Errorf("downloaded %q", got)
	}
}

func TestDownload_ChecksumMismatch(t *testing.T) {
	srv := releaseServer(t, "v0.2.0", sum("tampered")+" *threatlens-linux-amd64\n")
	u := testUpdater(srv)

	info, _ := u.CheckLatest(context.Background(), "v0.1.0")
	dest := filepath.Join(t.TempDir(), "threatlens.new")
	err := u.Download(context.Background(), info, dest)
	if err == nil || !strings.Contains(err.Error(), "checksum mismatch") {
		t.Fatalf("err = %v, want checksum mismatch", err)
	}
	if _, err := os.Stat(dest); !os.IsNotExist(err) {
		t.Error("rejected download should be removed")
	}
}

func TestDownload_NotListedInChecksums(t *testing.T) {
	srv := releaseServer(t, "v0.2.0", sum("x")+"  threatlens-darwin-arm64\n")
	u := testUpdater(srv)

	info, _ := u.CheckLatest(context.Background(), "v0.1.0")
	if err := u.Download(context.Background(), info, filepath.Join(t.TempDir(), "new")); err == nil {
		t.Fatal("expected error when the asset has no checksum entry")
	}
}

func TestDownload_NoAsset(t *testing.T) {
	srv := releaseServer(t, "v0.2.0", "")
	u := testUpdater(srv)
	u.GOOS, u.GOARCH = "plan9", "386"

	info, _ := u.CheckLatest(context.Background(), "v0.1.0")
	if err := u.Download(context.Background(), info, filepath.Join(t.TempDir(), "new")); err == nil {
		t.Fatal("expected error for a platform without a release asset")
	}
}

func TestIsNewer(t *testing.T) {
	tests := []struct {
		current, latest string
		want            bool
	}{
		{"v0.1.0", "v0.2.0", true},
		{"0.2.0", "v0.2.0", false},
		{"v0.10.0", "v0.9.9", false},
		{"v1.0.0-rc1", "v1.0.0", true},
		{"v1.0.0", "v1.0.0-rc1", false},
		{"v1.0.0-rc1", "v1.0.0-rc2", true},
		{"v1.0.0+build5", "v1.0.0", false},
		{"dev", "v0.0.1", true},
		{"", "v0.0.1", true},
		{"dev", "", false},
	}
	for _, tt := range tests {
		if got := isNewer(tt.current, tt.latest); got != tt.want {
			t.Errorf("isNewer(%q, %q) = %v, want %v", tt.current, tt.latest, got, tt.want)
		}
	}
}

func TestAssetName(t *testing.T) {
	tests := []struct {
		goos   string
		goarch string
		want   string
	}{
		{"linux", "amd64", "threatlens-linux-amd64"},
		{"darwin", "arm64", "threatlens-darwin-arm64"},
		{"windows", "amd64", "threatlens-windows-amd64.exe"},
	}
	for _, tt := range tests {
		if got := AssetName(tt.goos, tt.goarch); got != tt.want {
			t.Errorf("AssetName(%q,%q) = %q, want %q", tt.goos, tt.goarch, got, tt.want)
		}
	}
}

func TestSelfReplace(t *testing.T) {
	for _, goos := range []string{"linux", "windows"} {
		t.Run(goos, func(t *testing.T) {
			dir := t.TempDir()
			exePath := filepath.Join(dir, "threatlens")
			newPath := filepath.Join(dir, "threatlens.new")
			os.WriteFile(exePath, []byte("old"), 0o755)
			os.WriteFile(newPath, []byte("new"), 0o644)

			if err := selfReplace(goos, exePath, newPath); err != nil {
				t.Fatalf("selfReplace: %v", err)
			}
			got, _ := os.ReadFile(exePath)
			if string(got) != "new" {
				t.Errorf("exe content = %q, want new", got)
			}
			_, bakErr := os.Stat(exePath + ".bak")
			if (goos == "windows") != (bakErr == nil) {
				t.Errorf("backup present = %v", bakErr == nil)
			}
		})
	}
}
