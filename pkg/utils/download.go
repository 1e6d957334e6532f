package utils

import (
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"time"
)

// DownloadOptions configures DownloadFile.
type DownloadOptions struct {
	Dir        string
	MaxBytes   int64
	Timeout    time.Duration
	AuthHeader string
}

// DownloadFile fetches url and writes it to opts.Dir/filename, returning the
// path written. Used by the Telegram adapter to pull down attachment media
// referenced by a platform message.
func DownloadFile(url, filename string, opts DownloadOptions) (string, error) {
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = 20 * time.Second
	}

	client := &http.Client{Timeout: timeout}
	req, err := http.NewRequest(http.MethodGet, url, nil)
	if err != nil {
		return "", err
	}
	if opts.AuthHeader != "" {
		req.Header.Set("Authorization", opts.AuthHeader)
	}

	resp, err := client.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return "", fmt.Errorf("download %s: status %d", url, resp.StatusCode)
	}

	dir := opts.Dir
	if dir == "" {
		dir = "."
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", err
	}

	path := filepath.Join(dir, filename)
	out, err := os.Create(path)
	if err != nil {
		return "", err
	}
	defer out.Close()

	var body io.Reader = resp.Body
	if opts.MaxBytes > 0 {
		body = io.LimitReader(resp.Body, opts.MaxBytes)
	}

	if _, err := io.Copy(out, body); err != nil {
		os.Remove(path)
		return "", err
	}

	return path, nil
}
