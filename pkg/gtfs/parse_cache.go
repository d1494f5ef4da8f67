package gtfs

import (
	"crypto/sha256"
	"encoding/gob"
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"

	"github.com/klauspost/compress/gzip"

	"ktmtrack/internal/schedule"
)

// ParsedCacheDir returns dir, or a directory under the system temp dir
// when dir is empty.
func ParsedCacheDir(dir string) string {
	if dir == "" {
		dir = filepath.Join(os.TempDir(), "ktmtrack-gtfs-cache")
	}
	return dir
}

func DataFingerprint(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}

func parsedCachePath(cacheDir, fingerprint string) string {
	return filepath.Join(cacheDir, fmt.Sprintf("feed_%s.gob.gz", fingerprint))
}

// LoadParsedFeed reads a feed previously stored by SaveParsedFeed.
func LoadParsedFeed(cacheDir, fingerprint string) (*schedule.Feed, string, error) {
	path := parsedCachePath(cacheDir, fingerprint)
	f, err := os.Open(path)
	if err != nil {
		return nil, path, err
	}
	defer f.Close()

	zr, err := gzip.NewReader(f)
	if err != nil {
		return nil, path, err
	}
	defer zr.Close()

	var feed schedule.Feed
	if err := gob.NewDecoder(zr).Decode(&feed); err != nil {
		return nil, path, err
	}

	if feed.Version != fingerprint || len(feed.Routes) == 0 || len(feed.StopTimes) == 0 {
		return nil, path, fmt.Errorf("parsed cache is incomplete")
	}

	return &feed, path, nil
}

// SaveParsedFeed writes the feed atomically through a temp file.
func SaveParsedFeed(cacheDir, fingerprint string, feed *schedule.Feed) (string, error) {
	if err := os.MkdirAll(cacheDir, 0o755); err != nil {
		return "", err
	}

	path := parsedCachePath(cacheDir, fingerprint)
	tmp, err := os.CreateTemp(cacheDir, filepath.Base(path)+".*.tmp")
	if err != nil {
		return "", err
	}
	tmpPath := tmp.Name()

	err = func() error {
		zw, err := gzip.NewWriterLevel(tmp, gzip.BestSpeed)
		if err != nil {
			return err
		}
		if err := gob.NewEncoder(zw).Encode(feed); err != nil {
			zw.Close()
			return err
		}
		return zw.Close()
	}()
	if closeErr := tmp.Close(); err == nil {
		err = closeErr
	}
	if err == nil {
		err = os.Rename(tmpPath, path)
	}
	if err != nil {
		_ = os.Remove(tmpPath)
		return "", err
	}

	return path, nil
}
