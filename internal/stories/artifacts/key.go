package artifacts

import (
	"fmt"
	"net/url"
	"regexp"
	"strings"
	"time"

	"github.com/google/uuid"
)

const maxTitleFragment = 48

var unsafeRun = regexp.MustCompile(`(?i)[^a-z0-9]+`)

// SafeTitle reduces a title to a lowercase [a-z0-9_] fragment.
func SafeTitle(title string) string {
	safe := strings.ToLower(unsafeRun.ReplaceAllString(title, "_"))
	if len(safe) > maxTitleFragment {
		safe = safe[:maxTitleFragment]
	}
	if strings.Trim(safe, "_") == "" {
		return "story"
	}
	return safe
}

// BuildKey returns <prefix>/<unix ms>_<safe title>_<uuid>.<ext>. The time
// prefix and random suffix keep concurrent uploads of equal titles apart.
func BuildKey(prefix, title, ext string, now time.Time) string {
	if ext == "" {
		ext = "mp3"
	}
	name := fmt.Sprintf("%d_%s_%s.%s", now.UnixMilli(), SafeTitle(title), uuid.NewString(), ext)
	prefix = strings.Trim(prefix, "/")
	if prefix == "" {
		return name
	}
	return prefix + "/" + name
}

// PublicURL is https://<host>/<bucket>/<escaped key>?alt=media. The whole key,
// slashes included, is a single escaped path segment.
func PublicURL(host, bucket, key string) string {
	return fmt.Sprintf("https://%s/%s/%s?alt=media",
		strings.TrimSuffix(host, "/"), bucket, url.PathEscape(key))
}
