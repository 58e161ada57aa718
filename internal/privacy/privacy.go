// Package privacy anonymizes media locations in telemetry messages and
// generates the anonymous system identifier.
package privacy

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"net/url"
	"path"
	"regexp"
	"strings"
)

var (
	urlPattern  = regexp.MustCompile(`\b(?:https?|rtsp|rtmp|file)://\S+`)
	pathPattern = regexp.MustCompile(`(?:^|[\s("'=])(?:[A-Za-z]:\\|/)[^\s:"')]+`)
	ipv4Pattern = regexp.MustCompile(`^\d{1,3}\.\d{1,3}\.\d{1,3}\.\d{1,3}$`)
	extPattern  = regexp.MustCompile(`^\.[A-Za-z0-9]{1,5}$`)
)

// ScrubMessage replaces URLs and absolute file paths in message with
// stable anonymous tokens. File extensions survive so the container type
// remains visible.
func ScrubMessage(message string) string {
	scrubbed := urlPattern.ReplaceAllStringFunc(message, AnonymizeURL)
	return pathPattern.ReplaceAllStringFunc(scrubbed, func(m string) string {
		prefix := ""
		if c := m[0]; c != '/' && !isDriveLetter(m) {
			prefix, m = m[:1], m[1:]
		}
		return prefix + AnonymizePath(m)
	})
}

// AnonymizeURL hashes the scheme, host category, port and path shape of a
// URL. Credentials, hostnames and query strings never reach the output.
func AnonymizeURL(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil {
		hash := sha256.Sum256([]byte(rawURL))
		return fmt.Sprintf("url-hash-%x", hash[:8])
	}

	var parts []string
	if u.Scheme != "" {
		parts = append(parts, u.Scheme)
	}
	if host := u.Hostname(); host != "" {
		parts = append(parts, categorizeHost(host))
	}
	if u.Port() != "" {
		parts = append(parts, "port-"+u.Port())
	}
	if u.Path != "" && u.Path != "/" {
		parts = append(parts, anonymizeSegments(u.Path))
	}

	hash := sha256.Sum256([]byte(strings.Join(parts, ":")))
	return fmt.Sprintf("url-%x", hash[:12])
}

// AnonymizePath returns file-<hash> for p, keeping a short extension.
func AnonymizePath(p string) string {
	normalized := strings.ReplaceAll(p, `\`, "/")
	hash := sha256.Sum256([]byte(normalized))
	ext := path.Ext(normalized)
	if !extPattern.MatchString(ext) {
		ext = ""
	}
	return fmt.Sprintf("file-%x%s", hash[:6], strings.ToLower(ext))
}

func isDriveLetter(s string) bool {
	return len(s) >= 3 && s[1] == ':' && s[2] == '\\'
}

func categorizeHost(host string) string {
	switch {
	case host == "localhost" || host == "127.0.0.1" || host == "::1":
		return "localhost"
	case isPrivateIP(host):
		return "private-ip"
	case isIPAddress(host):
		return "public-ip"
	}
	parts := strings.Split(host, ".")
	if len(parts) >= 2 {
		return "domain-" + parts[len(parts)-1]
	}
	return "unknown-host"
}

// anonymizeSegments hashes each path segment, keeping the depth.
func anonymizeSegments(p string) string {
	p = strings.Trim(p, "/")
	if p == "" {
		return "root"
	}
	var out []string
	for _, seg := range strings.Split(p, "/") {
		switch {
		case seg == "":
			continue
		case isNumeric(seg):
			out = append(out, "numeric")
		default:
			hash := sha256.Sum256([]byte(seg))
			out = append(out, fmt.Sprintf("seg-%x", hash[:4]))
		}
	}
	return strings.Join(out, "/")
}

var privateRanges = []string{
	"10.", "172.16.", "172.17.", "172.18.", "172.19.", "172.20.", "172.21.", "172.22.", "172.23.",
	"172.24.", "172.25.", "172.26.", "172.27.", "172.28.", "172.29.", "172.30.", "172.31.",
	"192.168.", "169.254.",
	"fc00:", "fd00:", "fe80:",
}

func isPrivateIP(host string) bool {
	host = strings.ToLower(host)
	for _, prefix := range privateRanges {
		if strings.HasPrefix(host, prefix) {
			return true
		}
	}
	return false
}

func isIPAddress(host string) bool {
	return ipv4Pattern.MatchString(host) || strings.Contains(host, ":")
}

func isNumeric(s string) bool {
	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}
	return s != ""
}

// GenerateSystemID returns a random identifier formatted XXXX-XXXX-XXXX.
func GenerateSystemID() (string, error) {
	b := make([]byte, 6)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("failed to generate random bytes: %w", err)
	}
	id := hex.EncodeToString(b)
	return strings.ToUpper(id[0:4] + "-" + id[4:8] + "-" + id[8:12]), nil
}

// IsValidSystemID checks the XXXX-XXXX-XXXX hex format.
func IsValidSystemID(id string) bool {
	if len(id) != 14 || id[4] != '-' || id[9] != '-' {
		return false
	}
	for i, r := range id {
		if i == 4 || i == 9 {
			continue
		}
		if !isHexChar(r) {
			return false
		}
	}
	return true
}

func isHexChar(r rune) bool {
	return (r >= '0' && r <= '9') || (r >= 'A' && r <= 'F') || (r >= 'a' && r <= 'f')
}
