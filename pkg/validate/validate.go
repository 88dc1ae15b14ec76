package validate

import (
	"net/url"
	"regexp"
	"strings"
)

var hostnameLabel = regexp.MustCompile(`^[A-Za-z0-9-]{1,63}$`)

var urlSchemes = map[string]bool{
	"http":  true,
	"https": true,
	"ftp":   true,
}

// Hostname reports whether s is an RFC 1035 style host name.
// A single trailing dot is allowed.
func Hostname(s string) bool {
	if s == "" || len(s) > 255 {
		return false
	}
	s = strings.TrimSuffix(s, ".")
	if s == "" {
		return false
	}

	for _, label := range strings.Split(s, ".") {
		if !hostnameLabel.MatchString(label) {
			return false
		}
		if strings.HasPrefix(label, "-") || strings.HasSuffix(label, "-") {
			return false
		}
	}
	return true
}

// URL reports whether s parses as an http, https or ftp URL
func URL(s string) bool {
	u, err := url.Parse(s)
	if err != nil {
		return false
	}
	return urlSchemes[u.Scheme]
}

// URLPath reports whether s has a path component starting with "/"
func URLPath(s string) bool {
	u, err := url.Parse(s)
	if err != nil {
		return false
	}
	return strings.HasPrefix(u.Path, "/")
}

// Regexp reports whether s compiles as a regular expression
func Regexp(s string) bool {
	_, err := regexp.Compile(s)
	return err == nil
}

// RewritePath reports whether s is a "pattern:replacement" rule with
// exactly one ':' and a pattern that compiles.
func RewritePath(s string) bool {
	parts := strings.Split(s, ":")
	if len(parts) != 2 {
		return false
	}
	return Regexp(parts[0])
}
