package webhook

import (
	"errors"
	"fmt"
	"net"
	"net/url"
	"strings"
)

// ValidateURL applies the webhook URL rules: HTTPS only, and no localhost,
// loopback, private, link-local, unspecified or multicast IP literals. With
// allowInsecure both checks are skipped so local sinks can be used.
func ValidateURL(raw string, allowInsecure bool) error {
	u, err := url.Parse(raw)
	if err != nil {
		return fmt.Errorf("malformed URL: %w", err)
	}
	host := u.Hostname()
	if host == "" {
		return errors.New("URL has no host")
	}
	if allowInsecure {
		if u.Scheme != "https" && u.Scheme != "http" {
			return fmt.Errorf("unsupported scheme %q", u.Scheme)
		}
		return nil
	}
	if u.Scheme != "https" {
		return errors.New("webhook URL must use HTTPS")
	}

	lower := strings.ToLower(strings.TrimSuffix(host, "."))
	if lower == "localhost" || strings.HasSuffix(lower, ".localhost") {
		return errors.New("webhook URL cannot point to localhost")
	}

	ip := net.ParseIP(host)
	if ip == nil {
		return nil
	}
	switch {
	case ip.IsLoopback():
		return errors.New("webhook URL cannot point to localhost")
	case ip.IsUnspecified():
		return errors.New("webhook URL cannot point to an unspecified address")
	case ip.IsPrivate():
		return errors.New("webhook URL cannot point to a private network address")
	case ip.IsLinkLocalUnicast(), ip.IsLinkLocalMulticast():
		return errors.New("webhook URL cannot point to a link-local address")
	case ip.IsMulticast():
		return errors.New("webhook URL cannot point to a multicast address")
	}
	return nil
}
