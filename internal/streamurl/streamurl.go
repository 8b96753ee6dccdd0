// Package streamurl rewrites host-facing RTSP URLs for use inside the
// deployment network and derives overlay output URLs.
package streamurl

import (
	"fmt"
	"net/url"
	"strings"
)

// Rewriter maps loopback stream URLs onto the internal broker host.
type Rewriter struct {
	InternalHost string
	InternalPort string
}

// RewriteInternal replaces a loopback host (127.0.0.1 or localhost) with the
// configured internal host and port. Any other host passes through unchanged.
func (r Rewriter) RewriteInternal(rawURL string) string {
	parsed, err := url.Parse(rawURL)
	if err != nil {
		return rawURL
	}
	host := parsed.Hostname()
	if host != "127.0.0.1" && host != "localhost" {
		return rawURL
	}

	port := r.InternalPort
	if port == "" {
		port = parsed.Port()
	}
	if port == "" {
		parsed.Host = r.InternalHost
	} else {
		parsed.Host = fmt.Sprintf("%s:%s", r.InternalHost, port)
	}
	return parsed.String()
}

// PullURL builds the URL a worker should pull from. A non-loopback rtsp://
// URL from the catalog wins; anything else falls back to the internal broker
// path for the camera's stream id.
func (r Rewriter) PullURL(streamID, rtspURL string) string {
	if strings.HasPrefix(rtspURL, "rtsp://") &&
		!strings.Contains(rtspURL, "127.0.0.1") && !strings.Contains(rtspURL, "localhost") {
		return rtspURL
	}
	return fmt.Sprintf("rtsp://%s:%s/%s", r.InternalHost, r.InternalPort, streamID)
}

// OverlayURL derives the overlay push URL from a pull URL: a path tail ending
// in "_raw" becomes "overlay", anything else gets "_overlay" appended.
func OverlayURL(rawURL string) string {
	parsed, err := url.Parse(rawURL)
	if err != nil || !strings.Contains(parsed.Path, "/") {
		return rawURL + "_overlay"
	}

	idx := strings.LastIndex(parsed.Path, "/")
	prefix, tail := parsed.Path[:idx], parsed.Path[idx+1:]
	if strings.HasSuffix(tail, "_raw") {
		tail = strings.TrimSuffix(tail, "_raw") + "overlay"
	} else {
		tail += "_overlay"
	}
	parsed.Path = prefix + "/" + tail
	return parsed.String()
}
