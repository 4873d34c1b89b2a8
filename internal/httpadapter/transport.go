package httpadapter

import (
	"fmt"
	"net/http"
	"net/url"
)

// transportWithProxy builds a RoundTripper that dials through the given
// HTTP/HTTPS/SOCKS5 proxy URL, following the process-wide outbound proxy
// contract in Scheme is taken from the URL itself
// (http/https/socks5) since Go's http.ProxyURL supports all three via the
// standard library's dialer registration for "socks5" schemes.
func transportWithProxy(proxyURL string) (http.RoundTripper, error) {
	parsed, err := url.Parse(proxyURL)
	if err != nil {
		return nil, fmt.Errorf("httpadapter: invalid proxy url: %w", err)
	}
	return &http.Transport{Proxy: http.ProxyURL(parsed)}, nil
}
