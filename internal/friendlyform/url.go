package friendlyform

import (
	"net/http"
	"net/url"
)

// setQueryVar inserts or replaces a query variable in rawURL and
// returns the re-encoded URL. Unparseable URLs are returned as-is.
func setQueryVar(rawURL, name, value string) string {
	u, err := url.Parse(rawURL)
	if err != nil {
		return rawURL
	}
	query := u.Query()
	query.Set(name, value)
	u.RawQuery = query.Encode()
	return u.String()
}

// requestURL reconstructs the absolute URL of the request, reflecting
// any query-string rewriting done earlier in the pipeline.
func requestURL(r *http.Request) string {
	scheme := "http"
	if r.TLS != nil {
		scheme = "https"
	}
	if forwarded := r.Header.Get("X-Forwarded-Proto"); forwarded != "" {
		scheme = forwarded
	}
	return scheme + "://" + r.Host + r.URL.RequestURI()
}
