package chain

import "net/url"

// RedactURL keeps the scheme and host of an RPC URL. Provider URLs usually
// carry an API key in the path or query.
func RedactURL(raw string) string {
	u, err := url.Parse(raw)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return "***"
	}
	return u.Scheme + "://" + u.Host
}
