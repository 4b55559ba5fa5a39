package proxy

import (
	"net/http"
)

// Headers that are computed for the inbound hop and would be wrong on
// the outbound request. They are dropped before forwarding and
// regenerated by the HTTP client.
var droppedRequestHeaders = map[string]bool{
	"Host":           true,
	"Content-Length": true,
}

// Hop-by-hop response headers, valid for the connection between the
// gateway and the downstream service only. They are dropped before
// the response is relayed to the client.
var droppedResponseHeaders = map[string]bool{
	"Connection":          true,
	"Keep-Alive":          true,
	"Proxy-Authenticate":  true,
	"Proxy-Authorization": true,
	"Te":                  true,
	"Trailer":             true,
	"Transfer-Encoding":   true,
	"Upgrade":             true,
}

func copyHeaderExcluding(to, from http.Header, excludeHeaders map[string]bool) {
	for k, v := range from {
		// The http package converts header names to their canonical version.
		// Meaning that the lookup below will be done using the canonical version of the header.
		if _, ok := excludeHeaders[k]; !ok {
			to[http.CanonicalHeaderKey(k)] = v
		}
	}
}

func cloneHeaderExcluding(h http.Header, excludeList map[string]bool) http.Header {
	hh := make(http.Header)
	copyHeaderExcluding(hh, h, excludeList)
	return hh
}

// forwardedHeaders builds the outbound header set: the client headers
// without the per-hop values, with the target's extra headers merged
// in. Extra headers win on conflict.
func forwardedHeaders(client, extra http.Header) http.Header {
	h := cloneHeaderExcluding(client, droppedRequestHeaders)
	for k, v := range extra {
		h[http.CanonicalHeaderKey(k)] = v
	}

	return h
}
