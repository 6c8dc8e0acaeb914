package middleware

import (
	"net/http"
	"strings"
)

// SkipCompressionForMedia wraps a compression middleware so that HLS
// playlists and segments are written uncompressed. Players fetch these with
// Range requests and expect byte-exact Content-Length.
func SkipCompressionForMedia(compressionHandler func(http.Handler) http.Handler) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		compressed := compressionHandler(next)

		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if isMediaPath(r.URL.Path) {
				next.ServeHTTP(w, r)
				return
			}
			compressed.ServeHTTP(w, r)
		})
	}
}

func isMediaPath(path string) bool {
	return strings.HasPrefix(path, "/stream/") ||
		strings.HasSuffix(path, ".ts") ||
		strings.HasSuffix(path, ".m3u8")
}
