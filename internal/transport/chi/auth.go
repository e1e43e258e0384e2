package chi

import (
	"crypto/sha256"
	"crypto/subtle"
	"net/http"
	"strings"

	"go.uber.org/zap"

	logpkg "github.com/kailas-cloud/portfolioqa/internal/logger"
)

// publicPaths stay reachable for probes and scrapers when keys are configured.
var publicPaths = []string{"/api/health", "/metrics"}

// apiKeyHeader is accepted next to Authorization for clients that cannot send Bearer.
const apiKeyHeader = "X-API-Key"

// BearerAuthMiddleware checks the request credential against apiKeys.
// No non-empty key disables authentication.
func BearerAuthMiddleware(apiKeys []string, public ...string) func(http.Handler) http.Handler {
	var digests [][sha256.Size]byte
	for _, k := range apiKeys {
		if k = strings.TrimSpace(k); k != "" {
			digests = append(digests, sha256.Sum256([]byte(k)))
		}
	}
	if len(public) == 0 {
		public = publicPaths
	}
	open := make(map[string]struct{}, len(public))
	for _, p := range public {
		open[p] = struct{}{}
	}

	return func(next http.Handler) http.Handler {
		if len(digests) == 0 {
			return next
		}

		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if _, ok := open[r.URL.Path]; ok {
				next.ServeHTTP(w, r)
				return
			}

			token, problem := credential(r)
			if problem == "" && !knownKey(digests, token) {
				problem = "invalid api key"
			}
			if problem != "" {
				logpkg.FromContext(r.Context()).Debug("Request rejected by auth", zap.String("reason", problem))
				w.Header().Set("WWW-Authenticate", `Bearer realm="portfolioqa"`)
				writeError(w, http.StatusUnauthorized, CodeUnauthorized, problem)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// credential extracts the key, or a reason why none could be read.
func credential(r *http.Request) (token, problem string) {
	if key := r.Header.Get(apiKeyHeader); key != "" {
		return key, ""
	}

	auth := r.Header.Get("Authorization")
	if auth == "" {
		return "", "missing authorization header"
	}
	scheme, token, ok := strings.Cut(auth, " ")
	if !ok || !strings.EqualFold(scheme, "Bearer") {
		return "", "authorization header must use Bearer scheme"
	}
	if token = strings.TrimSpace(token); token == "" {
		return "", "empty bearer token"
	}
	return token, ""
}

// knownKey compares digests in constant time and checks every key.
func knownKey(digests [][sha256.Size]byte, token string) bool {
	sum := sha256.Sum256([]byte(token))
	found := 0
	for i := range digests {
		found |= subtle.ConstantTimeCompare(sum[:], digests[i][:])
	}
	return found == 1
}
