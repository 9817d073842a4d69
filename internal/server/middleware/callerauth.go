package middleware

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/alanyoungcy/coinduel/internal/crypto"
)

// Request signing headers. The signature is an EIP-191 personal-sign over
// the canonical string "coinduel|METHOD|PATH|timestamp", proving the caller
// controls the address without the server holding any credentials.
const (
	HeaderAddress   = "X-Duel-Address"
	HeaderTimestamp = "X-Duel-Timestamp"
	HeaderSignature = "X-Duel-Signature"
)

type callerKey struct{}

// CallerFrom returns the authenticated caller address stored by CallerAuth,
// or an empty string when the request was not authenticated.
func CallerFrom(ctx context.Context) string {
	caller, _ := ctx.Value(callerKey{}).(string)
	return caller
}

// CallerAuth returns middleware that authenticates the calling party by
// recovering the signer of the request proof and matching it against the
// claimed address. skewMax bounds how far the signed timestamp may drift
// from server time, limiting replay of captured signatures.
func CallerAuth(skewMax time.Duration) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			addr := strings.TrimSpace(r.Header.Get(HeaderAddress))
			sig := strings.TrimSpace(r.Header.Get(HeaderSignature))
			tsRaw := strings.TrimSpace(r.Header.Get(HeaderTimestamp))
			if addr == "" || sig == "" || tsRaw == "" {
				writeAuthError(w, "missing signature headers")
				return
			}

			ts, err := crypto.ParseAuthTimestamp(tsRaw)
			if err != nil {
				writeAuthError(w, "invalid signature timestamp")
				return
			}
			drift := time.Since(time.Unix(ts, 0))
			if drift > skewMax || drift < -skewMax {
				writeAuthError(w, "signature timestamp out of range")
				return
			}

			recovered, err := crypto.RecoverCaller(r.Method, r.URL.Path, ts, sig)
			if err != nil {
				writeAuthError(w, "invalid signature")
				return
			}
			if !strings.EqualFold(recovered.Hex(), addr) {
				writeAuthError(w, "signature does not match address")
				return
			}

			ctx := context.WithValue(r.Context(), callerKey{}, strings.ToLower(addr))
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// writeAuthError sends a 401 response with a JSON error body.
func writeAuthError(w http.ResponseWriter, msg string) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(http.StatusUnauthorized)
	w.Write([]byte(`{"error":"` + msg + `"}`))
}
