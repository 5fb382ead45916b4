package epistula

import (
	"bytes"
	"context"
	"io"
	"net/http"
)

type ctxKey int

const ctxSignedBy ctxKey = iota

// Middleware verifies the signature of every request before handing it
// on. Handlers read the body as usual and get the verified sender
// address through SignedBy.
func Middleware(v *Verifier, maxBody int64, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, err := io.ReadAll(io.LimitReader(r.Body, maxBody+1))
		r.Body.Close()
		if err != nil {
			http.Error(w, "cannot read body", http.StatusBadRequest)
			return
		}
		if int64(len(body)) > maxBody {
			http.Error(w, "body too large", http.StatusRequestEntityTooLarge)
			return
		}
		signedBy, err := v.Verify(body, r.Header)
		if err != nil {
			status := http.StatusBadRequest
			if err == ErrStale || err == ErrSignatureMismatch {
				status = http.StatusUnauthorized
			}
			http.Error(w, err.Error(), status)
			return
		}
		r.Body = io.NopCloser(bytes.NewReader(body))
		next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), ctxSignedBy, signedBy)))
	})
}

// SignedBy returns the verified sender address set by Middleware, or
// an empty string outside of it.
func SignedBy(ctx context.Context) string {
	s, _ := ctx.Value(ctxSignedBy).(string)
	return s
}
