package middleware

import (
	"net/http"

	apierrors "featureflow/internal/errors"
)

var statusTypes = map[int]string{
	http.StatusTooManyRequests:       "/errors/rate-limit",
	http.StatusUnsupportedMediaType:  "/errors/unsupported-media-type",
	http.StatusRequestEntityTooLarge: "/errors/payload-too-large",
	http.StatusInternalServerError:   apierrors.TypeInternal,
}

// reject writes a problem for requests refused before any handler runs
func reject(w http.ResponseWriter, r *http.Request, status int, detail string) {
	typ, ok := statusTypes[status]
	if !ok {
		typ = apierrors.TypeInternal
	}
	apierrors.NewProblemDetails(status, typ, detail, r).Write(w)
}
