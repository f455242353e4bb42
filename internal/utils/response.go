package utils

import "net/http"

type failer interface {
	Fail(err error)
}

// MarkFailed tells any wrapper around w that supports it that the response
// being written is incomplete, so it must not be kept.
func MarkFailed(w http.ResponseWriter, err error) {
	for w != nil {
		if f, ok := w.(failer); ok {
			f.Fail(err)
			return
		}
		u, ok := w.(interface{ Unwrap() http.ResponseWriter })
		if !ok {
			return
		}
		w = u.Unwrap()
	}
}
