// SPDX-License-Identifier: MIT

package api

import "net/http"

// basicAuthGate protects the UI root with HTTP Basic auth once a
// password is configured (spec.md §6: "GET / ... may be gated by Basic
// auth when a password is set"). The username is ignored; only the
// password is checked against the Store, the same proof mutations
// require.
func (s *Server) basicAuthGate(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !s.cfg.Store.HasPassword() {
			next.ServeHTTP(w, r)
			return
		}

		_, password, ok := r.BasicAuth()
		if !ok || s.cfg.Store.Authorize(password) != nil {
			w.Header().Set("WWW-Authenticate", `Basic realm="restreamerd"`)
			http.Error(w, "unauthorized", http.StatusUnauthorized)
			return
		}
		next.ServeHTTP(w, r)
	})
}
