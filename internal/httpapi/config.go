package httpapi

// CORS configuration (opt-in). If no origins are set, no CORS middleware is
// added.
var corsAllowedOrigins []string

// SetCORSOrigins configures the origins allowed to read the status API from
// a browser, e.g. the voice server's web UI.
func SetCORSOrigins(origins []string) {
	corsAllowedOrigins = append([]string(nil), origins...)
}
