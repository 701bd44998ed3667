// Package headers composes the client's outbound header set, merging
// library defaults, the User-Agent, and user-configured custom headers
// while protecting identity-bearing headers from override, per spec
// section 4.C.
package headers

import (
	"fmt"
	"strings"

	"github.com/prefecthq/control-plane-client/internal/logging"
)

// UserAgentHeader, CSRFTokenHeader, and CSRFClientHeader are the
// protected header names: they are set exclusively by the client and
// are dropped from user-supplied custom headers, case-insensitively.
const (
	UserAgentHeader  = "User-Agent"
	CSRFTokenHeader  = "Prefect-Csrf-Token"
	CSRFClientHeader = "Prefect-Csrf-Client"
)

var protected = map[string]struct{}{
	strings.ToLower(UserAgentHeader):  {},
	strings.ToLower(CSRFTokenHeader):  {},
	strings.ToLower(CSRFClientHeader): {},
}

// IsProtected reports whether name collides with a protected header,
// case-insensitively.
func IsProtected(name string) bool {
	_, ok := protected[strings.ToLower(name)]
	return ok
}

// UserAgent renders "<product>/<productVersion> (API <apiVersion>)",
// per spec section 4.C point 2.
func UserAgent(product, productVersion, apiVersion string) string {
	return fmt.Sprintf("%s/%s (API %s)", product, productVersion, apiVersion)
}

// Compose builds the final header set at client construction: library
// defaults, then User-Agent, then the surviving custom headers. Keys
// are preserved verbatim (including case) in the returned map so
// callers can write them straight into a transport request without
// header-name canonicalization clobbering the user's casing. Any custom
// header that collides with a protected name is dropped and a warning
// is logged.
func Compose(product, productVersion, apiVersion string, custom map[string]string, logger logging.Logger) map[string]string {
	out := map[string]string{
		"Accept":          "application/json",
		"Accept-Encoding": "gzip, deflate",
		"Connection":      "keep-alive",
	}
	out[UserAgentHeader] = UserAgent(product, productVersion, apiVersion)

	for name, value := range custom {
		if IsProtected(name) {
			logger.Warnf("Custom header '%s' ignored because it conflicts with a reserved header.", name)
			continue
		}
		out[name] = value
	}
	return out
}
