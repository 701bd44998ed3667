// Package servertype classifies the control plane a client is talking
// to from configuration alone, per spec section 4.E. It has no
// dependency on the transport: Determine is a pure function.
package servertype

import "strings"

// Type enumerates the server-type classification values from spec
// section 6.
type Type string

const (
	Cloud        Type = "CLOUD"
	Server       Type = "SERVER"
	Ephemeral    Type = "EPHEMERAL"
	Unconfigured Type = "UNCONFIGURED"
)

// Determine maps (apiURL, cloudAPIURL, allowEphemeralMode) to a Type
// following the decision table in spec section 4.E, evaluated in order:
// an apiURL prefixed by cloudAPIURL is CLOUD, any other apiURL is
// SERVER, an unset apiURL with ephemeral mode allowed is EPHEMERAL, and
// otherwise UNCONFIGURED.
func Determine(apiURL, cloudAPIURL string, allowEphemeralMode bool) Type {
	if apiURL != "" {
		if cloudAPIURL != "" && strings.HasPrefix(apiURL, cloudAPIURL) {
			return Cloud
		}
		return Server
	}
	if allowEphemeralMode {
		return Ephemeral
	}
	return Unconfigured
}
