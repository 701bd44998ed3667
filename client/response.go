package client

import (
	"encoding/json"

	"github.com/go-resty/resty/v2"
)

// Response wraps the underlying resty.Response, preserving all of its
// fields while giving Do's callers a type that belongs to this module
// rather than a transport-level type, per spec section 4.D point 5.
type Response struct {
	*resty.Response
}

// JSON decodes the response body into v.
func (r *Response) JSON(v any) error {
	return json.Unmarshal(r.Body(), v)
}
