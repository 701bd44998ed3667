// Package retry implements the Retry Policy Engine from spec section
// 4.A: classifying responses and transport errors as retryable,
// computing backoff delays with jitter, and enforcing an attempt cap
// that exempts maintenance-window responses.
package retry

import (
	"context"
	"errors"
	"io"
	"math/rand"
	"net"
	"net/http"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/prefecthq/control-plane-client/internal/logging"
)

// MaintenanceHeader is the marker a response carries to signal a
// scheduled-downtime window; requests carrying it are retried without
// counting against the attempt cap.
const MaintenanceHeader = "Prefect-Maintenance"

// builtinRetryableStatusCodes is the fixed set of status codes that are
// always retryable, independent of any configured extra codes.
var builtinRetryableStatusCodes = map[int]struct{}{
	http.StatusRequestTimeout:     {}, // 408
	http.StatusTooManyRequests:    {}, // 429
	http.StatusBadGateway:         {}, // 502
	http.StatusServiceUnavailable: {}, // 503
}

// Policy holds the configuration snapshot a single request is evaluated
// against: the built-in codes plus any configured extras, the jitter
// factor, and the attempt cap. A Policy is built fresh per request from
// the current configuration (spec section 4.A: "Dynamic configuration
// pulled at call time maps to a small config snapshot taken at the
// start of each request").
type Policy struct {
	MaxRetries        int
	ExtraCodes        map[int]struct{}
	RetryJitterFactor float64
	Logger            logging.Logger
	Rand              *rand.Rand // nil uses the package-level source

	// BaseUnit scales the exponential backoff base (2**attemptIndex
	// BaseUnit instead of 2**attemptIndex seconds). It defaults to one
	// second, matching spec section 4.A; tests that want to exercise
	// many retries without real wall-clock delay may shrink it.
	BaseUnit time.Duration
}

// NewPolicy builds a Policy from the given values as-is: it applies no
// defaults to maxRetries or jitterFactor (a jitter factor of zero means
// no jitter). The defaults of 5 retries and 0.2 jitter are supplied by
// the config package. Nil extraCodes and logger are replaced with an
// empty set and a no-op logger.
func NewPolicy(maxRetries int, extraCodes map[int]struct{}, jitterFactor float64, logger logging.Logger) *Policy {
	if extraCodes == nil {
		extraCodes = map[int]struct{}{}
	}
	if logger == nil {
		logger = logging.Nop()
	}
	return &Policy{
		MaxRetries:        maxRetries,
		ExtraCodes:        extraCodes,
		RetryJitterFactor: jitterFactor,
		Logger:            logger,
	}
}

// IsRetryableStatus reports whether code is in the built-in retryable
// set or the configured extra codes.
func (p *Policy) IsRetryableStatus(code int) bool {
	if _, ok := builtinRetryableStatusCodes[code]; ok {
		return true
	}
	_, ok := p.ExtraCodes[code]
	return ok
}

// IsMaintenance reports whether a response carries the maintenance
// marker header with a case-insensitive "true" value, per spec section
// 4.A.
func IsMaintenance(header http.Header) bool {
	return strings.EqualFold(strings.TrimSpace(header.Get(MaintenanceHeader)), "true")
}

// IsRetryableError reports whether a transport-level error is one of
// the transient kinds spec section 4.A names: remote/local protocol
// errors, read/write errors, and pool/read/connect timeouts. Go's
// standard transport doesn't distinguish these as separate exception
// types the way httpx does, so the classification here groups the
// closest analogues: any net.Error (which covers dial/read/write
// timeouts and refused/reset connections) and the handful of io/syscall
// sentinels that correspond to a severed connection mid-request.
// Anything else -- including context cancellation -- is treated as an
// unknown exception and propagated immediately without retry, per spec
// section 7 kind 6.
func IsRetryableError(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}

	var netErr net.Error
	if errors.As(err, &netErr) {
		return true
	}

	switch {
	case errors.Is(err, io.ErrUnexpectedEOF),
		errors.Is(err, io.EOF),
		errors.Is(err, syscall.ECONNRESET),
		errors.Is(err, syscall.EPIPE),
		errors.Is(err, syscall.ECONNREFUSED):
		return true
	}

	return false
}

// RetryAfter parses a Retry-After header as a non-negative real number
// of seconds, per spec section 4.A. It does not support the HTTP-date
// form, matching the spec's scope (the control plane only ever emits
// numeric seconds).
func RetryAfter(header http.Header) (time.Duration, bool) {
	raw := strings.TrimSpace(header.Get("Retry-After"))
	if raw == "" {
		return 0, false
	}
	seconds, err := strconv.ParseFloat(raw, 64)
	if err != nil || seconds < 0 {
		return 0, false
	}
	return time.Duration(seconds * float64(time.Second)), true
}

// Delay computes the sleep duration before the attemptIndex-th retry
// (1-based: the first retry is attemptIndex 1). If retryAfter is
// non-nil it is used as the base delay; otherwise the base delay is
// 2**attemptIndex seconds. Jitter multiplies the base delay by a
// uniformly sampled factor in [1.0, 1.0+RetryJitterFactor] when the
// factor is greater than zero.
func (p *Policy) Delay(attemptIndex int, retryAfter *time.Duration) time.Duration {
	unit := p.BaseUnit
	if unit <= 0 {
		unit = time.Second
	}

	var base time.Duration
	if retryAfter != nil {
		base = *retryAfter
	} else {
		base = time.Duration(1<<uint(attemptIndex)) * unit
	}

	if p.RetryJitterFactor <= 0 {
		return base
	}
	factor := 1.0 + p.random()*p.RetryJitterFactor
	return time.Duration(float64(base) * factor)
}

func (p *Policy) random() float64 {
	if p.Rand != nil {
		return p.Rand.Float64()
	}
	return rand.Float64()
}

// Attempt tracks per-request retry state (spec section 3): a counter
// starting at zero and a record of whether any response in the chain
// carried the maintenance marker. Maintenance-exempt attempts never
// increment the counter, so they never count against MaxRetries.
type Attempt struct {
	policy          *Policy
	used            int
	sawMaintenance  bool
}

// NewAttempt starts a fresh Attempt for one logical request under
// policy.
func NewAttempt(policy *Policy) *Attempt {
	return &Attempt{policy: policy}
}

// Number returns the 1-based attempt number for logging, e.g. "this is
// attempt k/(max_retries+1)".
func (a *Attempt) Number() int { return a.used + 1 }

// Cap returns max_retries+1, the denominator used in retry log lines.
func (a *Attempt) Cap() int { return a.policy.MaxRetries + 1 }

// CanRetry reports whether another attempt is permitted: either the
// cap hasn't been reached, or this response is maintenance-exempt.
func (a *Attempt) CanRetry(maintenance bool) bool {
	if maintenance {
		return true
	}
	return a.used < a.policy.MaxRetries
}

// Charge advances the attempt counter unless maintenance is true, per
// spec invariant 4: "a single logical request attempt is either
// counted against the retry cap or exempt; never both."
func (a *Attempt) Charge(maintenance bool) {
	if maintenance {
		a.sawMaintenance = true
		return
	}
	a.used++
}

// SawMaintenance reports whether any response in this request's retry
// chain carried the maintenance marker.
func (a *Attempt) SawMaintenance() bool { return a.sawMaintenance }
