package ports

import (
	"context"

	"github.com/stoik/fraud-shield/internal/domain"
)

// MXLookupResult is the outcome of an MX lookup: either records were found
// and classified, or the lookup failed/timed out, which is never fatal to
// the caller (§4.1, §7 mx_timeout/mx_failure).
type MXLookupResult struct {
	HasRecords bool
	Hosts      []string
	Bucket     domain.MXProviderBucket
}

// MXResolver defines the contract for the bounded-concurrency,
// DNS-over-HTTPS-backed MX lookup of §4.8. Implementations must honor ctx's
// deadline and must never return an error that the caller is expected to
// propagate — a timeout or transport failure yields a null result instead.
type MXResolver interface {
	Resolve(ctx context.Context, domain string) (MXLookupResult, bool)
}
