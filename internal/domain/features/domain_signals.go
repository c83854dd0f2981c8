package features

import (
	"strings"

	"github.com/stoik/fraud-shield/internal/domain"
)

// FreeProviders are consumer webmail domains treated as "free" (§3.2
// provider_is_free), distinct from the disposable list.
var FreeProviders = map[string]struct{}{
	"gmail.com":      {},
	"googlemail.com": {},
	"yahoo.com":      {},
	"outlook.com":    {},
	"hotmail.com":    {},
	"live.com":       {},
	"icloud.com":     {},
	"aol.com":        {},
	"proton.me":      {},
	"protonmail.com": {},
}

// DomainSignalInputs bundles the hot-reloadable artifacts FillDomainSignals
// needs, so the caller (FeatureExtractor orchestration in the application
// layer) can borrow a single ArtifactCache snapshot per evaluation.
type DomainSignalInputs struct {
	Disposable map[string]struct{}
	TLDRisk    map[string]float64
}

// FillDomainSignals sets provider_is_free, provider_is_disposable, and
// tld_risk on fv. mx_has_records and mx_provider_bucket are filled
// separately by the MX resolver stage, since they require network I/O.
func FillDomainSignals(fv domain.FeatureVector, dom string, in DomainSignalInputs) {
	_, free := FreeProviders[dom]
	fv.Set("provider_is_free", boolFeature(free))

	disposable := false
	if in.Disposable != nil {
		_, disposable = in.Disposable[dom]
	}
	fv.Set("provider_is_disposable", boolFeature(disposable))

	fv.Set("tld_risk", tldRisk(dom, in.TLDRisk))
}

func tldRisk(dom string, profiles map[string]float64) float64 {
	tld := TLD(dom)
	if profiles == nil {
		return 0
	}
	if risk, ok := profiles[tld]; ok {
		return risk
	}
	return 0
}

// TLD returns the last dot-separated label of a domain.
func TLD(dom string) string {
	idx := strings.LastIndex(dom, ".")
	if idx < 0 || idx == len(dom)-1 {
		return dom
	}
	return dom[idx+1:]
}

// ClassifyMXBucket matches mxHost against known provider hostname suffixes
// (§4.1) and returns the bucket of the first suffix in table order that
// matches. The only overlapping suffixes in the table ("outlook.com" and
// "protection.outlook.com") share a bucket, so this equals a longest-suffix
// match.
func ClassifyMXBucket(mxHost string) domain.MXProviderBucket {
	h := strings.ToLower(strings.TrimSuffix(mxHost, "."))

	suffixes := []struct {
		suffix string
		bucket domain.MXProviderBucket
	}{
		{"google.com", domain.MXProviderGoogle},
		{"googlemail.com", domain.MXProviderGoogle},
		{"outlook.com", domain.MXProviderMicrosoft},
		{"protection.outlook.com", domain.MXProviderMicrosoft},
		{"proton.me", domain.MXProviderProton},
		{"protonmail.ch", domain.MXProviderProton},
		{"messagingengine.com", domain.MXProviderFastmail},
		{"fastmail.com", domain.MXProviderFastmail},
		{"amazonses.com", domain.MXProviderAmazonSES},
	}
	for _, s := range suffixes {
		if strings.HasSuffix(h, s.suffix) {
			return s.bucket
		}
	}
	if h == "" {
		return domain.MXProviderUnknown
	}
	return domain.MXProviderOther
}
