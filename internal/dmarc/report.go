package dmarc

import (
	"net"
	"strings"
)

// Disposition values after normalization. Some vendors report "pass"
// instead of "none"; the parser maps that before anyone else sees it.
const (
	DispositionNone       = "none"
	DispositionQuarantine = "quarantine"
	DispositionReject     = "reject"
)

// AggregateReport is a parsed and normalized DMARC aggregate report.
// The (ReportID, Domain) pair is the report identity used for
// duplicate detection.
type AggregateReport struct {
	ReportID         string
	Domain           string
	Organization     string
	Email            string
	ExtraContactInfo string
	DateFrom         int64
	DateTo           *int64
	PolicyAdkim      string
	PolicyAspf       string
	PolicyP          string
	PolicySp         string
	PolicyPct        *int
	Records          []SourceRecord

	// InvalidIPs holds the source_ip values of records that were
	// dropped because they classify as neither IPv4 nor IPv6. The
	// caller decides how to report them; dropping a record never
	// fails the report.
	InvalidIPs []string
}

// SourceRecord is one row element of a report. IP is always a valid
// parsed address, records with unparseable addresses never make it
// into AggregateReport.Records.
type SourceRecord struct {
	SourceIP    string
	IP          net.IP
	Count       int
	Disposition string
	SPFAlign    string
	DKIMAlign   string
	HeaderFrom  string
	DKIM        []DKIMAuthResult
	SPFDomain   string
	SPFResult   string
}

// DKIMAuthResult is a single dkim element under auth_results. A
// record can carry several of these (one per signing domain).
type DKIMAuthResult struct {
	Domain   string
	Result   string
	Selector string
}

// IsIPv4 reports whether the record's source address is IPv4.
func (r *SourceRecord) IsIPv4() bool {
	return r.IP.To4() != nil
}

// DKIMDomains returns all dkim domains slash-joined, the flattened
// form the rptrecord table stores.
func (r *SourceRecord) DKIMDomains() string {
	return joinDKIM(r.DKIM, func(d DKIMAuthResult) string { return d.Domain })
}

// DKIMResults returns all dkim results slash-joined.
func (r *SourceRecord) DKIMResults() string {
	return joinDKIM(r.DKIM, func(d DKIMAuthResult) string { return d.Result })
}

// DKIMSelectors returns all dkim selectors slash-joined.
func (r *SourceRecord) DKIMSelectors() string {
	return joinDKIM(r.DKIM, func(d DKIMAuthResult) string { return d.Selector })
}

func joinDKIM(entries []DKIMAuthResult, field func(DKIMAuthResult) string) string {
	parts := make([]string, len(entries))
	for i, e := range entries {
		parts[i] = field(e)
	}
	return strings.Trim(strings.Join(parts, "/"), "/")
}
