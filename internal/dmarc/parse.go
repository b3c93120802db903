package dmarc

import (
	"bytes"
	"encoding/xml"
	"fmt"
	"net"
	"strconv"
	"strings"
)

// some xmls contain invalid XML by adding an unclosed xs tag
const xsTag = `<xs:schema xmlns:xs="http://www.w3.org/2001/XMLSchema" targetNamespace="http://dmarc.org/dmarc-xml/0.1">`

// Parse unmarshals a raw aggregate report and normalizes it into an
// AggregateReport ready for storage. It is a pure in-memory
// transform: no I/O, no logging. Vendor quirks (disposition "pass",
// multi-valued spf_align, the broken xs:schema preamble) are resolved
// here so the store never sees them.
func Parse(content []byte) (*AggregateReport, error) {
	content = bytes.ReplaceAll(content, []byte(xsTag), []byte(""))

	var doc xmlReport
	if err := xml.Unmarshal(content, &doc); err != nil {
		return nil, fmt.Errorf("error on xml unmarshal: %w", err)
	}

	report := &AggregateReport{
		ReportID:         doc.ReportMetadata.ReportID,
		Domain:           doc.PolicyPublished.Domain,
		Organization:     doc.ReportMetadata.OrgName,
		Email:            doc.ReportMetadata.Email,
		ExtraContactInfo: doc.ReportMetadata.ExtraContactInfo,
		DateFrom:         doc.ReportMetadata.DateRange.Begin,
		DateTo:           doc.ReportMetadata.DateRange.End,
		PolicyAdkim:      doc.PolicyPublished.Adkim,
		PolicyAspf:       doc.PolicyPublished.Aspf,
		PolicyP:          doc.PolicyPublished.P,
		PolicySp:         doc.PolicyPublished.Sp,
		PolicyPct:        parsePct(doc.PolicyPublished.Pct),
	}

	for _, rec := range doc.Records {
		ip := net.ParseIP(rec.Row.SourceIP)
		if ip == nil {
			report.InvalidIPs = append(report.InvalidIPs, rec.Row.SourceIP)
			continue
		}

		var dkim []DKIMAuthResult
		for _, d := range rec.AuthResults.Dkim {
			dkim = append(dkim, DKIMAuthResult{
				Domain:   d.Domain,
				Result:   d.Result,
				Selector: d.Selector,
			})
		}

		report.Records = append(report.Records, SourceRecord{
			SourceIP:    rec.Row.SourceIP,
			IP:          ip,
			Count:       rec.Row.Count,
			Disposition: normalizeDisposition(rec.Row.PolicyEvaluated.Disposition),
			SPFAlign:    normalizeSPFAlign(rec.Row.PolicyEvaluated.Spf),
			DKIMAlign:   rec.Row.PolicyEvaluated.Dkim,
			HeaderFrom:  rec.Identifiers.HeaderFrom,
			DKIM:        dkim,
			SPFDomain:   rec.AuthResults.Spf.Domain,
			SPFResult:   rec.AuthResults.Spf.Result,
		})
	}

	return report, nil
}

// some reports contain disposition pass instead of none
func normalizeDisposition(disposition string) string {
	if disposition == "pass" {
		return DispositionNone
	}
	return disposition
}

// spf_align is binary in the schema even though SPF results are
// multi-valued, everything that is not pass collapses to fail
func normalizeSPFAlign(align string) string {
	if align == "pass" {
		return "pass"
	}
	return "fail"
}

func parsePct(pct string) *int {
	pct = strings.TrimSpace(pct)
	if pct == "" {
		return nil
	}
	n, err := strconv.Atoi(pct)
	if err != nil {
		return nil
	}
	return &n
}
