package store

import (
	"encoding/binary"
	"time"

	"dmarcimport/internal/dmarc"
)

// Report is one row of the report table. The schema predates this
// importer, column names and types must stay exactly as they are so
// existing reporting frontends keep working.
type Report struct {
	Serial           uint32     `gorm:"column:serial;primaryKey;autoIncrement"`
	Mindate          time.Time  `gorm:"column:mindate;not null"`
	Maxdate          *time.Time `gorm:"column:maxdate;index:maxdate"`
	Domain           string     `gorm:"column:domain;type:varchar(255);not null;uniqueIndex:domain,priority:1"`
	Org              string     `gorm:"column:org;type:varchar(255);not null"`
	ReportID         string     `gorm:"column:reportid;type:varchar(255);not null;uniqueIndex:domain,priority:2"`
	Email            *string    `gorm:"column:email;type:varchar(255)"`
	ExtraContactInfo *string    `gorm:"column:extra_contact_info;type:varchar(255)"`
	PolicyAdkim      *string    `gorm:"column:policy_adkim;type:varchar(20)"`
	PolicyAspf       *string    `gorm:"column:policy_aspf;type:varchar(20)"`
	PolicyP          *string    `gorm:"column:policy_p;type:varchar(20)"`
	PolicySp         *string    `gorm:"column:policy_sp;type:varchar(20)"`
	PolicyPct        *uint8     `gorm:"column:policy_pct"`
	RawXML           *string    `gorm:"column:raw_xml;type:mediumtext"`
}

func (Report) TableName() string { return "report" }

// RptRecord is one row of the rptrecord table, one per source IP in a
// report. IPv4 goes into ip as a 32 bit unsigned integer, IPv6 into
// ip6 as the raw 16 byte form; exactly one of the two is set. The
// table has no primary key of its own, rows belong to their report
// serial.
type RptRecord struct {
	Serial          uint32  `gorm:"column:serial;not null;index:serial,priority:1"`
	IP              *uint32 `gorm:"column:ip;index:serial,priority:2"`
	IP6             []byte  `gorm:"column:ip6;type:binary(16);index:serial6"`
	RCount          uint32  `gorm:"column:rcount;not null"`
	Disposition     string  `gorm:"column:disposition;type:enum('none','quarantine','reject')"`
	SPFAlign        string  `gorm:"column:spf_align;type:enum('fail','pass','unknown');not null;index:hfrom-spf-dkim,priority:2"`
	DKIMAlign       string  `gorm:"column:dkim_align;type:enum('fail','pass','unknown');not null;index:hfrom-spf-dkim,priority:3"`
	DKIMDomain      string  `gorm:"column:dkimdomain;type:varchar(255)"`
	DKIMResult      string  `gorm:"column:dkimresult;type:varchar(64)"`
	SPFDomain       string  `gorm:"column:spfdomain;type:varchar(255)"`
	SPFResult       string  `gorm:"column:spfresult;type:enum('none','neutral','pass','fail','softfail','temperror','permerror','unknown')"`
	IdentifierHFrom string  `gorm:"column:identifier_hfrom;type:varchar(255);index:hfrom-spf-dkim,priority:1"`
}

func (RptRecord) TableName() string { return "rptrecord" }

func newReportRow(report *dmarc.AggregateReport, rawXML string) *Report {
	row := &Report{
		Mindate:          time.Unix(report.DateFrom, 0),
		Domain:           report.Domain,
		Org:              report.Organization,
		ReportID:         report.ReportID,
		Email:            nullString(report.Email),
		ExtraContactInfo: nullString(report.ExtraContactInfo),
		PolicyAdkim:      nullString(report.PolicyAdkim),
		PolicyAspf:       nullString(report.PolicyAspf),
		PolicyP:          nullString(report.PolicyP),
		PolicySp:         nullString(report.PolicySp),
		RawXML:           nullString(rawXML),
	}
	if report.DateTo != nil {
		maxdate := time.Unix(*report.DateTo, 0)
		row.Maxdate = &maxdate
	}
	if report.PolicyPct != nil {
		pct := uint8(*report.PolicyPct) // nolint:gosec
		row.PolicyPct = &pct
	}
	return row
}

func newRptRecord(serial uint32, rec *dmarc.SourceRecord) *RptRecord {
	row := &RptRecord{
		Serial:          serial,
		RCount:          uint32(rec.Count), // nolint:gosec
		Disposition:     rec.Disposition,
		SPFAlign:        rec.SPFAlign,
		DKIMAlign:       rec.DKIMAlign,
		DKIMDomain:      rec.DKIMDomains(),
		DKIMResult:      rec.DKIMResults(),
		SPFDomain:       rec.SPFDomain,
		SPFResult:       rec.SPFResult,
		IdentifierHFrom: rec.HeaderFrom,
	}
	if ip4 := rec.IP.To4(); ip4 != nil {
		packed := binary.BigEndian.Uint32(ip4)
		row.IP = &packed
	} else {
		row.IP6 = rec.IP.To16()
	}
	return row
}

func nullString(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
