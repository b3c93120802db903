package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/hashicorp/go-multierror"
	"github.com/sirupsen/logrus"
	"gorm.io/driver/mysql"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"dmarcimport/internal/config"
	"dmarcimport/internal/dmarc"
)

// Outcome is the result of storing one report. Skipped means the
// (reportid, domain) pair already exists; nothing was written.
type Outcome struct {
	Skipped         bool
	Serial          uint32
	RecordsInserted int
}

type ReportStore struct {
	db  *gorm.DB
	log *logrus.Logger
}

// Open connects to MySQL. TranslateError is on so a unique key
// violation on insert surfaces as gorm.ErrDuplicatedKey, which is
// what makes concurrent runs against the same database safe.
func Open(cfg config.DatabaseConfig, log *logrus.Logger) (*gorm.DB, error) {
	gormLogger := logger.New(
		log,
		logger.Config{
			SlowThreshold:             time.Second,
			LogLevel:                  logger.Warn,
			IgnoreRecordNotFoundError: true,
			Colorful:                  false,
		},
	)

	db, err := gorm.Open(mysql.Open(cfg.DSN()), &gorm.Config{
		Logger:         gormLogger,
		TranslateError: true,
	})
	if err != nil {
		return nil, fmt.Errorf("could not connect to database: %w", err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("could not get underlying sql db: %w", err)
	}
	sqlDB.SetMaxIdleConns(2)
	sqlDB.SetMaxOpenConns(10)
	sqlDB.SetConnMaxLifetime(time.Hour)

	return db, nil
}

func New(db *gorm.DB, log *logrus.Logger) *ReportStore {
	return &ReportStore{db: db, log: log}
}

// Migrate creates the report and rptrecord tables if they do not
// exist yet.
func (s *ReportStore) Migrate() error {
	if err := s.db.AutoMigrate(&Report{}, &RptRecord{}); err != nil {
		return fmt.Errorf("could not migrate schema: %w", err)
	}
	return nil
}

// Store persists a parsed report plus its raw XML, or skips it when
// the same report identity is already present. The report row and its
// record rows share one transaction so a mid-batch failure cannot
// leave an orphaned report. A single failed record row is logged and
// skipped, its siblings are still attempted.
func (s *ReportStore) Store(ctx context.Context, report *dmarc.AggregateReport, rawXML []byte) (*Outcome, error) {
	encoded, err := EncodeRawXML(rawXML)
	if err != nil {
		return nil, err
	}

	outcome := &Outcome{}
	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var existing Report
		err := tx.Select("serial").
			Where("reportid = ? AND domain = ?", report.ReportID, report.Domain).
			First(&existing).Error
		if err == nil {
			s.log.Debugf("Report already exists. reportId: %s domain: %s skipping...", report.ReportID, report.Domain)
			outcome.Skipped = true
			return nil
		}
		if !errors.Is(err, gorm.ErrRecordNotFound) {
			return fmt.Errorf("could not check for existing report: %w", err)
		}

		row := newReportRow(report, encoded)
		if err := tx.Create(row).Error; err != nil {
			// another run inserted the same report between our
			// check and the insert, the unique key caught it
			if errors.Is(err, gorm.ErrDuplicatedKey) {
				outcome.Skipped = true
				return nil
			}
			return fmt.Errorf("insert into report failed: %w", err)
		}
		outcome.Serial = row.Serial

		var merr *multierror.Error
		for i := range report.Records {
			rec := newRptRecord(row.Serial, &report.Records[i])
			if err := tx.Create(rec).Error; err != nil {
				s.log.Warnf("insert into rptrecord failed for %s: %v", report.Records[i].SourceIP, err)
				merr = multierror.Append(merr, err)
				continue
			}
			outcome.RecordsInserted++
		}
		if merr.ErrorOrNil() != nil {
			s.log.Warnf("%d of %d record rows failed for report %s", merr.Len(), len(report.Records), report.ReportID)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return outcome, nil
}
