package main

import (
	"context"
	"time"

	"CareFlow/internal/biz"
	"CareFlow/internal/conf"
	"CareFlow/internal/model"
	pkglog "CareFlow/pkg/log"

	"github.com/go-kratos/kratos/v2/log"
	"github.com/robfig/cron/v3"
)

const auditJobTimeout = 30 * time.Minute

// AuditJobs runs the daily integrity verification and compliance report.
type AuditJobs struct {
	cron *cron.Cron
	log  *pkglog.LogHelper
}

// NewAuditJobs registers the audit cron jobs. Expressions have a seconds
// field: "0 0 3 * * *" is 03:00:00 every day. An empty expression disables
// its job.
func NewAuditJobs(c *conf.Audit, audit *biz.AuditLog, logger log.Logger) (*AuditJobs, error) {
	helper := pkglog.NewLogHelper(log.With(logger, "module", "cron/audit"))
	j := &AuditJobs{
		cron: cron.New(cron.WithSeconds(), cron.WithLocation(time.UTC)),
		log:  helper,
	}
	if c == nil {
		return j, nil
	}

	if c.IntegrityCron != "" {
		if _, err := j.cron.AddFunc(c.IntegrityCron, func() {
			ctx, cancel := context.WithTimeout(context.Background(), auditJobTimeout)
			defer cancel()

			report, err := audit.VerifyIntegrity(ctx, lastDay())
			if err != nil {
				helper.Errorw("msg", "audit integrity job failed", "error", err)
				return
			}
			if !report.Valid {
				helper.Security("audit chain broken", "broken", len(report.BrokenAt), "checked", report.Checked)
				return
			}
			helper.Scheduler("audit integrity verified", "checked", report.Checked)
		}); err != nil {
			return nil, err
		}
	}

	if c.ReportCron != "" {
		if _, err := j.cron.AddFunc(c.ReportCron, func() {
			ctx, cancel := context.WithTimeout(context.Background(), auditJobTimeout)
			defer cancel()

			report, err := audit.ComplianceReport(ctx, lastDay())
			if err != nil {
				helper.Errorw("msg", "compliance report job failed", "error", err)
				return
			}
			helper.Scheduler("compliance report completed",
				"report_id", report.ReportID,
				"total_events", report.TotalEvents,
				"integrity_score", report.IntegrityScore,
			)
		}); err != nil {
			return nil, err
		}
	}
	return j, nil
}

// Start runs the scheduler in the background.
func (j *AuditJobs) Start() {
	j.cron.Start()
	j.log.Scheduler("audit cron jobs started", "jobs", len(j.cron.Entries()))
}

// Stop waits for running jobs to finish.
func (j *AuditJobs) Stop() {
	<-j.cron.Stop().Done()
}

func lastDay() model.TimeRange {
	now := time.Now().UTC()
	return model.TimeRange{From: now.Add(-24 * time.Hour), To: now}
}
