package jobs

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/alem-hub/achievement-engine/internal/application/command"
)

// SnapshotRepairer reconciles drifted snapshots against the ledger.
type SnapshotRepairer interface {
	RepairAll(ctx context.Context) (command.RepairReport, error)
}

// RepairSnapshotsJob periodically rebuilds snapshots that lag the ledger.
type RepairSnapshotsJob struct {
	repairer SnapshotRepairer
	logger   *slog.Logger
}

// NewRepairSnapshotsJob creates a new repair job.
func NewRepairSnapshotsJob(repairer SnapshotRepairer, logger *slog.Logger) *RepairSnapshotsJob {
	if logger == nil {
		logger = slog.Default()
	}
	return &RepairSnapshotsJob{repairer: repairer, logger: logger}
}

// Name implements scheduler.Job.
func (j *RepairSnapshotsJob) Name() string { return "repair_snapshots" }

// Description implements scheduler.Job.
func (j *RepairSnapshotsJob) Description() string {
	return "Reconciles user point snapshots with the ledger"
}

// Run implements scheduler.Job. Individual user failures fail the run after
// the whole pass so they show up in the job history.
func (j *RepairSnapshotsJob) Run(ctx context.Context) error {
	report, err := j.repairer.RepairAll(ctx)
	if err != nil {
		return err
	}

	j.logger.Info("snapshot repair pass finished",
		"checked", report.Checked,
		"repaired", report.Repaired,
		"failed", report.Failed,
	)
	if report.Failed > 0 {
		return fmt.Errorf("snapshot repair: %d of %d users failed", report.Failed, report.Checked)
	}
	return nil
}
