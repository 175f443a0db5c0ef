package worker

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/fedspend/broker/internal/metrics"
	"github.com/fedspend/broker/internal/models"
	"github.com/fedspend/broker/internal/staging"
	"github.com/fedspend/broker/pkg/log"
	"github.com/mattn/go-sqlite3"
	"gorm.io/gorm"
)

const (
	defaultLeaseTTL = 5 * time.Minute
	candidateLimit  = 64
)

// busyFile excludes a candidate whose (submission, file type) already has a
// running job.
const busyFile = `NOT EXISTS (
	SELECT 1 FROM jobs AS r
	WHERE r.submission_id = jobs.submission_id
	  AND r.file_type = jobs.file_type
	  AND r.status = ?
	  AND r.id <> jobs.id
)`

type Claimer struct {
	nodeID    string
	db        *gorm.DB
	leaseTTL  time.Duration
	fileTypes map[models.FileType]struct{}
	now       func() time.Time
}

type ClaimerOption func(*Claimer)

// WithFileTypes restricts the claimer to validation jobs of these file
// types. Cross jobs are matched by their file type "cross".
func WithFileTypes(types ...models.FileType) ClaimerOption {
	return func(c *Claimer) {
		for _, ft := range types {
			c.fileTypes[ft] = struct{}{}
		}
	}
}

func WithClaimClock(now func() time.Time) ClaimerOption {
	return func(c *Claimer) {
		c.now = now
	}
}

func NewClaimer(nodeID string, db *gorm.DB, leaseTTL time.Duration, opts ...ClaimerOption) *Claimer {
	if db == nil {
		panic("worker claimer requires database")
	}
	if strings.TrimSpace(nodeID) == "" {
		nodeID = "unknown-node"
	}
	if leaseTTL <= 0 {
		leaseTTL = defaultLeaseTTL
	}

	c := &Claimer{
		nodeID:    nodeID,
		db:        db,
		leaseTTL:  leaseTTL,
		fileTypes: map[models.FileType]struct{}{},
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func (c *Claimer) NodeID() string {
	return c.nodeID
}

// ClaimNext claims the oldest ready validation job, or returns nil when no
// job can be claimed.
func (c *Claimer) ClaimNext(ctx context.Context) (*models.Job, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	now := c.now().UTC()
	leaseExpiry := now.Add(c.leaseTTL)
	var claimed *models.Job

	err := c.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		query := tx.
			Where("status = ? AND superseded_at IS NULL AND job_type IN ?",
				models.JobStatusReady,
				[]models.JobType{models.JobTypeCSVRecordValidation, models.JobTypeCrossFileValidation},
			).
			Where(busyFile, models.JobStatusRunning)
		if len(c.fileTypes) > 0 {
			query = query.Where("file_type IN ?", c.allowed())
		}

		var candidates []models.Job
		err := query.Order("created_at ASC").Limit(candidateLimit).Find(&candidates).Error
		if err != nil {
			return err
		}

		for _, candidate := range candidates {
			result := tx.Model(&models.Job{}).
				Where("id = ? AND status = ? AND superseded_at IS NULL", candidate.ID, models.JobStatusReady).
				Where(busyFile, models.JobStatusRunning).
				Updates(map[string]interface{}{
					"claimed_by":       c.nodeID,
					"claim_expires_at": leaseExpiry,
					"claim_attempt":    candidate.ClaimAttempt + 1,
					"status":           models.JobStatusRunning,
					"started_at":       now,
					"updated_at":       now,
				})
			if result.Error != nil {
				if isClaimContentionErr(result.Error) {
					metrics.WorkerClaimContentionTotal.WithLabelValues(c.nodeID).Inc()
				}
				return result.Error
			}
			if result.RowsAffected == 0 {
				// Another node won the race.
				metrics.WorkerClaimContentionTotal.WithLabelValues(c.nodeID).Inc()
				continue
			}

			job := &models.Job{}
			if err := tx.First(job, "id = ?", candidate.ID).Error; err != nil {
				return err
			}
			claimed = job
			break
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	if claimed != nil {
		metrics.WorkerClaimsTotal.WithLabelValues(c.nodeID).Inc()
		log.Debug("claimed job", "node_id", c.nodeID, "job_id", claimed.ID, "attempt", claimed.ClaimAttempt)
	}

	return claimed, nil
}

// ReclaimExpired returns running jobs whose lease ran out to ready and
// drops whatever the lost run had written.
func (c *Claimer) ReclaimExpired(ctx context.Context) error {
	now := c.now().UTC()

	var expired []models.Job
	if err := c.db.WithContext(ctx).
		Where("status = ? AND claim_expires_at IS NOT NULL AND claim_expires_at < ?", models.JobStatusRunning, now).
		Find(&expired).Error; err != nil {
		return err
	}

	store := staging.New(c.db)
	reclaimed := 0
	for i := range expired {
		job := &expired[i]
		err := store.Tx(ctx, func(tx *staging.Store) error {
			result := tx.DB().Model(&models.Job{}).
				Where("id = ? AND status = ? AND claimed_by = ?", job.ID, models.JobStatusRunning, job.ClaimedBy).
				Updates(map[string]interface{}{
					"status":           models.JobStatusReady,
					"claimed_by":       "",
					"claim_expires_at": nil,
					"started_at":       nil,
					"updated_at":       now,
				})
			if result.Error != nil || result.RowsAffected == 0 {
				return result.Error
			}
			reclaimed++
			return tx.ClearJob(ctx, job)
		})
		if err != nil {
			return err
		}
	}

	if reclaimed > 0 {
		metrics.WorkerLeaseExpirationsTotal.WithLabelValues(c.nodeID).Add(float64(reclaimed))
		log.Warn("reclaimed expired job leases", "node_id", c.nodeID, "jobs", reclaimed)
	}
	return nil
}

func (c *Claimer) allowed() []models.FileType {
	out := make([]models.FileType, 0, len(c.fileTypes))
	for ft := range c.fileTypes {
		out = append(out, ft)
	}
	return out
}

func isClaimContentionErr(err error) bool {
	if err == nil {
		return false
	}

	var sqliteErr sqlite3.Error
	if errors.As(err, &sqliteErr) {
		return sqliteErr.Code == sqlite3.ErrBusy || sqliteErr.Code == sqlite3.ErrLocked
	}
	return false
}

// ParseFileTypes reads a comma separated list of file types, long or letter
// form. Unknown entries are skipped.
func ParseFileTypes(raw string) []models.FileType {
	var out []models.FileType
	for _, entry := range strings.Split(raw, ",") {
		entry = strings.TrimSpace(entry)
		if entry == "" {
			continue
		}
		ft, err := models.ParseFileType(entry)
		if err != nil {
			log.Warn("ignoring unknown worker file type", "value", entry)
			continue
		}
		out = append(out, ft)
	}
	return out
}
