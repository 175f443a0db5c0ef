// Package staging persists parsed submission rows, their flex columns and
// the findings produced from them.
package staging

import (
	"context"
	"fmt"

	"github.com/fedspend/broker/internal/models"
	"github.com/google/uuid"
	"gorm.io/gorm"
)

const batchSize = 500

type Store struct {
	db *gorm.DB
}

func New(db *gorm.DB) *Store {
	return &Store{db: db}
}

// DB returns the handle the store writes through.
func (s *Store) DB() *gorm.DB {
	return s.db
}

// Tx runs fn with a store bound to a single transaction.
func (s *Store) Tx(ctx context.Context, fn func(tx *Store) error) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return fn(&Store{db: tx})
	})
}

// InsertRows stages parsed rows of one file type. Keys are column names.
func (s *Store) InsertRows(ctx context.Context, ft models.FileType, rows []map[string]interface{}) error {
	if len(rows) == 0 {
		return nil
	}
	table := models.StagingTableName(ft)
	if table == "" {
		return fmt.Errorf("file type %q is not staged", ft)
	}
	// Without a model gorm leaves the maps alone instead of scanning the
	// generated ids back into them.
	return s.db.WithContext(ctx).Table(table).CreateInBatches(rows, batchSize).Error
}

// InsertFlex stores flex column values.
func (s *Store) InsertFlex(ctx context.Context, flex []models.FlexField) error {
	if len(flex) == 0 {
		return nil
	}
	return s.db.WithContext(ctx).CreateInBatches(flex, batchSize).Error
}

// InsertFindings stores aggregated findings.
func (s *Store) InsertFindings(ctx context.Context, findings []models.ErrorMetadata) error {
	if len(findings) == 0 {
		return nil
	}
	return s.db.WithContext(ctx).CreateInBatches(findings, batchSize).Error
}

// ClearFile removes every staged row and flex value of a file type in a
// submission, whichever job loaded them.
func (s *Store) ClearFile(ctx context.Context, submissionID uuid.UUID, ft models.FileType) error {
	tx := s.db.WithContext(ctx)
	if model := models.StagingTable(ft); model != nil {
		if err := tx.Where("submission_id = ?", submissionID).Delete(model).Error; err != nil {
			return err
		}
	}
	return tx.Where("submission_id = ? AND file_type = ?", submissionID, ft).
		Delete(&models.FlexField{}).Error
}

// ClearJob discards everything a job produced: staged rows, flex values and
// findings.
func (s *Store) ClearJob(ctx context.Context, job *models.Job) error {
	tx := s.db.WithContext(ctx)
	if model := models.StagingTable(job.FileType); model != nil {
		if err := tx.Where("job_id = ?", job.ID).Delete(model).Error; err != nil {
			return err
		}
	}
	if err := tx.Where("job_id = ?", job.ID).Delete(&models.FlexField{}).Error; err != nil {
		return err
	}
	return tx.Where("job_id = ?", job.ID).Delete(&models.ErrorMetadata{}).Error
}

// DeleteSubmission removes all staged data owned by a submission.
func (s *Store) DeleteSubmission(ctx context.Context, submissionID uuid.UUID) error {
	tx := s.db.WithContext(ctx)
	for _, model := range models.StagingTables {
		if err := tx.Where("submission_id = ?", submissionID).Delete(model).Error; err != nil {
			return err
		}
	}
	for _, model := range []interface{}{&models.FlexField{}, &models.ErrorMetadata{}} {
		if err := tx.Where("submission_id = ?", submissionID).Delete(model).Error; err != nil {
			return err
		}
	}
	return nil
}

// CountRows counts the staged rows of a file type in a submission.
func (s *Store) CountRows(ctx context.Context, submissionID uuid.UUID, ft models.FileType) (int64, error) {
	model := models.StagingTable(ft)
	if model == nil {
		return 0, nil
	}
	var n int64
	err := s.db.WithContext(ctx).Model(model).Where("submission_id = ?", submissionID).Count(&n).Error
	return n, err
}

// Rows returns staged rows keyed by row number, as column maps.
func (s *Store) Rows(ctx context.Context, submissionID uuid.UUID, ft models.FileType, rowNumbers []int) (map[int]map[string]interface{}, error) {
	out := make(map[int]map[string]interface{}, len(rowNumbers))
	model := models.StagingTable(ft)
	if model == nil || len(rowNumbers) == 0 {
		return out, nil
	}

	var found []map[string]interface{}
	err := s.db.WithContext(ctx).Model(model).
		Where("submission_id = ? AND row_number IN ?", submissionID, rowNumbers).
		Find(&found).Error
	if err != nil {
		return nil, err
	}
	for _, row := range found {
		if n, ok := toInt(row["row_number"]); ok {
			out[n] = row
		}
	}
	return out, nil
}

// Flex returns the flex values of a staged file keyed by row number.
func (s *Store) Flex(ctx context.Context, submissionID uuid.UUID, ft models.FileType, rowNumbers []int) (map[int][]models.FlexField, error) {
	out := make(map[int][]models.FlexField)
	if len(rowNumbers) == 0 {
		return out, nil
	}
	var flex []models.FlexField
	err := s.db.WithContext(ctx).
		Where("submission_id = ? AND file_type = ? AND row_number IN ?", submissionID, ft, rowNumbers).
		Order("row_number, id").
		Find(&flex).Error
	if err != nil {
		return nil, err
	}
	for _, f := range flex {
		out[f.RowNumber] = append(out[f.RowNumber], f)
	}
	return out, nil
}

// FABSRows returns the staged FABS rows of a submission in file order.
func (s *Store) FABSRows(ctx context.Context, submissionID uuid.UUID) ([]models.FABS, error) {
	var rows []models.FABS
	err := s.db.WithContext(ctx).
		Where("submission_id = ?", submissionID).
		Order("row_number").
		Find(&rows).Error
	return rows, err
}

// Findings returns the findings of a job ordered by first row.
func (s *Store) Findings(ctx context.Context, jobID uuid.UUID) ([]models.ErrorMetadata, error) {
	var findings []models.ErrorMetadata
	err := s.db.WithContext(ctx).
		Where("job_id = ?", jobID).
		Order("first_row, rule_label").
		Find(&findings).Error
	return findings, err
}

func toInt(v interface{}) (int, bool) {
	switch n := v.(type) {
	case int:
		return n, true
	case int32:
		return int(n), true
	case int64:
		return int(n), true
	case float64:
		return int(n), true
	}
	return 0, false
}
