package postgres

import (
	"context"
	"strings"

	"github.com/streamvigil/vigil/internal/models"
	"github.com/streamvigil/vigil/internal/utils"
	"gorm.io/gorm"
)

// PolicyRepository reads the operator-configured alert policies. Both tables
// are read-mostly; pipelines re-read them per cycle rather than caching.
type PolicyRepository interface {
	Keywords(ctx context.Context) ([]string, error)
	FlaggedObjects(ctx context.Context) (map[string]float64, error)
}

type policyRepo struct {
	db *gorm.DB
}

func NewPolicyRepo(db *gorm.DB) PolicyRepository {
	return &policyRepo{db: db}
}

func (r *policyRepo) Keywords(ctx context.Context) ([]string, error) {
	const op = "PolicyRepo.Keywords"
	var rows []models.ChatKeyword
	if err := r.db.WithContext(ctx).Find(&rows).Error; err != nil {
		return nil, utils.E(utils.CodeInternal, op, "failed to load keywords", err)
	}
	out := make([]string, 0, len(rows))
	for _, row := range rows {
		kw := strings.ToLower(strings.TrimSpace(row.Keyword))
		if kw != "" {
			out = append(out, kw)
		}
	}
	return out, nil
}

func (r *policyRepo) FlaggedObjects(ctx context.Context) (map[string]float64, error) {
	const op = "PolicyRepo.FlaggedObjects"
	var rows []models.FlaggedObject
	if err := r.db.WithContext(ctx).Find(&rows).Error; err != nil {
		return nil, utils.E(utils.CodeInternal, op, "failed to load flagged objects", err)
	}
	out := make(map[string]float64, len(rows))
	for _, row := range rows {
		out[strings.ToLower(strings.TrimSpace(row.ObjectName))] = row.ConfidenceThreshold
	}
	return out, nil
}
