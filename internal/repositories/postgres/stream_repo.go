package postgres

import (
	"context"
	"errors"
	"strings"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/streamvigil/vigil/internal/models"
	"github.com/streamvigil/vigil/internal/utils"
	"gorm.io/gorm"
)

type StreamRepository interface {
	Create(ctx context.Context, s *models.Stream) error
	GetByID(ctx context.Context, id uint) (*models.Stream, error)
	GetByRoomURL(ctx context.Context, roomURL string) (*models.Stream, error)
	ListMonitored(ctx context.Context) ([]models.Stream, error)
	SetStatus(ctx context.Context, id uint, status models.StreamStatus) error
	SetMonitored(ctx context.Context, id uint, monitored bool) error
	SetMediaURL(ctx context.Context, id uint, mediaURL string) error
	SetBroadcasterUID(ctx context.Context, id uint, uid string) error
	Delete(ctx context.Context, id uint) error
}

type streamRepo struct {
	db *gorm.DB
}

func NewStreamRepo(db *gorm.DB) StreamRepository {
	return &streamRepo{db: db}
}

// uniqueViolation is the postgres error class for duplicate keys; a duplicate
// room_url must surface as CONFLICT, not INTERNAL.
func uniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505"
}

func (r *streamRepo) Create(ctx context.Context, s *models.Stream) error {
	const op = "StreamRepo.Create"
	s.RoomURL = strings.ToLower(strings.TrimSpace(s.RoomURL))
	if s.RoomURL == "" {
		return utils.E(utils.CodeInvalidArgument, op, "room_url is required", nil)
	}
	if err := r.db.WithContext(ctx).Create(s).Error; err != nil {
		if uniqueViolation(err) {
			return utils.E(utils.CodeConflict, op, "room_url already exists", err)
		}
		return utils.E(utils.CodeInternal, op, "failed to create stream", err)
	}
	return nil
}

func (r *streamRepo) GetByID(ctx context.Context, id uint) (*models.Stream, error) {
	const op = "StreamRepo.GetByID"
	var s models.Stream
	err := r.db.WithContext(ctx).First(&s, id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, utils.E(utils.CodeNotFound, op, "stream not found", err)
	}
	if err != nil {
		return nil, utils.E(utils.CodeInternal, op, "failed to get stream", err)
	}
	return &s, nil
}

func (r *streamRepo) GetByRoomURL(ctx context.Context, roomURL string) (*models.Stream, error) {
	const op = "StreamRepo.GetByRoomURL"
	var s models.Stream
	err := r.db.WithContext(ctx).
		Where("room_url = ?", strings.ToLower(strings.TrimSpace(roomURL))).
		First(&s).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, utils.E(utils.CodeNotFound, op, "stream not found", err)
	}
	if err != nil {
		return nil, utils.E(utils.CodeInternal, op, "failed to get stream", err)
	}
	return &s, nil
}

func (r *streamRepo) ListMonitored(ctx context.Context) ([]models.Stream, error) {
	const op = "StreamRepo.ListMonitored"
	var out []models.Stream
	if err := r.db.WithContext(ctx).Where("is_monitored = ?", true).Find(&out).Error; err != nil {
		return nil, utils.E(utils.CodeInternal, op, "failed to list monitored streams", err)
	}
	return out, nil
}

func (r *streamRepo) SetStatus(ctx context.Context, id uint, status models.StreamStatus) error {
	const op = "StreamRepo.SetStatus"
	if err := r.db.WithContext(ctx).Model(&models.Stream{}).
		Where("id = ?", id).Update("status", status).Error; err != nil {
		return utils.E(utils.CodeInternal, op, "failed to set status", err)
	}
	return nil
}

func (r *streamRepo) SetMonitored(ctx context.Context, id uint, monitored bool) error {
	const op = "StreamRepo.SetMonitored"
	if err := r.db.WithContext(ctx).Model(&models.Stream{}).
		Where("id = ?", id).Update("is_monitored", monitored).Error; err != nil {
		return utils.E(utils.CodeInternal, op, "failed to set is_monitored", err)
	}
	return nil
}

func (r *streamRepo) SetMediaURL(ctx context.Context, id uint, mediaURL string) error {
	const op = "StreamRepo.SetMediaURL"
	if err := r.db.WithContext(ctx).Model(&models.Stream{}).
		Where("id = ?", id).Update("media_url", mediaURL).Error; err != nil {
		return utils.E(utils.CodeInternal, op, "failed to set media_url", err)
	}
	return nil
}

func (r *streamRepo) SetBroadcasterUID(ctx context.Context, id uint, uid string) error {
	const op = "StreamRepo.SetBroadcasterUID"
	if err := r.db.WithContext(ctx).Model(&models.Stream{}).
		Where("id = ?", id).Update("broadcaster_uid", uid).Error; err != nil {
		return utils.E(utils.CodeInternal, op, "failed to set broadcaster_uid", err)
	}
	return nil
}

func (r *streamRepo) Delete(ctx context.Context, id uint) error {
	const op = "StreamRepo.Delete"
	if err := r.db.WithContext(ctx).Delete(&models.Stream{}, id).Error; err != nil {
		return utils.E(utils.CodeInternal, op, "failed to delete stream", err)
	}
	return nil
}
