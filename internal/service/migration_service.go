package service

import (
	"context"

	"go.uber.org/zap"

	"talentchat/internal/metrics"
	"talentchat/internal/repository"
	"talentchat/internal/room"
)

// MergePlan describe la fusion de un room historico en su id canonico.
type MergePlan struct {
	OldID    string `json:"old_id"`
	NewID    string `json:"new_id"`
	Messages int64  `json:"messages"`
	Existing int64  `json:"existing"`
}

// SkippedRoom es un room no canonico que no se pudo decodificar.
type SkippedRoom struct {
	RoomID string `json:"room_id"`
	Reason string `json:"reason"`
}

type MigrationReport struct {
	Scanned       int           `json:"scanned"`
	Merged        int           `json:"merged"`
	MessagesMoved int64         `json:"messages_moved"`
	Failed        int           `json:"failed"`
	Skipped       []SkippedRoom `json:"skipped,omitempty"`
}

// RoomMigrator fusiona rooms cuyos ids usan un delimitador obsoleto o el
// orden de participantes equivocado. Es idempotente: una segunda pasada no cambia nada.
type RoomMigrator struct {
	logger *zap.Logger
	repo   repository.MessageRepository
}

func NewRoomMigrator(logger *zap.Logger, repo repository.MessageRepository) *RoomMigrator {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &RoomMigrator{logger: logger, repo: repo}
}

// Plan calcula las fusiones sin aplicarlas.
func (m *RoomMigrator) Plan(ctx context.Context) ([]MergePlan, MigrationReport, error) {
	var report MigrationReport
	if m == nil || m.repo == nil {
		return nil, report, ErrMessageServiceNotConfigured
	}
	ids, err := m.repo.ListRoomIDs(ctx)
	if err != nil {
		return nil, report, err
	}
	report.Scanned = len(ids)

	var plans []MergePlan
	for _, id := range ids {
		if room.IsCanonical(id) {
			continue
		}
		a, b, err := room.DecodeLegacy(id)
		if err != nil {
			report.Skipped = append(report.Skipped, SkippedRoom{RoomID: id, Reason: err.Error()})
			m.logger.Warn("room migration skipped", zap.String("old_id", id), zap.Error(err))
			continue
		}
		newID, err := room.Canonicalize(a, b)
		if err != nil {
			report.Skipped = append(report.Skipped, SkippedRoom{RoomID: id, Reason: err.Error()})
			m.logger.Warn("room migration skipped", zap.String("old_id", id), zap.Error(err))
			continue
		}
		count, err := m.repo.CountByRoom(ctx, id)
		if err != nil {
			report.Failed++
			m.logger.Error("room migration count failed", zap.String("old_id", id), zap.Error(err))
			continue
		}
		existing, err := m.repo.CountByRoom(ctx, newID)
		if err != nil {
			report.Failed++
			m.logger.Error("room migration count failed", zap.String("new_id", newID), zap.Error(err))
			continue
		}
		plans = append(plans, MergePlan{OldID: id, NewID: newID, Messages: count, Existing: existing})
	}
	return plans, report, nil
}

// Run aplica las fusiones. Un room que falla se registra y la pasada continua.
func (m *RoomMigrator) Run(ctx context.Context) (MigrationReport, error) {
	plans, report, err := m.Plan(ctx)
	if err != nil {
		return report, err
	}

	for _, plan := range plans {
		moved, err := m.repo.RenameRoom(ctx, plan.OldID, plan.NewID)
		if err != nil {
			report.Failed++
			metrics.RoomsMigrated.WithLabelValues("failed").Inc()
			m.logger.Error("room merge failed",
				zap.String("old_id", plan.OldID),
				zap.String("new_id", plan.NewID),
				zap.Error(err),
			)
			continue
		}
		report.Merged++
		report.MessagesMoved += moved
		metrics.RoomsMigrated.WithLabelValues("merged").Inc()
		m.logger.Info("room merged",
			zap.String("old_id", plan.OldID),
			zap.String("new_id", plan.NewID),
			zap.Int64("moved", moved),
			zap.Int64("existing", plan.Existing),
		)

		after, err := m.repo.CountByRoom(ctx, plan.NewID)
		if err != nil {
			m.logger.Warn("room merge conservation check unavailable", zap.String("new_id", plan.NewID), zap.Error(err))
			continue
		}
		if after < plan.Existing+moved {
			m.logger.Error("room merge lost messages",
				zap.String("new_id", plan.NewID),
				zap.Int64("expected_at_least", plan.Existing+moved),
				zap.Int64("actual", after),
			)
		}
	}
	return report, nil
}
