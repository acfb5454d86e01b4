package data

import (
	"context"

	"telegram-dialogs/internal/biz/model"

	"go.uber.org/zap"
)

type checkRepo struct {
	data *Data
	l    *zap.Logger
}

type CheckRepo interface {
	Ready(context.Context, model.HealthCheckReq) (model.HealthCheckReply, error)
}

func NewCheckRepo(d *Data, l *zap.Logger) CheckRepo {
	return &checkRepo{
		data: d,
		l:    l,
	}
}

func (c checkRepo) Ready(ctx context.Context, _ model.HealthCheckReq) (model.HealthCheckReply, error) {
	if err := c.data.store.Probe(); err != nil {
		return model.HealthCheckReply{
			Status: "Unhealthy",
			Details: map[string]string{
				"Components": "SessionStore",
				"Message":    err.Error(),
			},
		}, err
	}
	// Redis 未启用时跳过
	if c.data.rdb != nil {
		if err := c.data.rdb.Ping(ctx).Err(); err != nil {
			return model.HealthCheckReply{
				Status: "Unhealthy",
				Details: map[string]string{
					"Components": "Redis",
					"Message":    err.Error(),
				},
			}, model.NewAppError(model.KindStoreUnavailable, err)
		}
	}
	return model.HealthCheckReply{
		Status:  "Ready",
		Details: nil,
	}, nil
}
