package registry

import (
	"context"
	"fmt"

	"telegram-dialogs/internal/conf"

	"github.com/hashicorp/consul/api"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

var Module = fx.Module("registry",
	fx.Provide(NewConsulRegistry),
)

// ConsulRegistry 把服务注册到 Consul。未启用时为空实现。
type ConsulRegistry struct {
	client    *api.Client
	serviceID string
	l         *zap.Logger
}

func NewConsulRegistry(lc fx.Lifecycle, cfg *conf.Bootstrap, logger *zap.Logger) (*ConsulRegistry, error) {
	if cfg.Registry == nil || !cfg.Registry.Enabled {
		logger.Info("service registry disabled")
		return &ConsulRegistry{l: logger}, nil
	}

	client, err := api.NewClient(&api.Config{Address: cfg.Registry.Addr})
	if err != nil {
		return nil, fmt.Errorf("create consul client failed: %w", err)
	}

	r := &ConsulRegistry{
		client:    client,
		serviceID: fmt.Sprintf("telegram-dialogs-%s-%d", cfg.Registry.ServiceHost, cfg.Registry.ServicePort),
		l:         logger,
	}

	registration := &api.AgentServiceRegistration{
		ID:      r.serviceID,
		Name:    "telegram-dialogs",
		Address: cfg.Registry.ServiceHost,
		Port:    int(cfg.Registry.ServicePort),
		Check: &api.AgentServiceCheck{
			HTTP:                           fmt.Sprintf("http://%s:%d/health", cfg.Registry.ServiceHost, cfg.Registry.ServicePort),
			Interval:                       "10s",
			Timeout:                        "3s",
			DeregisterCriticalServiceAfter: "60s",
		},
	}

	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			if err := client.Agent().ServiceRegister(registration); err != nil {
				return fmt.Errorf("register service failed: %w", err)
			}
			logger.Info("service registered", zap.String("service_id", r.serviceID))
			return nil
		},
		OnStop: func(ctx context.Context) error {
			if err := client.Agent().ServiceDeregister(r.serviceID); err != nil {
				logger.Error("deregister service failed", zap.Error(err))
				return err
			}
			logger.Info("service deregistered", zap.String("service_id", r.serviceID))
			return nil
		},
	})

	return r, nil
}
