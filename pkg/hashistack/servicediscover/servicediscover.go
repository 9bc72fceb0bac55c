package servicediscover

import (
	"context"
	"fmt"
	"net"
	"os"
	"strconv"
	"strings"

	"mediaconv/pkg/config"

	"github.com/hashicorp/consul/api"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

// Module registers the HTTP service with consul when CONSUL.ADDR is set.
var Module = fx.Module("servicediscover", fx.Invoke(registerConsul))

type agent interface {
	ServiceRegister(service *api.AgentServiceRegistration) error
	ServiceDeregister(serviceID string) error
}

type ConsulRegistry struct {
	agent     agent
	serviceID string
	service   *api.AgentServiceRegistration
}

func registerConsul(lc fx.Lifecycle, cfg *config.Config) error {
	if cfg.Consul.Addr == "" {
		return nil
	}

	registry, err := NewConsulRegistry(cfg)
	if err != nil {
		return err
	}

	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			if err := registry.Register(ctx); err != nil {
				zap.L().Error("failed to register with consul", zap.Error(err))
				return err
			}
			zap.L().Info("registered with consul", zap.String("service_id", registry.serviceID))
			return nil
		},
		OnStop: func(ctx context.Context) error {
			return registry.Deregister(ctx)
		},
	})
	return nil
}

func NewConsulRegistry(cfg *config.Config) (*ConsulRegistry, error) {
	conf := api.DefaultConfig()
	conf.Address = cfg.Consul.Addr

	client, err := api.NewClient(conf)
	if err != nil {
		return nil, err
	}

	service, err := newRegistration(cfg)
	if err != nil {
		return nil, err
	}

	return &ConsulRegistry{
		agent:     client.Agent(),
		serviceID: service.ID,
		service:   service,
	}, nil
}

func newRegistration(cfg *config.Config) (*api.AgentServiceRegistration, error) {
	host := cfg.Consul.ServiceHost
	if host == "" {
		h, err := os.Hostname()
		if err != nil {
			return nil, err
		}
		host = h
	}

	addr := cfg.Server.Addr
	if !strings.Contains(addr, ":") {
		addr = ":" + addr
	}
	_, portStr, err := net.SplitHostPort(addr)
	if err != nil {
		return nil, fmt.Errorf("invalid server addr %q: %w", cfg.Server.Addr, err)
	}
	port, err := strconv.Atoi(portStr)
	if err != nil {
		return nil, fmt.Errorf("invalid server port %q: %w", portStr, err)
	}

	scheme := "http"
	if cfg.TLS.Enable {
		scheme = "https"
	}

	return &api.AgentServiceRegistration{
		ID:      fmt.Sprintf("%s-%s-%d", cfg.AppName, host, port),
		Name:    cfg.AppName,
		Address: host,
		Port:    port,
		Tags:    []string{cfg.AppEnv, cfg.AppVersion},
		Check: &api.AgentServiceCheck{
			HTTP:          fmt.Sprintf("%s://%s:%d/readyz", scheme, host, port),
			Interval:      "10s",
			Timeout:       "5s",
			TLSSkipVerify: cfg.TLS.Enable,
		},
	}, nil
}

func (r *ConsulRegistry) Register(ctx context.Context) error {
	return r.agent.ServiceRegister(r.service)
}

func (r *ConsulRegistry) Deregister(ctx context.Context) error {
	return r.agent.ServiceDeregister(r.serviceID)
}
