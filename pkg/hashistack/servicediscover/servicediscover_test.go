package servicediscover

import (
	"context"
	"testing"

	"github.com/hashicorp/consul/api"
	"github.com/stretchr/testify/require"

	"mediaconv/pkg/config"
)

type agentMock struct {
	registered   *api.AgentServiceRegistration
	deregistered string
}

func (m *agentMock) ServiceRegister(s *api.AgentServiceRegistration) error {
	m.registered = s
	return nil
}

func (m *agentMock) ServiceDeregister(id string) error {
	m.deregistered = id
	return nil
}

func TestNewRegistration(t *testing.T) {
	cfg := &config.Config{AppName: "mediaconv", AppEnv: "test"}
	cfg.Server.Addr = "8080"
	cfg.Consul.ServiceHost = "10.0.0.5"

	reg, err := newRegistration(cfg)
	require.NoError(t, err)
	require.Equal(t, "mediaconv-10.0.0.5-8080", reg.ID)
	require.Equal(t, 8080, reg.Port)
	require.Equal(t, "http://10.0.0.5:8080/readyz", reg.Check.HTTP)

	cfg.Server.Addr = "nope"
	_, err = newRegistration(cfg)
	require.Error(t, err)
}

func TestRegisterAndDeregister(t *testing.T) {
	cfg := &config.Config{AppName: "mediaconv"}
	cfg.Server.Addr = "9000"
	cfg.Consul.ServiceHost = "svc"

	reg, err := newRegistration(cfg)
	require.NoError(t, err)

	agent := &agentMock{}
	r := &ConsulRegistry{agent: agent, serviceID: reg.ID, service: reg}

	require.NoError(t, r.Register(context.Background()))
	require.Equal(t, reg, agent.registered)
	require.NoError(t, r.Deregister(context.Background()))
	require.Equal(t, "mediaconv-svc-9000", agent.deregistered)
}
