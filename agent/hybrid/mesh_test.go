package hybrid

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/BaSui01/skillmesh/agent/discovery"
	"github.com/BaSui01/skillmesh/agent/handoff"
	"github.com/BaSui01/skillmesh/agent/loadmonitor"
	"github.com/BaSui01/skillmesh/agent/skills"
	"github.com/BaSui01/skillmesh/agent/transport"
	"github.com/BaSui01/skillmesh/types"
)

type meshNode struct {
	id       string
	registry *discovery.Registry
	skills   *skills.Registry
	protocol *handoff.Protocol
}

func newMeshNode(t *testing.T, net *transport.MemoryNetwork, id string, builtins bool) *meshNode {
	t.Helper()

	sk := skills.NewRegistry(zap.NewNop())
	var infos []discovery.SkillInfo
	if builtins {
		require.NoError(t, skills.RegisterBuiltins(sk))
		for _, def := range sk.List() {
			infos = append(infos, discovery.SkillInfo{ID: def.ID, Name: def.Name})
		}
	}
	reg := discovery.NewRegistry(nil, zap.NewNop())
	require.NoError(t, reg.RegisterLocal(&discovery.DeviceProfile{
		DeviceID:  id,
		Platform:  "linux",
		Tier:      discovery.TierStandard,
		Skills:    infos,
		Resources: discovery.Resources{CPUCount: 4, MemoryMB: 4096},
	}))

	tr := net.Join(id)
	p := handoff.NewProtocol(nil, handoff.Dependencies{Transport: tr, Registry: reg, Runtime: sk}, zap.NewNop())
	t.Cleanup(func() {
		_ = p.Close()
		_ = tr.Close()
	})
	return &meshNode{id: id, registry: reg, skills: sk, protocol: p}
}

func (n *meshNode) router(monitor *loadmonitor.Monitor) *Router {
	deps := Dependencies{Runtime: n.skills, Delegator: n.protocol, Devices: n.registry}
	if monitor != nil {
		deps.Monitor = monitor
	}
	return NewRouter(nil, deps, zap.NewNop())
}

func TestMesh_RemoteRoundTripReturnsRawSkillOutput(t *testing.T) {
	net := transport.NewMemoryNetwork()
	a := newMeshNode(t, net, "node-a", false)
	b := newMeshNode(t, net, "node-b", true)

	require.NoError(t, net.Connect("node-a", "node-b"))
	require.Eventually(t, func() bool {
		return len(a.registry.FindDevicesForSkill("uppercase")) == 1
	}, 2*time.Second, 5*time.Millisecond)

	input := json.RawMessage(`{"text":"hello mesh"}`)
	want, err := b.skills.Execute(context.Background(), "uppercase", input)
	require.NoError(t, err)

	mon := loadmonitor.NewMonitor(nil, nil, nil, zap.NewNop())
	res, err := a.router(mon).Execute(context.Background(), Task{
		ID:       "task-T",
		SkillID:  "uppercase",
		Input:    input,
		Strategy: StrategyBestFit,
	})
	require.NoError(t, err)
	assert.JSONEq(t, string(want), string(res.Output))
	assert.Equal(t, "remote:node-b", res.ExecutedOn)
	assert.Equal(t, "task-T", res.TaskID)

	// The outcome reached the monitor through the router.
	got, ok := mon.Get("node-b")
	require.True(t, ok)
	assert.Equal(t, int64(1), got.TotalTasks)
	assert.Zero(t, got.ActiveTasks)
}

func TestMesh_BestFitStaysLocalForLightSkill(t *testing.T) {
	net := transport.NewMemoryNetwork()
	a := newMeshNode(t, net, "node-a", true)
	newMeshNode(t, net, "node-b", true)

	require.NoError(t, net.Connect("node-a", "node-b"))
	require.Eventually(t, func() bool {
		return len(a.registry.FindDevicesForSkill("wordcount")) == 2
	}, 2*time.Second, 5*time.Millisecond)

	res, err := a.router(nil).Execute(context.Background(), Task{
		SkillID: "wordcount",
		Input:   json.RawMessage(`{"text":"one two three"}`),
	})
	require.NoError(t, err)
	assert.Equal(t, "local", res.ExecutedOn)
	assert.JSONEq(t, `{"words":3}`, string(res.Output))
}

func TestMesh_RemoteExecutionFailureFallsBackLocally(t *testing.T) {
	net := transport.NewMemoryNetwork()
	a := newMeshNode(t, net, "node-a", true)
	newMeshNode(t, net, "node-b", true)

	require.NoError(t, net.Connect("node-a", "node-b"))
	require.Eventually(t, func() bool {
		return len(a.registry.FindDevicesForSkill("transcode")) == 2
	}, 2*time.Second, 5*time.Millisecond)

	// An unsupported encoding fails on both sides; the local error is surfaced.
	r := a.router(nil)
	_, err := r.Execute(context.Background(), Task{
		SkillID:  "transcode",
		Input:    json.RawMessage(`{"text":"x","encoding":"rot13"}`),
		Strategy: StrategyRemoteFirst,
	})
	require.Error(t, err)
	assert.True(t, types.IsErrorCode(err, types.ErrExecutionFailed))
	assert.False(t, handoff.IsProtocolError(err))

	hist := r.History()
	require.Len(t, hist, 2)
	assert.Equal(t, "node-b", hist[0].DeviceID)
	assert.Contains(t, hist[0].Error, "EXECUTION_FAILED")
	assert.Equal(t, LocationLocal, hist[1].Location)
	assert.True(t, hist[1].Fallback)
}
