package mesh

import (
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/BaSui01/skillmesh/agent/discovery"
	"github.com/BaSui01/skillmesh/types"
)

func TestEncodeDecode_Delegate(t *testing.T) {
	in := &Delegate{
		TaskID:      "t1",
		SkillID:     "sha256",
		Input:       json.RawMessage(`{"text":"hi"}`),
		Priority:    PriorityHigh,
		TimeoutMs:   1500,
		DelegatedBy: "dev-a",
		DelegatedAt: time.Now().UTC(),
	}

	data, err := Encode("dev-a", in)
	require.NoError(t, err)

	env, msg, err := Decode(data)
	require.NoError(t, err)
	assert.Equal(t, TypeDelegate, env.Type)
	assert.Equal(t, "dev-a", env.From)
	assert.NotEmpty(t, env.ID)

	out, ok := msg.(*Delegate)
	require.True(t, ok)
	assert.Equal(t, "t1", out.TaskID)
	assert.JSONEq(t, `{"text":"hi"}`, string(out.Input))
	assert.Equal(t, 1500*time.Millisecond, out.Timeout())
	assert.Equal(t, "t1", TaskID(msg))
}

func TestEncodeDecode_Announce(t *testing.T) {
	in := &Announce{
		Device: discovery.DeviceProfile{
			DeviceID: "dev-b",
			Tier:     discovery.TierCloud,
			Skills:   []discovery.SkillInfo{{ID: "embed", Name: "Embed"}},
			IsLocal:  true,
		},
		Timestamp: time.Now().UTC(),
	}
	data, err := Encode("dev-b", in)
	require.NoError(t, err)

	_, msg, err := Decode(data)
	require.NoError(t, err)
	out := msg.(*Announce)
	assert.Equal(t, "dev-b", out.Device.DeviceID)
	assert.False(t, out.Device.IsLocal, "local flag never crosses the wire")
	assert.Equal(t, "", TaskID(msg))
}

func TestDecode_Rejects(t *testing.T) {
	tests := []struct {
		name  string
		frame string
		want  error
	}{
		{"malformed", `{not json`, ErrMalformedFrame},
		{"missing type", `{"payload":{}}`, ErrMissingType},
		{"unknown type", `{"type":"mesh:nope","payload":{}}`, ErrUnknownType},
		{"missing payload", `{"type":"mesh:task-accept"}`, ErrMissingPayload},
		{"null payload", `{"type":"mesh:task-accept","payload":null}`, ErrMissingPayload},
		{"payload mismatch", `{"type":"mesh:task-accept","payload":[1,2]}`, ErrPayloadMismatch},
		{"missing task id", `{"type":"mesh:task-result","payload":{"success":true}}`, ErrMissingTaskID},
		{"bad progress", `{"type":"mesh:task-progress","payload":{"taskId":"t","progress":101}}`, ErrInvalidProgress},
		{"negative timeout", `{"type":"mesh:task-delegate","payload":{"taskId":"t","skillId":"s","timeout":-1}}`, ErrInvalidTimeout},
		{"missing skill", `{"type":"mesh:skill-query","payload":{"queryId":"q"}}`, ErrMissingSkillID},
		{"missing invite", `{"type":"mesh:team-invite","payload":{"teamId":"x"}}`, ErrMissingInviteID},
		{"missing device", `{"type":"mesh:agent-heartbeat","payload":{}}`, ErrMissingDeviceID},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, _, err := Decode([]byte(tt.frame))
			require.Error(t, err)
			assert.True(t, errors.Is(err, tt.want), "got %v", err)
			assert.True(t, types.IsErrorCode(err, types.ErrInvalidMessage))
		})
	}
}

func TestType_IsValid(t *testing.T) {
	for typ := range factories {
		assert.True(t, typ.IsValid())
		assert.Equal(t, typ, factories[typ]().MessageType())
	}
	assert.False(t, Type("mesh:unknown").IsValid())
}
