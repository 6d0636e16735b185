package ctxkeys

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestTaskID(t *testing.T) {
	_, ok := TaskID(context.Background())
	assert.False(t, ok)

	_, ok = TaskID(WithTaskID(context.Background(), ""))
	assert.False(t, ok)

	id, ok := TaskID(WithTaskID(context.Background(), "task-1"))
	assert.True(t, ok)
	assert.Equal(t, "task-1", id)
}

func TestOrigin(t *testing.T) {
	_, ok := Origin(context.Background())
	assert.False(t, ok)

	origin, ok := Origin(WithOrigin(context.Background(), "phone"))
	assert.True(t, ok)
	assert.Equal(t, "phone", origin)
}

func TestFields(t *testing.T) {
	assert.Empty(t, Fields(context.Background()))

	ctx := WithOrigin(WithTaskID(context.Background(), "task-1"), "phone")
	fields := Fields(ctx)
	if assert.Len(t, fields, 2) {
		assert.Equal(t, "task_id", fields[0].Key)
		assert.Equal(t, "task-1", fields[0].String)
		assert.Equal(t, "origin", fields[1].Key)
		assert.Equal(t, "phone", fields[1].String)
	}
}
