// Package ctxkeys 定义在 context 中传递任务信息的键。
// 技能处理函数通过它得知当前任务 ID 与委托来源。
package ctxkeys

import (
	"context"

	"go.uber.org/zap"
)

// contextKey 用于在 context 中存储值的键类型
type contextKey string

const (
	taskIDKey contextKey = "task_id"
	originKey contextKey = "origin"
)

// WithTaskID 设置任务 ID
func WithTaskID(ctx context.Context, taskID string) context.Context {
	return context.WithValue(ctx, taskIDKey, taskID)
}

// TaskID 获取任务 ID
func TaskID(ctx context.Context) (string, bool) {
	v, ok := ctx.Value(taskIDKey).(string)
	if !ok || v == "" {
		return "", false
	}
	return v, true
}

// WithOrigin 设置发起委托的对等节点；本地执行不设置
func WithOrigin(ctx context.Context, peerID string) context.Context {
	return context.WithValue(ctx, originKey, peerID)
}

// Origin 获取发起委托的对等节点
func Origin(ctx context.Context) (string, bool) {
	v, ok := ctx.Value(originKey).(string)
	if !ok || v == "" {
		return "", false
	}
	return v, true
}

// Fields 把 context 中的任务信息转换为日志字段
func Fields(ctx context.Context) []zap.Field {
	var fields []zap.Field
	if id, ok := TaskID(ctx); ok {
		fields = append(fields, zap.String("task_id", id))
	}
	if origin, ok := Origin(ctx); ok {
		fields = append(fields, zap.String("origin", origin))
	}
	return fields
}
