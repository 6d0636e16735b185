// Copyright (c) SkillMesh Authors.
// Licensed under the MIT License.

// Package telemetry 封装 OpenTelemetry SDK 初始化逻辑，
// 为 mesh 节点配置 OTLP gRPC 的 TracerProvider 和 MeterProvider，
// 并以设备 ID 标记 service.instance.id。
// 禁用时使用 noop 实现，不连接任何外部服务。
package telemetry
