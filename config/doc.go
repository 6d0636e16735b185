// Copyright (c) SkillMesh Authors.
// Licensed under the MIT License.

// Package config 提供 mesh 节点的配置管理功能。
//
// 配置按 默认值 → YAML 文件 → SKILLMESH_ 前缀环境变量 的顺序叠加。
// 组件段（transport/registry/protocol/monitor/router）直接复用各组件的配置结构，
// 只能通过 YAML 设置；越界数值由组件自行钳制，Validate 只拒绝结构性错误。
//
// Watcher 监听配置文件，变更并校验通过后回调新旧两份配置，
// 调用方据此在运行期调整负载权重与技能分级。
package config
