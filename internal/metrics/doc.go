// Copyright (c) SkillMesh Authors.
// Licensed under the MIT License.

/*
包 metrics 提供基于 Prometheus 的 mesh 节点指标采集能力。

# 概述

Collector 通过 promauto 自动注册指标，按 namespace 隔离。所有记录方法
对 nil 接收者安全，未启用指标时组件无需判空。

# 主要能力

  - HTTP 指标：请求总数与耗时，状态码归类为 2xx/3xx/4xx/5xx。
  - 委派指标：按终态统计委派次数与耗时。
  - 路由指标：按策略/执行位置统计执行次数、回退次数与耗时。
  - 负载指标：系统平均负载、降载开关、单 agent 负载分。
  - 注册表与传输指标：按状态的设备数、按方向/类型的消息数。
*/
package metrics
