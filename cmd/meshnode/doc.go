// Copyright (c) SkillMesh Authors.
// Licensed under the MIT License.

/*
Package main 提供 mesh 节点的可执行入口。

# 子命令

  - serve：加载配置，启动节点、HTTP 端点与种子拨号，收到 SIGINT/SIGTERM 后优雅关闭
  - health：请求 /healthz
  - version：打印构建注入的版本信息

# serve 的组装顺序

日志 → 遥测 → Prometheus 收集器 → 负载指标存储（memory / redis / sql，可选）→
技能注册表 → WebSocket 传输 → node.New → HTTP 服务（/mesh、/healthz、/status、/metrics）
→ 配置文件监听 → 种子拨号。

存储打开失败时节点以纯内存方式运行。配置文件变更后，负载权重与技能分级在运行期生效，
其余字段需要重启。关闭顺序与组装顺序相反。
*/
package main
