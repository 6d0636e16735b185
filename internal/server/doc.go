// Copyright (c) SkillMesh Authors.
// Licensed under the MIT License.

/*
包 server 提供 mesh 节点的 HTTP 服务器生命周期与路由。

# 核心类型

  - Manager：封装 net/http.Server，提供非阻塞 Start、优雅 Shutdown
    与异步错误通道 Errors。Addr 在启动后返回实际绑定地址。
    Config.TLSConfig 非 nil 时监听器以 TLS 包装。
  - Routes / NewHandler：注册 /mesh（WebSocket 对等连接）、/healthz、
    /status 与可选的 /metrics。
  - Middleware：Recovery、RequestLogger、Metrics、OTelTracing。

/mesh 绕过会包装 ResponseWriter 的中间件，只保留 panic 恢复；
其余路由经过完整的中间件链。服务器不设置整体读写超时，
WebSocket 长连接由传输层自行管理。
*/
package server
