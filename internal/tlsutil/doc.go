// Copyright (c) SkillMesh Authors.
// Licensed under the MIT License.

// Package tlsutil 提供集中式 TLS 配置（TLS 1.2+，仅 AEAD 密码套件）。
//
// ServerConfig 为节点 HTTP 端口加载证书，使 /mesh 以 wss 提供；
// ClientConfig 为拨号 wss 种子与 health 命令构建信任的 CA 池。
package tlsutil
