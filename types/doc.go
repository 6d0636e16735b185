// Copyright (c) SkillMesh Authors.
// Licensed under the MIT License.

/*
Package types 提供 SkillMesh 各组件共享的最底层类型定义。

# 概述

types 不依赖任何内部包，为 discovery、handoff、loadmonitor、hybrid
等上层模块提供统一的错误契约，避免循环依赖。

# 核心类型

  - Error / ErrorCode：结构化错误体系，含 Retryable、Peer 标记与 Cause 链
  - ErrorCategory：错误分类，capacity / protocol / execution / configuration

# 主要能力

  - 错误工具链：NewError / WithCause / AsError / IsErrorCode / IsRetryable
  - 分类查询：CategoryOf(code) 区分容量、协议、执行与配置错误
*/
package types
