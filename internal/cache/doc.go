// Copyright (c) SkillMesh Authors.
// Licensed under the MIT License.

/*
包 cache 封装 go-redis 客户端，为负载指标等需要跨进程保存的小型记录
提供带前缀的 JSON 读写与集合索引。

# 核心类型

  - Manager：持有 Redis 客户端，负责连接校验、健康检查与关闭，
    提供 PutJSON/GetJSON/MGetJSON/Members/Delete 等操作。
  - Config：地址、密码、库编号、键前缀、记录 TTL 与连接池参数。

PutJSON 与 Delete 在一个事务 pipeline 中同时维护记录与索引集合，
读取端通过 Members + MGetJSON 批量加载，已过期的记录被跳过。
*/
package cache
