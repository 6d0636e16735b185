// Copyright (c) SkillMesh Authors.
// Licensed under the MIT License.

/*
Package skills 提供节点本地的技能运行时。

Registry 实现 Runtime 接口（Has / Execute），委派协议的执行端与路由器的
本地执行路径都通过它调用技能。技能处理函数返回的错误会被包装为
EXECUTION_FAILED，原始错误保留在 Cause 中。

RegisterBuiltins 注册随节点发布的演示技能：echo、uppercase、wordcount、
sha256、transcode、summarize 与 embed。
*/
package skills
