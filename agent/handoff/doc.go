// Copyright (c) SkillMesh Authors.
// Licensed under the MIT License.

/*
包 handoff 实现技能网格节点之间的任务委派协议。

# 概述

一个节点通过 Delegate 把技能调用交给对端执行，对端接受后异步运行技能并
回传唯一一次结果。委派方为每个任务维护一个 Future，无论最终是结果、拒绝、
超时、取消还是对端断连，Future 都只会被结算一次。

# 消息流

	delegator                         executor
	    |---- mesh:task-delegate -------->|
	    |<--- mesh:task-accept / reject --|
	    |<--- mesh:task-progress ---------|
	    |<--- mesh:task-result -----------|
	    |---- mesh:task-cancel ---------->|   (可选)

接受前由 DelegateTimeout 约束，接受后由任务自身的超时约束。
对端连续 3 个心跳周期无消息即判定不可达，其名下的委派全部以
PEER_DISCONNECTED 失败。

# 其他能力

  - QuerySkill：向所有已连接节点广播技能查询并在超时窗口内收集应答
  - InviteToTeam：邀请对端加入团队，由对端的 InviteHandler 决定是否接受
  - Subscribe：订阅结算、进度、心跳、不可达与团队邀请事件
*/
package handoff
