// Copyright (c) SkillMesh Authors.
// Licensed under the MIT License.

/*
包 database 负责按配置打开 GORM 数据库并管理连接池。

支持 sqlite（github.com/glebarez/sqlite，纯 Go）、postgres 与 mysql 三种驱动。
Open 选择方言、建立连接并交给 PoolManager；PoolManager 负责连接池参数、
后台探活、事务与可重试错误的指数退避重试。
*/
package database
