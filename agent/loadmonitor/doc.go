// Copyright (c) SkillMesh Authors.
// Licensed under the MIT License.

// Package loadmonitor tracks per-agent load and decides whether the mesh
// should accept new work.
//
// Each agent has a load score in [0,1], a weighted sum of task load, queue
// depth, error rate and response time, each normalized against a limit.
// Scores drive a health classification and the system load (the mean of all
// scores). When the system load reaches SystemOverloadThreshold the monitor
// starts shedding: SuggestAssignment rejects with LOAD_SHEDDING until the
// load falls below SystemOverloadThreshold*RecoveryRatio.
//
//	mon := loadmonitor.NewMonitor(loadmonitor.DefaultMonitorConfig(), store, collector, logger)
//	_ = mon.Start(ctx)
//	_, _ = mon.Report(ctx, "desk-1", loadmonitor.Report{ActiveTasks: 3})
//	a, err := mon.SuggestAssignment(loadmonitor.AssignmentRequest{TaskID: id})
//
// Metrics survive restarts through a MetricsStore: in memory, Redis or any
// gorm backed SQL database. Store failures are logged and never block
// monitoring.
package loadmonitor
