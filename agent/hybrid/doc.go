// Copyright (c) SkillMesh Authors.
// Licensed under the MIT License.

// Package hybrid decides where a skill runs: on this node, on a peer, or on
// one and then the other.
//
// A Router classifies each task by a skill weight table (light, medium,
// heavy, gpu), scores the local node and every remote candidate from the
// capability registry, and executes according to the task's Strategy.
// Strategies with a fallback retry once on the other side; the rest surface
// the first error. NO_CANDIDATE means nothing could run the task at all and is
// never returned for a failed execution.
//
//	r := hybrid.NewRouter(hybrid.DefaultRouterConfig(), hybrid.Dependencies{
//		Runtime:   skills,
//		Delegator: protocol,
//		Devices:   registry,
//		Monitor:   monitor,
//	}, logger)
//	res, err := r.Execute(ctx, hybrid.Task{SkillID: "wordcount", Input: in})
//
// Every attempt lands in a bounded history that feeds the load-balanced
// strategy and Stats.
package hybrid
