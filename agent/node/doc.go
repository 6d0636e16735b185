// Copyright (c) SkillMesh Authors.
// Licensed under the MIT License.

// Package node assembles one mesh participant from its parts.
//
// New builds a capability registry, a delegation protocol, a load monitor and
// a router over the given transport and skill registry, registers the local
// device, and connects the components:
//
//   - peer heartbeats are reported to the monitor
//   - agents the monitor marks unresponsive are handed to the protocol as lost
//     peers, failing their pending delegations
//   - purged devices drop their load gauge
//
// Every instance is independent; tests run several nodes in one process over
// a transport.MemoryNetwork.
package node
