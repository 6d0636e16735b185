// Package discovery provides the capability registry of the skill mesh.
//
// The registry tracks every known device (exactly one local, the rest
// announced by peers), keeps a skill index derived from device skill sets,
// and ranks candidates for a skill by capability tier, locality, available
// resources, staleness and load.
//
// # Lifecycle
//
// Remote devices are created by announcements (Upsert), refreshed by
// heartbeats, flagged stale after StaleTimeout of silence and removed after
// the longer PurgeTimeout. A transport disconnect marks the device
// unreachable immediately.
//
//	reg := discovery.NewRegistry(discovery.DefaultRegistryConfig(), logger)
//	_ = reg.RegisterLocal(&discovery.DeviceProfile{DeviceID: "desk-1", Tier: discovery.TierFull})
//	best := reg.GetBestDeviceForSkill("sha256", discovery.Requirements{MinCPU: 2})
//
// # Events
//
// Subscribe receives discovered, updated, offline and purged notifications.
// Handlers run on their own goroutines and never block the registry.
package discovery
