package config

// DefaultIdentitySignals lists the fingerprint signals hashed into the MachineId.
// Hostname and MAC are collected for diagnostics but excluded: both change routinely
// (rename, docking stations, VPN adapters).
var DefaultIdentitySignals = []string{
	"platform_id",
	"product_uuid",
	"board_name",
	"volume_id",
	"cpu",
}
