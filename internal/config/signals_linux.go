package config

// DefaultIdentitySignals lists the fingerprint signals hashed into the MachineId.
// Hostname and MAC are collected for diagnostics but excluded: both change routinely
// (rename, docking stations, VPN adapters). product_uuid and board_serial are
// left out on Linux because most distributions restrict them to root.
var DefaultIdentitySignals = []string{
	"platform_id",
	"board_name",
	"volume_id",
	"cpu",
}
