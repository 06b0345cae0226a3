package config

// DefaultIdentitySignals lists the fingerprint signals hashed into the MachineId.
// Hostname and MAC are collected for diagnostics but excluded.
var DefaultIdentitySignals = []string{
	"platform_id",
	"board_serial",
	"volume_id",
	"cpu",
}
