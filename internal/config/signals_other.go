//go:build !linux && !windows && !darwin

package config

// DefaultIdentitySignals lists the fingerprint signals hashed into the MachineId
var DefaultIdentitySignals = []string{
	"platform_id",
}
