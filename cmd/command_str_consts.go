package cmd

// Centralized command name strings. Use these constants in Cobra Use fields
// and user-facing messages so command names are defined in exactly one place.
const (
	beaconCmdStr = "beacon"

	statuslineCmdStr = "statusline"
	doctorCmdStr     = "doctor"
	versionCmdStr    = "version"
)
