package a2a

import (
	"fmt"

	"github.com/Masterminds/semver/v3"
)

// VersionHeader carries an optional semver constraint on the agent version.
const VersionHeader = "A2A-Version"

// CheckCompatibility returns an InvalidRequest error when agentVersion does
// not satisfy constraint. An empty constraint always passes.
func CheckCompatibility(agentVersion, constraint string) *RPCError {
	if constraint == "" {
		return nil
	}
	c, err := semver.NewConstraint(constraint)
	if err != nil {
		return InvalidRequest(fmt.Sprintf("invalid %s constraint %q", VersionHeader, constraint))
	}
	v, err := semver.NewVersion(agentVersion)
	if err != nil {
		return InternalError(fmt.Sprintf("agent version %q is not semver", agentVersion))
	}
	if !c.Check(v) {
		return InvalidRequest(fmt.Sprintf("agent version %s does not satisfy %s", v.String(), constraint))
	}
	return nil
}
