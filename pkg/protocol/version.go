package protocol

import (
	"fmt"
	"strings"

	"github.com/hashicorp/go-version"
)

// HandshakeVersion is the protocol level this node advertises in HELLO.
const HandshakeVersion = "1.0"

// SupportedVersions lists the protocol levels this node can speak.
var SupportedVersions = []string{"1.0", "1.1"}

// Negotiation is the outcome of reconciling two declared protocol versions.
type Negotiation struct {
	Compatible bool
	// Version is the agreed level, set only when Compatible.
	Version string
	Local   string
	Remote  string
	// Reason explains an incompatible result.
	Reason string
}

// Negotiate reconciles local and remote "major[.minor]" versions. Both
// sides must share a major version; the agreed minor is the lower of the two.
func Negotiate(local, remote string) Negotiation {
	n := Negotiation{Local: local, Remote: remote}

	lmaj, lmin, lok := majorMinor(local)
	rmaj, rmin, rok := majorMinor(remote)
	if !lok || !rok {
		n.Reason = fmt.Sprintf("could not parse version strings (local %q, remote %q)", local, remote)
		return n
	}

	if lmaj != rmaj {
		n.Reason = fmt.Sprintf("major version mismatch: local v%d.x vs remote v%d.x", lmaj, rmaj)
		return n
	}

	minor := lmin
	if rmin < minor {
		minor = rmin
	}
	n.Compatible = true
	n.Version = fmt.Sprintf("%d.%d", lmaj, minor)
	return n
}

// NegotiateHello runs Negotiate on the versions declared in two HELLOs.
func NegotiateHello(local, remote *HelloPayload) Negotiation {
	return Negotiate(local.ProtocolVersion, remote.ProtocolVersion)
}

func majorMinor(s string) (major, minor int64, ok bool) {
	if !plainVersion(s) {
		return 0, 0, false
	}
	v, err := version.NewVersion(s)
	if err != nil || v.Prerelease() != "" || v.Metadata() != "" {
		return 0, 0, false
	}
	segs := v.Segments64()
	major = segs[0]
	if len(segs) > 1 {
		minor = segs[1]
	}
	return major, minor, true
}

// plainVersion reports whether s is dot-separated decimal segments. Segments
// after the minor are ignored by the caller.
func plainVersion(s string) bool {
	for _, p := range strings.Split(s, ".") {
		if p == "" {
			return false
		}
		for _, r := range p {
			if r < '0' || r > '9' {
				return false
			}
		}
	}
	return true
}
