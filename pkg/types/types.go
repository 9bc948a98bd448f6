package types

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// NodeID identifies a SpaceComms node. Peers are nodes, so the peer registry
// is keyed by the same identifier that appears as source_node_id on the wire.
type NodeID string

// MessageID is the correlation id carried by every envelope. It is stable
// across all hops of one logical message.
type MessageID string

// CdmID is the unique key of a conjunction data message.
type CdmID string

// ObjectID is the unique key of a tracked space object (e.g. a NORAD id).
type ObjectID string

func (id NodeID) String() string    { return string(id) }
func (id MessageID) String() string { return string(id) }
func (id CdmID) String() string     { return string(id) }
func (id ObjectID) String() string  { return string(id) }

// NewDatedID returns an id of the form PREFIX-YYYYMMDD-XXXXXXXX, the suffix
// taken from a random UUID.
func NewDatedID(prefix string, now time.Time) string {
	suffix := strings.ToUpper(strings.ReplaceAll(uuid.NewString(), "-", "")[:8])
	return fmt.Sprintf("%s-%s-%s", prefix, now.UTC().Format("20060102"), suffix)
}
