package topology

// ObjectType is the kind of graph object an event refers to
type ObjectType string

const (
	ObjectNode  ObjectType = "node"
	ObjectLink  ObjectType = "link"
	ObjectOther ObjectType = "other"
)

// Endpoints are the node ids a link connects
type Endpoints struct {
	OutputNodeID uint32
	InputNodeID  uint32
}

// ObjectAdded describes a graph object that appeared
type ObjectAdded struct {
	ID          uint32
	Type        ObjectType
	Name        string
	Description string
	OwnerApp    string
	MediaClass  string

	// Endpoints is nil when the notification did not carry resolvable link ends
	Endpoints *Endpoints
}

// Listener consumes graph notifications from an event source
type Listener interface {
	OnObjectAdded(ev ObjectAdded)
	OnObjectRemoved(id uint32)
}
