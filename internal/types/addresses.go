// Package types provides entity kinds and well-known addresses for the X1 engine.
package types

// EntityType is the leading byte of every NodeID.
type EntityType byte

// Entity types.
// Global entities are addressable from transactions; internal entities are
// only reachable through their owner.
const (
	EntityUnknown EntityType = iota
	EntityPackage
	EntityComponent
	EntityAccount
	EntityResourceManager
	EntityEpochManager
	EntityVault
	EntityKeyValueStore
	EntityNonFungibleStore
)

var entityNames = map[EntityType]string{
	EntityUnknown:          "Unknown",
	EntityPackage:          "Package",
	EntityComponent:        "Component",
	EntityAccount:          "Account",
	EntityResourceManager:  "ResourceManager",
	EntityEpochManager:     "EpochManager",
	EntityVault:            "Vault",
	EntityKeyValueStore:    "KeyValueStore",
	EntityNonFungibleStore: "NonFungibleStore",
}

// String returns the entity name.
func (e EntityType) String() string {
	if name, ok := entityNames[e]; ok {
		return name
	}
	return "Unknown"
}

// IsGlobal returns true for entities that get a global address.
func (e EntityType) IsGlobal() bool {
	switch e {
	case EntityPackage, EntityComponent, EntityAccount, EntityResourceManager, EntityEpochManager:
		return true
	default:
		return false
	}
}

// IsComponent returns true for component-like global entities.
func (e EntityType) IsComponent() bool {
	return e == EntityComponent || e == EntityAccount || e == EntityEpochManager
}

// Well-known addresses.
var (
	// XRDResourceAddr is the native token resource manager.
	XRDResourceAddr = NewNodeID(EntityResourceManager, []byte("xrd"))

	// ResourcePackageAddr is the native resource package.
	ResourcePackageAddr = NewNodeID(EntityPackage, []byte("resource"))

	// AccountPackageAddr is the native account package.
	AccountPackageAddr = NewNodeID(EntityPackage, []byte("account"))

	// EpochManagerAddr is the epoch manager component.
	EpochManagerAddr = NewNodeID(EntityEpochManager, []byte("epoch"))
)

// IsNativePackage returns true if the node id is a native package.
func IsNativePackage(id NodeID) bool {
	switch id {
	case ResourcePackageAddr, AccountPackageAddr:
		return true
	default:
		return false
	}
}
