package api

import "fmt"

// PhysicalType enumerates the closed set of field types a Schema field
// may declare (spec.md section 3).
type PhysicalType uint8

const (
	TypeInt8 PhysicalType = iota
	TypeInt16
	TypeInt32
	TypeInt64
	TypeUint8
	TypeUint16
	TypeUint32
	TypeUint64
	TypeFloat32
	TypeFloat64
	TypeBool
	TypeChar // fixed-length char array
	TypeVarSized
)

// FixedWidth returns the physical byte width of fixed-width types, or 0
// for TypeVarSized (which instead contributes a 32-bit child-region
// offset slot) and TypeChar (whose width is per-field, see Field.Length).
func (t PhysicalType) FixedWidth() int {
	switch t {
	case TypeInt8, TypeUint8, TypeBool:
		return 1
	case TypeInt16, TypeUint16:
		return 2
	case TypeInt32, TypeUint32, TypeFloat32:
		return 4
	case TypeInt64, TypeUint64, TypeFloat64:
		return 8
	case TypeVarSized:
		return 4 // offset slot into the child region
	default:
		return 0
	}
}

func (t PhysicalType) String() string {
	switch t {
	case TypeInt8:
		return "INT8"
	case TypeInt16:
		return "INT16"
	case TypeInt32:
		return "INT32"
	case TypeInt64:
		return "INT64"
	case TypeUint8:
		return "UINT8"
	case TypeUint16:
		return "UINT16"
	case TypeUint32:
		return "UINT32"
	case TypeUint64:
		return "UINT64"
	case TypeFloat32:
		return "FLOAT32"
	case TypeFloat64:
		return "FLOAT64"
	case TypeBool:
		return "BOOLEAN"
	case TypeChar:
		return "CHAR"
	case TypeVarSized:
		return "VARSIZED"
	default:
		return "UNKNOWN"
	}
}

// QualifierSeparator separates a source/table qualifier from a field
// name in a qualified field name, e.g. "orders$amount".
const QualifierSeparator = "$"

// PartitionID is a dense 64-bit identifier with a distinguished INVALID
// sentinel, used for each of the four PartitionKey dimensions.
type PartitionID uint64

// InvalidPartitionID is the sentinel for an unset dimension.
const InvalidPartitionID PartitionID = ^PartitionID(0)

// PartitionKey addresses a local consumer endpoint: a quadruple of
// (shared-query-id, decomposed-query-id, operator-id,
// producer-subpartition-index). See spec.md section 3.
type PartitionKey struct {
	SharedQueryID     PartitionID
	DecomposedQueryID PartitionID
	OperatorID        PartitionID
	SubpartitionIndex PartitionID
}

// Valid reports whether every dimension is set to a non-sentinel value.
func (k PartitionKey) Valid() bool {
	return k.SharedQueryID != InvalidPartitionID &&
		k.DecomposedQueryID != InvalidPartitionID &&
		k.OperatorID != InvalidPartitionID &&
		k.SubpartitionIndex != InvalidPartitionID
}

func (k PartitionKey) String() string {
	return fmt.Sprintf("(%d,%d,%d,%d)", k.SharedQueryID, k.DecomposedQueryID, k.OperatorID, k.SubpartitionIndex)
}

// StageID stably indexes an executable pipeline stage within a plan's
// stage arena (spec.md section 9: "pipeline stages are referenced by
// stable StageId indices into an arena owned by the plan").
type StageID uint32

// QueryID identifies a decomposed query plan within the NodeEngine's
// registry.
type QueryID uint64

// PlanStatus enumerates the executable query plan lifecycle
// (spec.md section 4.6).
type PlanStatus int

const (
	PlanCreated PlanStatus = iota
	PlanRegistered
	PlanRunning
	PlanStopping
	PlanStopped
	PlanFailed
	PlanInvalid // returned for lookups after unregistration
)

func (s PlanStatus) String() string {
	switch s {
	case PlanCreated:
		return "Created"
	case PlanRegistered:
		return "Registered"
	case PlanRunning:
		return "Running"
	case PlanStopping:
		return "Stopping"
	case PlanStopped:
		return "Stopped"
	case PlanFailed:
		return "Failed"
	case PlanInvalid:
		return "Invalid"
	default:
		return "Unknown"
	}
}

// ReconfigurationKind enumerates the reconfiguration event metadata
// variants carried by a ReconfigurationMarker (spec.md section 3).
type ReconfigurationKind int

const (
	ReconfigDrain ReconfigurationKind = iota
	ReconfigUpdateAndDrain
	ReconfigConnectToNewReceiver
	ReconfigHardEnd
	ReconfigSoftEnd
	ReconfigFailEnd
)

func (k ReconfigurationKind) String() string {
	switch k {
	case ReconfigDrain:
		return "Drain"
	case ReconfigUpdateAndDrain:
		return "UpdateAndDrain"
	case ReconfigConnectToNewReceiver:
		return "ConnectToNewReceiver"
	case ReconfigHardEnd:
		return "HardEnd"
	case ReconfigSoftEnd:
		return "SoftEnd"
	case ReconfigFailEnd:
		return "FailEnd"
	default:
		return "Unknown"
	}
}

// ReconfigurationEvent is one event in a reconfiguration marker's event
// list, carrying a metadata variant and an optional payload (e.g. the
// new receiver address for ConnectToNewReceiver).
type ReconfigurationEvent struct {
	Kind    ReconfigurationKind
	Payload any
}

// ReconfigurationMarker is an in-band control message carried on the
// task queue alongside data tasks. Markers are values; when one is
// broadcast, the queue tracks delivery with a shared counter attached
// to each queued marker task (the broadcast-by-decrement pattern of
// spec.md section 4.2), not with a field of the marker itself.
type ReconfigurationMarker struct {
	QueryID QueryID
	Version uint64
	Events  []ReconfigurationEvent
}
