package storage

// OpKind is the kind of a local mutation waiting to be mirrored remotely.
type OpKind string

const (
	// OpAdd mirrors a local add or edit.
	OpAdd OpKind = "add"
	// OpDelete mirrors a local delete.
	OpDelete OpKind = "delete"
)

// PendingOp is a local mutation not yet applied to the remote store.
type PendingOp struct {
	Kind          OpKind `json:"kind"`
	MeasurementID string `json:"measurementId"`
	QueuedAt      int64  `json:"queuedAt"` // epoch ms
}
