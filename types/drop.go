package types

type DropReason string

const (
	DropUnidentifiable  DropReason = "unidentifiable record"
	DropEmptyIdentity   DropReason = "empty identity"
	DropSameSource      DropReason = "same-source duplicate"
	DropPublishedBefore DropReason = "published before cutoff"
	DropUnknownVendor   DropReason = "unknown vendor"
)

// DropEvent records why a record did not reach the output. It is used for
// reporting only.
type DropEvent struct {
	ID     string     `json:"id"`
	Source Source     `json:"source"`
	Reason DropReason `json:"reason"`
	Detail string     `json:"detail,omitempty"`
}
