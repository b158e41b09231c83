package domain

// Kind is the wire protocol of a media resource.
type Kind string

const (
	KindDirect      Kind = "direct"
	KindHLS         Kind = "hls"
	KindDASH        Kind = "dash"
	KindIndirection Kind = "indirection"
)

// Segmented reports whether the protocol is fetched as an ordered list of segments.
func (k Kind) Segmented() bool {
	return k == KindHLS || k == KindDASH
}
