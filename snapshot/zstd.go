package snapshot

// ZstdCodec compresses payloads with Zstandard. Best ratio of the
// provided codecs; suited to archival of large covariance matrices.
//
// Two implementations exist: a pure-Go one (the default) and a cgo one
// backed by the upstream C library, selected by build tag.
type ZstdCodec struct{}

var _ Codec = (*ZstdCodec)(nil)

// NewZstdCodec creates a new Zstandard codec.
func NewZstdCodec() ZstdCodec {
	return ZstdCodec{}
}
