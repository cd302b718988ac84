// Package codec provides the serialization formats the embedding layers use
// for their payloads. The session core never looks inside a payload; these
// codecs exist for the demo binaries and the HTTP gateway, which do.
package codec

// Codec marshals typed messages. Implementations should be deterministic so
// payloads compare equal across nodes.
type Codec interface {
	ContentType() string
	Marshal(v any) ([]byte, error)
	Unmarshal(data []byte, v any) error
}

// Registry maps content types to codecs.
type Registry struct{ byType map[string]Codec }

// NewRegistry constructs a registry preloaded with the built-in codecs that
// need no initialization: JSON and Protobuf. CBOR is added explicitly via
// Register(CBOR()) because its construction can fail.
func NewRegistry() *Registry {
	r := &Registry{byType: make(map[string]Codec)}
	r.Register(JSON())
	r.Register(Proto())
	return r
}

// Register adds a codec, replacing any previous one for the same content type.
func (r *Registry) Register(c Codec) { r.byType[c.ContentType()] = c }

// Get returns the codec for contentType, or nil.
func (r *Registry) Get(contentType string) Codec { return r.byType[contentType] }
