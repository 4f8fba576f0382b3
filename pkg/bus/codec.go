package bus

import (
	"bytes"
	"encoding/binary"
	"encoding/gob"
	"encoding/json"
	"fmt"
)

// Codec encodes and decodes event payloads. The bus stores only opaque
// bytes; components choose a codec per topic.
type Codec interface {
	Name() string
	Encode(v any) ([]byte, error)
	Decode(data []byte, v any) error
}

// JSONCodec is the default: human-readable, used for every cross-component
// event in this repo.
type JSONCodec struct{}

func (JSONCodec) Name() string                   { return "json" }
func (JSONCodec) Encode(v any) ([]byte, error)    { return json.Marshal(v) }
func (JSONCodec) Decode(d []byte, v any) error    { return json.Unmarshal(d, v) }

// BinaryCodec frames a gob-encoded value behind a 4-byte big-endian length
// prefix, for components that exchange large blobs (e.g. retrieval
// snippet batches) where JSON's overhead is undesirable.
type BinaryCodec struct{}

func (BinaryCodec) Name() string { return "binary" }

func (BinaryCodec) Encode(v any) ([]byte, error) {
	var body bytes.Buffer
	if err := gob.NewEncoder(&body).Encode(v); err != nil {
		return nil, fmt.Errorf("gob encode: %w", err)
	}
	framed := make([]byte, 4+body.Len())
	binary.BigEndian.PutUint32(framed[:4], uint32(body.Len()))
	copy(framed[4:], body.Bytes())
	return framed, nil
}

func (BinaryCodec) Decode(data []byte, v any) error {
	if len(data) < 4 {
		return fmt.Errorf("binary codec: frame too short (%d bytes)", len(data))
	}
	n := binary.BigEndian.Uint32(data[:4])
	if int(n) != len(data)-4 {
		return fmt.Errorf("binary codec: length prefix %d does not match payload %d", n, len(data)-4)
	}
	return gob.NewDecoder(bytes.NewReader(data[4:])).Decode(v)
}

// Registry resolves a codec by name, used where a topic's codec choice is
// carried alongside the message (e.g. an envelope header) rather than fixed
// at compile time.
type Registry struct {
	codecs map[string]Codec
}

// NewRegistry returns a Registry pre-populated with JSONCodec and BinaryCodec.
func NewRegistry() *Registry {
	r := &Registry{codecs: make(map[string]Codec)}
	r.Register(JSONCodec{})
	r.Register(BinaryCodec{})
	return r
}

func (r *Registry) Register(c Codec) { r.codecs[c.Name()] = c }

func (r *Registry) Get(name string) (Codec, error) {
	c, ok := r.codecs[name]
	if !ok {
		return nil, fmt.Errorf("bus: unknown codec %q", name)
	}
	return c, nil
}
