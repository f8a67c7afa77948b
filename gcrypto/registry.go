package gcrypto

import (
	"bytes"
	"fmt"
)

const prefixSize = 8

// Registry maps short type prefixes to public key constructors,
// so that keys of differing types can be distinguished on the wire.
//
// The zero value is ready to use.
// Registry methods are not safe for concurrent use with Register;
// register all types before sharing the registry.
type Registry struct {
	byPrefix map[[prefixSize]byte]func([]byte) (PubKey, error)
	prefixes map[string][prefixSize]byte
}

// Register associates name with the given key type and constructor.
// The name must be unique within the registry,
// and it must fit within the fixed prefix size.
func (r *Registry) Register(name string, inst PubKey, unmarshal func([]byte) (PubKey, error)) {
	if len(name) > prefixSize {
		panic(fmt.Errorf("key type name %q longer than %d bytes", name, prefixSize))
	}

	var prefix [prefixSize]byte
	copy(prefix[:], name)

	if r.byPrefix == nil {
		r.byPrefix = make(map[[prefixSize]byte]func([]byte) (PubKey, error))
		r.prefixes = make(map[string][prefixSize]byte)
	}

	if _, ok := r.byPrefix[prefix]; ok {
		panic(fmt.Errorf("key type %q registered twice", name))
	}

	r.byPrefix[prefix] = unmarshal
	r.prefixes[typeName(inst)] = prefix
}

// Marshal returns the prefixed wire encoding of the given key.
// The key's type must have been registered first.
func (r *Registry) Marshal(k PubKey) []byte {
	prefix, ok := r.prefixes[typeName(k)]
	if !ok {
		panic(fmt.Errorf("attempted to marshal unregistered key type %T", k))
	}

	out := make([]byte, 0, prefixSize+len(k.PubKeyBytes()))
	out = append(out, prefix[:]...)
	return append(out, k.PubKeyBytes()...)
}

// Unmarshal decodes a key previously encoded with Marshal.
func (r *Registry) Unmarshal(b []byte) (PubKey, error) {
	if len(b) < prefixSize {
		return nil, fmt.Errorf("input too short (%d bytes) to contain key type prefix", len(b))
	}

	var prefix [prefixSize]byte
	copy(prefix[:], b[:prefixSize])

	unmarshal, ok := r.byPrefix[prefix]
	if !ok {
		name := string(bytes.TrimRight(prefix[:], "\x00"))
		return nil, fmt.Errorf("no registered public key type for prefix %q", name)
	}

	return unmarshal(b[prefixSize:])
}

func typeName(k PubKey) string {
	return fmt.Sprintf("%T", k)
}
