// Package snapshot implements the Snapshot component (spec §4.12): capturing
// and restoring a Context's globals. Serialization is a depth-bounded
// recursive walk that writes every container inline; it keeps no table of
// already-seen objects. When persisted, the value tree is packed with
// msgpack inside the binary envelope written by Pack, checksummed with
// xxHash64.
package snapshot

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"time"

	"github.com/cespare/xxhash/v2"
	"github.com/google/uuid"
	"github.com/vmihailenco/msgpack/v5"

	"github.com/zigllms/scriptcore/system/script/scripterr"
	"github.com/zigllms/scriptcore/system/script/value"
)

// magic identifies the persisted snapshot envelope: "SLSS" + version 1.
var magic = [5]byte{'S', 'L', 'S', 'S', 0x01}

// SerializedValue is the engine-neutral value tree stored in a Snapshot.
// Arrays and objects are serialized inline each time they occur; Capture
// never emits the "ref" kind or a RefID, and deserialize reads "ref" as nil.
type SerializedValue struct {
	Kind   string            `msgpack:"kind"` // nil/bool/int/number/string/array/object/ref/placeholder
	Bool   bool              `msgpack:"bool,omitempty"`
	Int    int64             `msgpack:"int,omitempty"`
	Number float64           `msgpack:"number,omitempty"`
	String string            `msgpack:"string,omitempty"`
	Items  []SerializedValue `msgpack:"items,omitempty"`
	Keys   []string          `msgpack:"keys,omitempty"`
	Values []SerializedValue `msgpack:"values,omitempty"`
	RefID  int               `msgpack:"ref,omitempty"`
	// Placeholder marks a function/userdata/thread value that is not
	// generally round-trippable (spec §3 Snapshot, §9 open question 4).
	Placeholder bool `msgpack:"placeholder,omitempty"`
}

// Snapshot is one captured state.
type Snapshot struct {
	ID        string
	CreatedAt time.Time
	Metadata  map[string]string

	Globals map[string]SerializedValue

	ChecksumHex string
	SizeBytes   int64

	// NonRestorablePaths lists global paths that serialized as opaque
	// placeholders, reported back by Restore per the spec's partial
	// restorability requirement.
	NonRestorablePaths []string
}

// identityTracker bounds recursion depth during serialization. Because
// value.Value containers are always produced via Clone (which never
// introduces cycles), snapshots are acyclic by construction; the tracker
// exists only to bound pathological engine-supplied graphs without a stack
// overflow, converting runaway depth into a non-restorable placeholder
// instead of a panic.
type identityTracker struct {
	limit int
	depth int
}

// NewID generates a snapshot identifier for callers that don't have one of
// their own (e.g. an automatic checkpoint rather than a user-named save).
func NewID() string {
	return uuid.NewString()
}

// Capture walks globals and serializes each recursively, recording which
// paths were opaque placeholders.
func Capture(id string, metadata map[string]string, globals map[string]value.Value) (*Snapshot, error) {
	snap := &Snapshot{
		ID:        id,
		CreatedAt: time.Now(),
		Metadata:  metadata,
		Globals:   make(map[string]SerializedValue, len(globals)),
	}
	tracker := &identityTracker{limit: 4096}
	for name, v := range globals {
		sv, nonRestorable := serialize(v, tracker, name, nil)
		snap.Globals[name] = sv
		snap.NonRestorablePaths = append(snap.NonRestorablePaths, nonRestorable...)
	}
	return snap, nil
}

func serialize(v value.Value, tracker *identityTracker, path string, acc []string) (SerializedValue, []string) {
	tracker.depth++
	defer func() { tracker.depth-- }()
	if tracker.depth > tracker.limit {
		return SerializedValue{Kind: "placeholder", Placeholder: true}, append(acc, path)
	}

	switch v.Kind() {
	case value.KindNil:
		return SerializedValue{Kind: "nil"}, acc
	case value.KindBool:
		b, _ := v.AsBool()
		return SerializedValue{Kind: "bool", Bool: b}, acc
	case value.KindInt:
		i, _ := v.AsInt()
		return SerializedValue{Kind: "int", Int: i}, acc
	case value.KindNumber:
		n, _ := v.AsNumber()
		return SerializedValue{Kind: "number", Number: n}, acc
	case value.KindString:
		s, _ := v.AsString()
		return SerializedValue{Kind: "string", String: s}, acc
	case value.KindArray:
		items := v.Items()
		out := make([]SerializedValue, len(items))
		for i, it := range items {
			var sv SerializedValue
			sv, acc = serialize(it, tracker, fmt.Sprintf("%s[%d]", path, i), acc)
			out[i] = sv
		}
		return SerializedValue{Kind: "array", Items: out}, acc
	case value.KindObject:
		keys := v.Keys()
		values := make([]SerializedValue, len(keys))
		for i, k := range keys {
			fv, _ := v.Field(k)
			var sv SerializedValue
			sv, acc = serialize(fv, tracker, path+"."+k, acc)
			values[i] = sv
		}
		return SerializedValue{Kind: "object", Keys: keys, Values: values}, acc
	default: // KindFunction, KindUserdata
		return SerializedValue{Kind: "placeholder", Placeholder: true}, append(acc, path)
	}
}

func deserialize(sv SerializedValue) value.Value {
	switch sv.Kind {
	case "nil", "placeholder":
		return value.Nil()
	case "bool":
		return value.Bool(sv.Bool)
	case "int":
		return value.Int(sv.Int)
	case "number":
		return value.Number(sv.Number)
	case "string":
		return value.String(sv.String)
	case "array":
		items := make([]value.Value, len(sv.Items))
		for i, it := range sv.Items {
			items[i] = deserialize(it)
		}
		return value.Array(items...)
	case "object":
		obj := value.NewObject()
		for i, k := range sv.Keys {
			obj.SetField(k, deserialize(sv.Values[i]))
		}
		return obj
	default:
		return value.Nil()
	}
}

// Restore reconstructs globals from a Snapshot. It always succeeds (partial
// restorability); NonRestorablePaths on the snapshot enumerates what could
// not be round-tripped.
func Restore(snap *Snapshot) map[string]value.Value {
	out := make(map[string]value.Value, len(snap.Globals))
	for name, sv := range snap.Globals {
		out[name] = deserialize(sv)
	}
	return out
}

// Pack encodes a Snapshot into the persisted binary envelope: magic,
// version, created_at, metadata, a msgpack-packed value tree body, and an
// xxHash64 checksum of everything preceding it.
func Pack(snap *Snapshot) ([]byte, error) {
	var buf bytes.Buffer
	buf.Write(magic[:])

	if err := binary.Write(&buf, binary.LittleEndian, uint64(snap.CreatedAt.UnixMilli())); err != nil {
		return nil, scripterr.Wrap(scripterr.Runtime, "snapshot: write timestamp failed", err)
	}

	metaBytes, err := msgpack.Marshal(snap.Metadata)
	if err != nil {
		return nil, scripterr.Wrap(scripterr.Runtime, "snapshot: marshal metadata failed", err)
	}
	if err := binary.Write(&buf, binary.LittleEndian, uint32(len(metaBytes))); err != nil {
		return nil, scripterr.Wrap(scripterr.Runtime, "snapshot: write metadata length failed", err)
	}
	buf.Write(metaBytes)

	bodyBytes, err := msgpack.Marshal(snap.Globals)
	if err != nil {
		return nil, scripterr.Wrap(scripterr.Runtime, "snapshot: marshal value tree failed", err)
	}
	if err := binary.Write(&buf, binary.LittleEndian, uint32(len(bodyBytes))); err != nil {
		return nil, scripterr.Wrap(scripterr.Runtime, "snapshot: write body length failed", err)
	}
	buf.Write(bodyBytes)

	checksum := xxhash.Sum64(buf.Bytes())
	if err := binary.Write(&buf, binary.LittleEndian, checksum); err != nil {
		return nil, scripterr.Wrap(scripterr.Runtime, "snapshot: write checksum failed", err)
	}

	snap.ChecksumHex = fmt.Sprintf("%016x", checksum)
	snap.SizeBytes = int64(buf.Len())
	return buf.Bytes(), nil
}

// Unpack decodes a persisted snapshot envelope, verifying its checksum.
func Unpack(data []byte) (*Snapshot, error) {
	if len(data) < len(magic)+8+4+4+8 {
		return nil, scripterr.New(scripterr.Syntax, "snapshot: truncated envelope")
	}
	if !bytes.Equal(data[:len(magic)], magic[:]) {
		return nil, scripterr.New(scripterr.Syntax, "snapshot: bad magic")
	}

	checksumOffset := len(data) - 8
	want := binary.LittleEndian.Uint64(data[checksumOffset:])
	got := xxhash.Sum64(data[:checksumOffset])
	if want != got {
		return nil, scripterr.New(scripterr.Runtime, "snapshot: checksum mismatch")
	}

	r := bytes.NewReader(data[len(magic):checksumOffset])
	var createdMS uint64
	if err := binary.Read(r, binary.LittleEndian, &createdMS); err != nil {
		return nil, scripterr.Wrap(scripterr.Syntax, "snapshot: read timestamp failed", err)
	}

	var metaLen uint32
	if err := binary.Read(r, binary.LittleEndian, &metaLen); err != nil {
		return nil, scripterr.Wrap(scripterr.Syntax, "snapshot: read metadata length failed", err)
	}
	metaBytes := make([]byte, metaLen)
	if _, err := r.Read(metaBytes); err != nil {
		return nil, scripterr.Wrap(scripterr.Syntax, "snapshot: read metadata failed", err)
	}
	var metadata map[string]string
	if err := msgpack.Unmarshal(metaBytes, &metadata); err != nil {
		return nil, scripterr.Wrap(scripterr.Syntax, "snapshot: unmarshal metadata failed", err)
	}

	var bodyLen uint32
	if err := binary.Read(r, binary.LittleEndian, &bodyLen); err != nil {
		return nil, scripterr.Wrap(scripterr.Syntax, "snapshot: read body length failed", err)
	}
	bodyBytes := make([]byte, bodyLen)
	if _, err := r.Read(bodyBytes); err != nil {
		return nil, scripterr.Wrap(scripterr.Syntax, "snapshot: read body failed", err)
	}
	var globals map[string]SerializedValue
	if err := msgpack.Unmarshal(bodyBytes, &globals); err != nil {
		return nil, scripterr.Wrap(scripterr.Syntax, "snapshot: unmarshal value tree failed", err)
	}

	snap := &Snapshot{
		CreatedAt:   time.UnixMilli(int64(createdMS)),
		Metadata:    metadata,
		Globals:     globals,
		ChecksumHex: fmt.Sprintf("%016x", got),
		SizeBytes:   int64(len(data)),
	}
	var collect func(path string, sv SerializedValue)
	collect = func(path string, sv SerializedValue) {
		if sv.Placeholder {
			snap.NonRestorablePaths = append(snap.NonRestorablePaths, path)
			return
		}
		for i, it := range sv.Items {
			collect(fmt.Sprintf("%s[%d]", path, i), it)
		}
		for i, k := range sv.Keys {
			if i < len(sv.Values) {
				collect(path+"."+k, sv.Values[i])
			}
		}
	}
	for path, sv := range globals {
		collect(path, sv)
	}
	return snap, nil
}
