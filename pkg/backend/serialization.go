package backend

import (
	"bufio"
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"io"

	"github.com/jlrickert/wikidex/pkg/keys"
)

// Serialization format, repeated per revision:
//
//	4 bytes big-endian length m of the metadata
//	m bytes metadata (JSON, UTF-8); meta[size] holds the payload length d
//	d bytes payload
//
// A zero length ends the stream.

// DefaultItemType is set on deserialized revisions that carry no item type.
const DefaultItemType = "default"

// Serialize writes every revision of b to w and returns how many were
// written.
func Serialize(ctx context.Context, b Backend, w io.Writer) (int, error) {
	bw := bufio.NewWriter(w)
	n := 0
	for ref, err := range b.Revisions(ctx) {
		if err != nil {
			return n, err
		}
		meta, data, err := b.Retrieve(ctx, ref.Backend, ref.RevID)
		if err != nil {
			return n, fmt.Errorf("serialize %s/%s: %w", ref.Backend, ref.RevID, err)
		}
		err = writeRevision(bw, meta, data)
		data.Close()
		if err != nil {
			return n, err
		}
		n++
	}
	if err := binary.Write(bw, binary.BigEndian, uint32(0)); err != nil {
		return n, err
	}
	return n, bw.Flush()
}

func writeRevision(w io.Writer, meta Meta, data io.Reader) error {
	raw, err := MarshalMeta(meta)
	if err != nil {
		return err
	}
	if err := binary.Write(w, binary.BigEndian, uint32(len(raw))); err != nil {
		return err
	}
	if _, err := w.Write(raw); err != nil {
		return err
	}
	_, err = io.Copy(w, data)
	return err
}

// DeserializeOptions control namespace handling while loading.
type DeserializeOptions struct {
	// OldNamespace and NewNamespace move revisions from one namespace to
	// another. Both or neither must be set.
	OldNamespace *string
	NewNamespace *string

	// SkipNamespace drops revisions in this namespace.
	SkipNamespace *string
}

// Deserialize reads revisions from r and stores each into b. It returns the
// number of revisions stored.
func Deserialize(ctx context.Context, r io.Reader, b Backend, opts DeserializeOptions) (int, error) {
	if (opts.OldNamespace == nil) != (opts.NewNamespace == nil) {
		return 0, fmt.Errorf("%w: old and new namespace must be given together", ErrInvalid)
	}
	br := bufio.NewReader(r)
	n := 0
	for {
		if err := ctx.Err(); err != nil {
			return n, err
		}
		var size uint32
		if err := binary.Read(br, binary.BigEndian, &size); err != nil {
			if errors.Is(err, io.EOF) {
				return n, nil
			}
			return n, fmt.Errorf("read meta length: %w", err)
		}
		if size == 0 {
			// end of one serialized store; more may follow
			continue
		}
		raw := make([]byte, size)
		if _, err := io.ReadFull(br, raw); err != nil {
			return n, fmt.Errorf("read meta: %w", err)
		}
		meta, err := UnmarshalMeta(raw)
		if err != nil {
			return n, err
		}
		if name, ok := meta[keys.Name].(string); ok {
			meta[keys.Name] = []string{name}
		}
		if !meta.Has(keys.ItemType) {
			meta[keys.ItemType] = DefaultItemType
		}
		dataSize, ok := meta.Int64(keys.Size)
		if !ok || dataSize < 0 {
			return n, fmt.Errorf("%w: revision %s has no valid size", ErrInvalid, meta.String(keys.RevID))
		}
		limited := io.LimitReader(br, dataSize)

		ns := meta.String(keys.Namespace)
		if opts.SkipNamespace != nil && *opts.SkipNamespace == ns {
			if _, err := io.Copy(io.Discard, limited); err != nil {
				return n, err
			}
			continue
		}
		if opts.OldNamespace != nil && *opts.OldNamespace == ns {
			meta[keys.Namespace] = *opts.NewNamespace
		}
		delete(meta, keys.BackendName)
		if _, _, err := b.Store(ctx, meta, limited); err != nil {
			return n, fmt.Errorf("deserialize %s: %w", meta.String(keys.RevID), err)
		}
		// stores that already had the data id may not read the payload
		if _, err := io.Copy(io.Discard, limited); err != nil {
			return n, err
		}
		n++
	}
}
