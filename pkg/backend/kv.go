package backend

import (
	"bytes"
	"context"
	"crypto/sha1"
	"encoding/hex"
	"errors"
	"fmt"
	"hash"
	"io"
	"iter"

	"github.com/klauspost/compress/zstd"

	"github.com/jlrickert/wikidex/pkg/keys"
)

// Space selects one of the two key spaces of a KVStore.
type Space string

const (
	// SpaceMeta maps revid to JSON metadata.
	SpaceMeta Space = "meta"
	// SpaceData maps dataid to the payload.
	SpaceData Space = "data"
)

// KVStore is a byte key/value store with a meta and a data key space. Get,
// Delete return errors satisfying errors.Is(err, ErrNotExist) for absent keys.
type KVStore interface {
	Driver() string
	Create(ctx context.Context) error
	Destroy(ctx context.Context) error
	Open(ctx context.Context) error
	Close() error
	Get(ctx context.Context, space Space, key string) ([]byte, error)
	Put(ctx context.Context, space Space, key string, value []byte) error
	Delete(ctx context.Context, space Space, key string) error
	Has(ctx context.Context, space Space, key string) (bool, error)
	Keys(ctx context.Context, space Space) iter.Seq2[string, error]
	Optimize(ctx context.Context) error
}

// payload encodings, stored as the first byte of every data value.
const (
	encodingRaw  byte = 0
	encodingZstd byte = 1
)

// KV ties a KVStore to the revision model: metadata is stored as JSON under
// the revision id, the payload under a separate data id so several revisions
// can share one payload.
type KV struct {
	store    KVStore
	compress bool

	enc *zstd.Encoder
	dec *zstd.Decoder
}

// KVOption configures a KV.
type KVOption func(*KV)

// WithCompression stores new payloads zstd compressed. Existing payloads are
// read back regardless of the setting.
func WithCompression(on bool) KVOption {
	return func(kv *KV) { kv.compress = on }
}

// NewKV wraps store.
func NewKV(store KVStore, opts ...KVOption) (*KV, error) {
	kv := &KV{store: store}
	for _, opt := range opts {
		opt(kv)
	}
	dec, err := zstd.NewReader(nil)
	if err != nil {
		return nil, fmt.Errorf("zstd reader: %w", err)
	}
	kv.dec = dec
	if kv.compress {
		enc, err := zstd.NewWriter(nil)
		if err != nil {
			return nil, fmt.Errorf("zstd writer: %w", err)
		}
		kv.enc = enc
	}
	return kv, nil
}

// Driver names the underlying store implementation.
func (kv *KV) Driver() string { return kv.store.Driver() }

func (kv *KV) Create(ctx context.Context) error  { return kv.store.Create(ctx) }
func (kv *KV) Destroy(ctx context.Context) error { return kv.store.Destroy(ctx) }
func (kv *KV) Open(ctx context.Context) error    { return kv.store.Open(ctx) }
func (kv *KV) Optimize(ctx context.Context) error {
	return kv.store.Optimize(ctx)
}

// Close closes the store. The codecs are kept so the KV can be reopened.
func (kv *KV) Close() error {
	return kv.store.Close()
}

// RevIDs enumerates the revision ids in the meta space.
func (kv *KV) RevIDs(ctx context.Context) iter.Seq2[string, error] {
	return kv.store.Keys(ctx, SpaceMeta)
}

// Has reports whether revID has stored metadata.
func (kv *KV) Has(ctx context.Context, revID string) (bool, error) {
	return kv.store.Has(ctx, SpaceMeta, revID)
}

// GetMeta loads the metadata of revID.
func (kv *KV) GetMeta(ctx context.Context, revID string) (Meta, error) {
	raw, err := kv.store.Get(ctx, SpaceMeta, revID)
	if err != nil {
		if errors.Is(err, ErrNotExist) {
			return nil, &NotFoundError{Backend: kv.Driver(), RevID: revID}
		}
		return nil, err
	}
	return UnmarshalMeta(raw)
}

// Retrieve loads metadata and payload of revID.
func (kv *KV) Retrieve(ctx context.Context, revID string) (Meta, io.ReadCloser, error) {
	meta, err := kv.GetMeta(ctx, revID)
	if err != nil {
		return nil, nil, err
	}
	dataID := meta.String(keys.DataID)
	raw, err := kv.store.Get(ctx, SpaceData, dataID)
	if err != nil {
		if errors.Is(err, ErrNotExist) {
			return nil, nil, &NotFoundError{Backend: kv.Driver(), RevID: revID, DataID: dataID}
		}
		return nil, nil, err
	}
	data, err := kv.decode(raw)
	if err != nil {
		return nil, nil, NewBackendError(kv.Driver(), "decode data", err, false)
	}
	return meta, io.NopCloser(bytes.NewReader(data)), nil
}

// Store writes data and meta and returns the revision id. When meta has no
// dataid a new one is allocated, and size and sha1 are computed from data and
// checked against any values declared in meta. When meta already carries a
// dataid the payload is trusted and only written if the data id is unknown.
func (kv *KV) Store(ctx context.Context, meta Meta, data io.Reader) (string, error) {
	if data == nil {
		data = bytes.NewReader(nil)
	}
	if !meta.Has(keys.DataID) {
		h := sha1.New()
		buf, err := readTracked(data, h)
		if err != nil {
			return "", fmt.Errorf("read data: %w", err)
		}
		size := int64(len(buf))
		if expected, ok := meta[keys.Size]; ok && expected != nil {
			if n, ok := ToInt64(expected); !ok || n != size {
				return "", &IntegrityError{Field: "size", Expected: expected, Actual: size}
			}
		}
		sum := hex.EncodeToString(h.Sum(nil))
		if expected := meta.String(keys.HashAlgorithm); expected != "" && expected != sum {
			return "", &IntegrityError{Field: "hash", Expected: expected, Actual: sum}
		}
		dataID := NewID()
		if err := kv.store.Put(ctx, SpaceData, dataID, kv.encode(buf)); err != nil {
			return "", NewBackendError(kv.Driver(), "store data", err, false)
		}
		meta[keys.DataID] = dataID
		meta[keys.Size] = size
		meta[keys.HashAlgorithm] = sum
	} else {
		dataID := meta.String(keys.DataID)
		exists, err := kv.store.Has(ctx, SpaceData, dataID)
		if err != nil {
			return "", err
		}
		if exists {
			// drain so stream based callers (deserialization) stay aligned
			if _, err := io.Copy(io.Discard, data); err != nil {
				return "", fmt.Errorf("drain data: %w", err)
			}
		} else {
			buf, err := io.ReadAll(data)
			if err != nil {
				return "", fmt.Errorf("read data: %w", err)
			}
			if err := kv.store.Put(ctx, SpaceData, dataID, kv.encode(buf)); err != nil {
				return "", NewBackendError(kv.Driver(), "store data", err, false)
			}
		}
	}

	if meta.String(keys.RevID) == "" {
		meta[keys.RevID] = NewID()
	}
	revID := meta.String(keys.RevID)
	raw, err := MarshalMeta(meta)
	if err != nil {
		return "", err
	}
	if err := kv.store.Put(ctx, SpaceMeta, revID, raw); err != nil {
		return "", NewBackendError(kv.Driver(), "store meta", err, false)
	}
	return revID, nil
}

// Remove deletes the metadata of revID and, if destroyData is set, its
// payload.
func (kv *KV) Remove(ctx context.Context, revID string, destroyData bool) error {
	meta, err := kv.GetMeta(ctx, revID)
	if err != nil {
		return err
	}
	if err := kv.store.Delete(ctx, SpaceMeta, revID); err != nil {
		return NewBackendError(kv.Driver(), "remove meta", err, false)
	}
	if destroyData {
		if err := kv.store.Delete(ctx, SpaceData, meta.String(keys.DataID)); err != nil && !errors.Is(err, ErrNotExist) {
			return NewBackendError(kv.Driver(), "remove data", err, false)
		}
	}
	return nil
}

func readTracked(r io.Reader, h hash.Hash) ([]byte, error) {
	var buf bytes.Buffer
	if _, err := io.Copy(io.MultiWriter(&buf, h), r); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func (kv *KV) encode(data []byte) []byte {
	if kv.enc == nil {
		return append([]byte{encodingRaw}, data...)
	}
	return kv.enc.EncodeAll(data, []byte{encodingZstd})
}

func (kv *KV) decode(raw []byte) ([]byte, error) {
	if len(raw) == 0 {
		return nil, nil
	}
	switch raw[0] {
	case encodingRaw:
		return raw[1:], nil
	case encodingZstd:
		return kv.dec.DecodeAll(raw[1:], nil)
	}
	return nil, fmt.Errorf("unknown payload encoding %d", raw[0])
}
