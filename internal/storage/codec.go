package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"

	"github.com/klauspost/compress/zstd"
	"golang.org/x/sync/errgroup"

	"reactorstate/internal/model"
)

// Schema 1 snapshots predate placement flags and the retained history; they
// are still readable.
const (
	CurrentSchemaVersion = 2
	MinSchemaVersion     = 1
	CurrentCodecVersion  = 1
)

// ColumnEncoding names the only column encoding: JSON compressed with zstd.
const ColumnEncoding = "json+zstd"

var ErrVersionMismatch = errors.New("record version mismatch")

var (
	encoderOnce sync.Once
	encoder     *zstd.Encoder
	decoder     *zstd.Decoder
	codecErr    error
)

// codecs returns the shared zstd encoder and decoder. EncodeAll and
// DecodeAll are safe for concurrent use.
func codecs() (*zstd.Encoder, *zstd.Decoder, error) {
	encoderOnce.Do(func() {
		encoder, codecErr = zstd.NewWriter(nil,
			zstd.WithEncoderLevel(zstd.SpeedBetterCompression),
			zstd.WithEncoderConcurrency(1),
		)
		if codecErr != nil {
			return
		}
		decoder, codecErr = zstd.NewReader(nil, zstd.WithDecoderConcurrency(0))
	})
	return encoder, decoder, codecErr
}

// ColumnValue is a column before encoding.
type ColumnValue struct {
	Name  string
	Value any
}

// EncodeColumns encodes values in parallel. The result keeps the input
// order and identical input always yields identical bytes.
func EncodeColumns(ctx context.Context, values []ColumnValue) ([]model.Column, error) {
	enc, _, err := codecs()
	if err != nil {
		return nil, err
	}
	out := make([]model.Column, len(values))
	g, ctx := errgroup.WithContext(ctx)
	for i, cv := range values {
		g.Go(func() error {
			if err := ctx.Err(); err != nil {
				return err
			}
			raw, err := json.Marshal(cv.Value)
			if err != nil {
				return fmt.Errorf("encode column %s: %w", cv.Name, err)
			}
			out[i] = model.Column{
				Name:     cv.Name,
				Encoding: ColumnEncoding,
				RawSize:  len(raw),
				Data:     enc.EncodeAll(raw, make([]byte, 0, len(raw)/2)),
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return out, nil
}

// DecodeColumn decompresses col into v.
func DecodeColumn(col model.Column, v any) error {
	if col.Encoding != ColumnEncoding {
		return fmt.Errorf("%w: column %s has encoding %q", ErrVersionMismatch, col.Name, col.Encoding)
	}
	_, dec, err := codecs()
	if err != nil {
		return err
	}
	raw, err := dec.DecodeAll(col.Data, make([]byte, 0, col.RawSize))
	if err != nil {
		return fmt.Errorf("decompress column %s: %w", col.Name, err)
	}
	if err := json.Unmarshal(raw, v); err != nil {
		return fmt.Errorf("decode column %s: %w", col.Name, err)
	}
	return nil
}

// DecodeColumns decodes the columns of rec named in targets in parallel.
// Columns missing from rec are skipped; the caller decides whether that is
// an error.
func DecodeColumns(ctx context.Context, rec model.SnapshotRecord, targets map[string]any) error {
	g, ctx := errgroup.WithContext(ctx)
	for _, col := range rec.Columns {
		v, ok := targets[col.Name]
		if !ok {
			continue
		}
		g.Go(func() error {
			if err := ctx.Err(); err != nil {
				return err
			}
			return DecodeColumn(col, v)
		})
	}
	return g.Wait()
}

// CheckVersion accepts every schema from MinSchemaVersion up to the
// current one.
func CheckVersion(v model.VersionedRecord) error {
	if v.SchemaVersion < MinSchemaVersion || v.SchemaVersion > CurrentSchemaVersion {
		return fmt.Errorf("%w: schema %d (supported %d..%d)", ErrVersionMismatch, v.SchemaVersion, MinSchemaVersion, CurrentSchemaVersion)
	}
	if v.CodecVersion != CurrentCodecVersion {
		return fmt.Errorf("%w: codec %d (supported %d)", ErrVersionMismatch, v.CodecVersion, CurrentCodecVersion)
	}
	return nil
}

// manifest is a record without column data, as stored alongside the
// columns by the key/value backends.
type manifest struct {
	model.VersionedRecord
	Key     model.SnapshotKey `json:"key"`
	Lineage string            `json:"lineage"`
	Columns []columnInfo      `json:"columns"`
}

type columnInfo struct {
	Name     string `json:"name"`
	Encoding string `json:"encoding"`
	RawSize  int    `json:"raw_size"`
}

func manifestOf(rec model.SnapshotRecord) manifest {
	m := manifest{VersionedRecord: rec.VersionedRecord, Key: rec.Key, Lineage: rec.Lineage}
	for _, c := range rec.Columns {
		m.Columns = append(m.Columns, columnInfo{Name: c.Name, Encoding: c.Encoding, RawSize: c.RawSize})
	}
	return m
}

func encodeManifest(m manifest) ([]byte, error) {
	return json.Marshal(m)
}

func decodeManifest(data []byte) (manifest, error) {
	var m manifest
	if err := json.Unmarshal(data, &m); err != nil {
		return manifest{}, err
	}
	if err := CheckVersion(m.VersionedRecord); err != nil {
		return manifest{}, err
	}
	return m, nil
}

func cloneRecord(rec model.SnapshotRecord) model.SnapshotRecord {
	out := rec
	out.Columns = make([]model.Column, len(rec.Columns))
	for i, c := range rec.Columns {
		c.Data = append([]byte(nil), c.Data...)
		out.Columns[i] = c
	}
	return out
}
