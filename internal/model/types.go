package model

import (
	"cmp"
	"fmt"
)

// VersionedRecord captures schema and codec evolution for persistent data.
type VersionedRecord struct {
	SchemaVersion int `json:"schema_version"`
	CodecVersion  int `json:"codec_version"`
}

// SnapshotKey indexes the snapshots of one run. Keys order by cycle, then
// by time node.
type SnapshotKey struct {
	Cycle    int `json:"cycle"`
	TimeNode int `json:"time_node"`
}

func (k SnapshotKey) Compare(o SnapshotKey) int {
	if c := cmp.Compare(k.Cycle, o.Cycle); c != 0 {
		return c
	}
	return cmp.Compare(k.TimeNode, o.TimeNode)
}

func (k SnapshotKey) Less(o SnapshotKey) bool { return k.Compare(o) < 0 }

func (k SnapshotKey) String() string {
	return fmt.Sprintf("c%02dn%02d", k.Cycle, k.TimeNode)
}

// Column is one named, encoded column of a snapshot. RawSize is the length
// of the column before compression.
type Column struct {
	Name     string `json:"name"`
	Encoding string `json:"encoding"`
	RawSize  int    `json:"raw_size"`
	Data     []byte `json:"data"`
}

// SnapshotRecord is the stored form of one tree snapshot. Lineage is the id
// of the run that wrote it.
type SnapshotRecord struct {
	VersionedRecord
	Key     SnapshotKey `json:"key"`
	Lineage string      `json:"lineage"`
	Columns []Column    `json:"columns"`
}

// Column returns the named column.
func (r SnapshotRecord) Column(name string) (Column, bool) {
	for _, c := range r.Columns {
		if c.Name == name {
			return c, true
		}
	}
	return Column{}, false
}

// EncodedSize is the total stored size of the record's columns.
func (r SnapshotRecord) EncodedSize() int {
	n := 0
	for _, c := range r.Columns {
		n += len(c.Data)
	}
	return n
}

// RawSize is the total size of the record's columns before compression.
func (r SnapshotRecord) RawSize() int {
	n := 0
	for _, c := range r.Columns {
		n += c.RawSize
	}
	return n
}
