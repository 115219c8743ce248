// Package token implements the protected QR token: a 34-byte packed payload
// signed with a truncated HMAC-SHA-256 and rendered as URL-safe text.
package token

import (
	"encoding/binary"
	"encoding/hex"
	"errors"
	"fmt"
)

// Field widths of the packed payload, in bytes.
const (
	TimestampLen = 6
	DataHashLen  = 4
	SeriesLen    = 8
	IssuedLen    = 8
	ExpiryLen    = 8

	PayloadLen = TimestampLen + DataHashLen + SeriesLen + IssuedLen + ExpiryLen // 34

	offDataHash = TimestampLen
	offSeries   = offDataHash + DataHashLen
	offIssued   = offSeries + SeriesLen
	offExpiry   = offIssued + IssuedLen

	// MaxTimestampMs is the largest issued-at value that fits the 48-bit field.
	MaxTimestampMs = 1<<48 - 1
)

var (
	ErrPayloadLength     = errors.New("payload must be exactly 34 bytes")
	ErrTimestampOverflow = errors.New("timestamp does not fit in 48 bits")
)

// Payload is the decoded form of the 34-byte binary record carried by a token.
type Payload struct {
	IssuedAtMs uint64
	DataHash   [DataHashLen]byte
	Series     [SeriesLen]byte
	Issued     [IssuedLen]byte
	Expiry     [ExpiryLen]byte
}

// Meta is the caller-facing hex rendering of the payload metadata.
type Meta struct {
	DataHash       string `json:"data_hash"`
	MetadataSeries string `json:"metadata_series"`
	MetadataIssued string `json:"metadata_issued"`
	MetadataExpiry string `json:"metadata_expiry"`
	IssuedAtMs     uint64 `json:"issued_at_ms"`
}

// Pack lays the fields out big-endian in table order. A timestamp wider than
// 48 bits is a programmer error and is never truncated.
func Pack(timestampMs uint64, dataHash [DataHashLen]byte, series [SeriesLen]byte, issued [IssuedLen]byte, expiry [ExpiryLen]byte) ([PayloadLen]byte, error) {
	var out [PayloadLen]byte
	if timestampMs > MaxTimestampMs {
		return out, fmt.Errorf("pack %d: %w", timestampMs, ErrTimestampOverflow)
	}

	var ts [8]byte
	binary.BigEndian.PutUint64(ts[:], timestampMs)
	copy(out[:offDataHash], ts[8-TimestampLen:])
	copy(out[offDataHash:offSeries], dataHash[:])
	copy(out[offSeries:offIssued], series[:])
	copy(out[offIssued:offExpiry], issued[:])
	copy(out[offExpiry:], expiry[:])
	return out, nil
}

// Unpack is the inverse of Pack. Buffers of any other length are rejected
// whole; no field is populated.
func Unpack(b []byte) (Payload, error) {
	if len(b) != PayloadLen {
		return Payload{}, fmt.Errorf("unpack %d bytes: %w", len(b), ErrPayloadLength)
	}

	var ts [8]byte
	copy(ts[8-TimestampLen:], b[:offDataHash])

	var p Payload
	p.IssuedAtMs = binary.BigEndian.Uint64(ts[:])
	copy(p.DataHash[:], b[offDataHash:offSeries])
	copy(p.Series[:], b[offSeries:offIssued])
	copy(p.Issued[:], b[offIssued:offExpiry])
	copy(p.Expiry[:], b[offExpiry:])
	return p, nil
}

// Bytes re-packs the payload. It cannot fail for a payload obtained from
// Unpack.
func (p Payload) Bytes() ([PayloadLen]byte, error) {
	return Pack(p.IssuedAtMs, p.DataHash, p.Series, p.Issued, p.Expiry)
}

func (p Payload) Meta() Meta {
	return Meta{
		DataHash:       hex.EncodeToString(p.DataHash[:]),
		MetadataSeries: hex.EncodeToString(p.Series[:]),
		MetadataIssued: hex.EncodeToString(p.Issued[:]),
		MetadataExpiry: hex.EncodeToString(p.Expiry[:]),
		IssuedAtMs:     p.IssuedAtMs,
	}
}
