package notary

import (
	"crypto/sha256"
	"encoding/binary"
	"fmt"
)

// Record layout, version 2 (little-endian):
//
//	[8]byte  discriminator  sha256("account:IntegrityRecord")[:8]
//	[1]byte  layout version
//	[32]byte subject identity
//	[2]byte  gini score (uint16)
//	[2]byte  hhi score (uint16)
//	[1]byte  status (uint8)
//	[8]byte  last updated (int64 unix seconds)
//	[8]byte  last request (int64 unix nanos of the newest applied IssuedAt), since v2
//	[66]byte reserved, zero
//
// Version 1 ended at last updated and reserved the remaining 74 bytes, so a
// version 1 record reads as last request 0. Later versions may only claim
// bytes from the reserved region; the total size never changes once a record
// is allocated.
const (
	DiscriminatorSize = 8
	LayoutVersion     = 2
	RecordSize        = 128

	offVersion     = DiscriminatorSize
	offSubject     = offVersion + 1
	offGini        = offSubject + IdentitySize
	offHHI         = offGini + 2
	offStatus      = offHHI + 2
	offLastUpdated = offStatus + 1
	offLastRequest = offLastUpdated + 8
	offReserved    = offLastRequest + 8

	// ReservedSize is the zeroed tail available to future layout versions.
	ReservedSize = RecordSize - offReserved
)

var recordDiscriminator = discriminator("IntegrityRecord")

func discriminator(name string) [DiscriminatorSize]byte {
	sum := sha256.Sum256([]byte("account:" + name))
	var d [DiscriminatorSize]byte
	copy(d[:], sum[:DiscriminatorSize])
	return d
}

// IntegrityRecord is the decoded form of a persisted record.
type IntegrityRecord struct {
	Subject     Identity `json:"subject"`
	GiniScore   uint16   `json:"gini_score"`
	HHIScore    uint16   `json:"hhi_score"`
	Status      uint8    `json:"status"`
	LastUpdated int64    `json:"last_updated"`
	LastRequest int64    `json:"last_request,omitempty"`
}

// MarshalBinary encodes r into a fresh RecordSize buffer with a zero reserved region.
func (r IntegrityRecord) MarshalBinary() ([]byte, error) {
	buf := make([]byte, RecordSize)
	copy(buf[:DiscriminatorSize], recordDiscriminator[:])
	buf[offVersion] = LayoutVersion
	r.encodeFields(buf)
	return buf, nil
}

// UnmarshalBinary decodes a persisted record. Any layout version from 1 upward is
// accepted; bytes beyond the known fields are ignored.
func (r *IntegrityRecord) UnmarshalBinary(data []byte) error {
	if err := checkHeader(data); err != nil {
		return err
	}
	copy(r.Subject[:], data[offSubject:offGini])
	r.GiniScore = binary.LittleEndian.Uint16(data[offGini:offHHI])
	r.HHIScore = binary.LittleEndian.Uint16(data[offHHI:offStatus])
	r.Status = data[offStatus]
	r.LastUpdated = int64(binary.LittleEndian.Uint64(data[offLastUpdated:offLastRequest]))
	r.LastRequest = 0
	if data[offVersion] >= 2 {
		r.LastRequest = int64(binary.LittleEndian.Uint64(data[offLastRequest:offReserved]))
	}
	return nil
}

// encodeFields writes the record fields into buf and leaves the header and
// reserved region untouched.
func (r IntegrityRecord) encodeFields(buf []byte) {
	copy(buf[offSubject:offGini], r.Subject[:])
	binary.LittleEndian.PutUint16(buf[offGini:offHHI], r.GiniScore)
	binary.LittleEndian.PutUint16(buf[offHHI:offStatus], r.HHIScore)
	buf[offStatus] = r.Status
	binary.LittleEndian.PutUint64(buf[offLastUpdated:offLastRequest], uint64(r.LastUpdated))
	binary.LittleEndian.PutUint64(buf[offLastRequest:offReserved], uint64(r.LastRequest))
}

// overwrite returns a copy of existing with r's fields applied in place. Older
// layouts are raised to LayoutVersion; newer ones keep their version byte.
func (r IntegrityRecord) overwrite(existing []byte) ([]byte, error) {
	if err := checkHeader(existing); err != nil {
		return nil, err
	}
	out := append([]byte(nil), existing...)
	out[offVersion] = max(out[offVersion], LayoutVersion)
	r.encodeFields(out)
	return out, nil
}

// RecordVersion returns the layout version byte of a persisted record.
func RecordVersion(data []byte) (uint8, error) {
	if err := checkHeader(data); err != nil {
		return 0, err
	}
	return data[offVersion], nil
}

func checkHeader(data []byte) error {
	if len(data) != RecordSize {
		return fmt.Errorf("%w: expected %d bytes, got %d", ErrSizeMismatch, RecordSize, len(data))
	}
	if [DiscriminatorSize]byte(data[:DiscriminatorSize]) != recordDiscriminator {
		return fmt.Errorf("%w: discriminator mismatch", ErrCorruptRecord)
	}
	if data[offVersion] == 0 {
		return fmt.Errorf("%w: layout version 0", ErrCorruptRecord)
	}
	return nil
}
