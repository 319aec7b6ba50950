package notary

import (
	"errors"
	"fmt"

	"google.golang.org/protobuf/encoding/protowire"
	"google.golang.org/protobuf/proto"
	"google.golang.org/protobuf/types/known/timestamppb"
)

// Wire messages, field numbers as in notary.proto:
//
//	message UpdateRequest {
//	  bytes subject = 1; uint32 gini_score = 2; uint32 hhi_score = 3; uint32 status = 4;
//	  bytes payer = 5; bytes signer = 6; google.protobuf.Timestamp issued_at = 7; bytes signature = 8;
//	}
//	message Receipt {
//	  bytes address = 1; uint32 bump = 2; bool created = 3; bytes record = 4;
//	  uint64 rent_paid = 5; string request_id = 6;
//	}
//	message Error { string kind = 1; string code = 2; string message = 3; }
const (
	ProtoContentType = "application/x-protobuf"
)

var errTruncated = errors.New("truncated protobuf message")

// MarshalProtoUpdateRequest encodes r in the UpdateRequest wire format.
func MarshalProtoUpdateRequest(r UpdateRequest) ([]byte, error) {
	ts, err := proto.Marshal(timestamppb.New(r.IssuedAt))
	if err != nil {
		return nil, fmt.Errorf("marshal issued_at: %w", err)
	}
	var b []byte
	b = appendBytes(b, 1, r.Subject[:])
	b = appendVarint(b, 2, uint64(r.GiniScore))
	b = appendVarint(b, 3, uint64(r.HHIScore))
	b = appendVarint(b, 4, uint64(r.Status))
	if !r.Payer.IsZero() {
		b = appendBytes(b, 5, r.Payer[:])
	}
	b = appendBytes(b, 6, r.Signer[:])
	b = appendBytes(b, 7, ts)
	b = appendBytes(b, 8, r.Signature)
	return b, nil
}

// UnmarshalProtoUpdateRequest decodes an UpdateRequest wire message.
func UnmarshalProtoUpdateRequest(data []byte) (UpdateRequest, error) {
	var r UpdateRequest
	err := walkFields(data, func(num protowire.Number, v uint64, raw []byte) error {
		var err error
		switch num {
		case 1:
			r.Subject, err = IdentityFromBytes(raw)
		case 2:
			r.GiniScore, err = narrow16(v, "gini_score")
		case 3:
			r.HHIScore, err = narrow16(v, "hhi_score")
		case 4:
			if v > 0xff {
				return fmt.Errorf("status %d out of range", v)
			}
			r.Status = uint8(v)
		case 5:
			r.Payer, err = IdentityFromBytes(raw)
		case 6:
			r.Signer, err = IdentityFromBytes(raw)
		case 7:
			var ts timestamppb.Timestamp
			if err = proto.Unmarshal(raw, &ts); err == nil {
				err = ts.CheckValid()
			}
			r.IssuedAt = ts.AsTime()
		case 8:
			r.Signature = append([]byte(nil), raw...)
		}
		return err
	})
	if err != nil {
		return UpdateRequest{}, fmt.Errorf("decode update request: %w", err)
	}
	return r, nil
}

// MarshalProtoReceipt encodes rc in the Receipt wire format. The record travels
// in its 128-byte account layout.
func MarshalProtoReceipt(rc Receipt) ([]byte, error) {
	rec, err := rc.Record.MarshalBinary()
	if err != nil {
		return nil, err
	}
	var b []byte
	b = appendBytes(b, 1, rc.Address[:])
	b = appendVarint(b, 2, uint64(rc.Bump))
	if rc.Created {
		b = appendVarint(b, 3, 1)
	}
	b = appendBytes(b, 4, rec)
	if rc.RentPaid != 0 {
		b = appendVarint(b, 5, rc.RentPaid)
	}
	if rc.RequestID != "" {
		b = appendBytes(b, 6, []byte(rc.RequestID))
	}
	return b, nil
}

// UnmarshalProtoReceipt decodes a Receipt wire message.
func UnmarshalProtoReceipt(data []byte) (Receipt, error) {
	var rc Receipt
	err := walkFields(data, func(num protowire.Number, v uint64, raw []byte) error {
		switch num {
		case 1:
			id, err := IdentityFromBytes(raw)
			if err != nil {
				return err
			}
			rc.Address = Address(id)
		case 2:
			if v > 0xff {
				return fmt.Errorf("bump %d out of range", v)
			}
			rc.Bump = uint8(v)
		case 3:
			rc.Created = v != 0
		case 4:
			return rc.Record.UnmarshalBinary(raw)
		case 5:
			rc.RentPaid = v
		case 6:
			rc.RequestID = string(raw)
		}
		return nil
	})
	if err != nil {
		return Receipt{}, fmt.Errorf("decode receipt: %w", err)
	}
	return rc, nil
}

// MarshalProtoError encodes a WireError.
func MarshalProtoError(e WireError) []byte {
	var b []byte
	b = appendBytes(b, 1, []byte(e.Kind))
	b = appendBytes(b, 2, []byte(e.Code))
	b = appendBytes(b, 3, []byte(e.Message))
	return b
}

// UnmarshalProtoError decodes a WireError.
func UnmarshalProtoError(data []byte) (WireError, error) {
	var e WireError
	err := walkFields(data, func(num protowire.Number, _ uint64, raw []byte) error {
		switch num {
		case 1:
			e.Kind = string(raw)
		case 2:
			e.Code = string(raw)
		case 3:
			e.Message = string(raw)
		}
		return nil
	})
	if err != nil {
		return WireError{}, fmt.Errorf("decode error: %w", err)
	}
	return e, nil
}

func appendVarint(b []byte, num protowire.Number, v uint64) []byte {
	b = protowire.AppendTag(b, num, protowire.VarintType)
	return protowire.AppendVarint(b, v)
}

func appendBytes(b []byte, num protowire.Number, v []byte) []byte {
	b = protowire.AppendTag(b, num, protowire.BytesType)
	return protowire.AppendBytes(b, v)
}

// walkFields calls fn for each varint or length-delimited field. Unknown field
// numbers are passed through for fn to ignore; other wire types are skipped.
func walkFields(data []byte, fn func(num protowire.Number, v uint64, raw []byte) error) error {
	for len(data) > 0 {
		num, typ, n := protowire.ConsumeTag(data)
		if n < 0 {
			return errTruncated
		}
		data = data[n:]
		switch typ {
		case protowire.VarintType:
			v, m := protowire.ConsumeVarint(data)
			if m < 0 {
				return errTruncated
			}
			data = data[m:]
			if err := fn(num, v, nil); err != nil {
				return err
			}
		case protowire.BytesType:
			raw, m := protowire.ConsumeBytes(data)
			if m < 0 {
				return errTruncated
			}
			data = data[m:]
			if err := fn(num, 0, raw); err != nil {
				return err
			}
		default:
			m := protowire.ConsumeFieldValue(num, typ, data)
			if m < 0 {
				return errTruncated
			}
			data = data[m:]
		}
	}
	return nil
}

func narrow16(v uint64, field string) (uint16, error) {
	if v > 0xffff {
		return 0, fmt.Errorf("%s %d out of range", field, v)
	}
	return uint16(v), nil
}
