package notary

import (
	"encoding/binary"
	"time"
)

const signingDomain = "notary/update_integrity/v1"

// Update carries the field values of one upsert.
type Update struct {
	Subject   Identity
	GiniScore uint16
	HHIScore  uint16
	Status    uint8
	Payer     Identity // zero means the signer pays
}

// UpdateRequest is the signed form of update_integrity submitted by the notary.
type UpdateRequest struct {
	Subject   Identity  `json:"subject"`
	GiniScore uint16    `json:"gini_score"`
	HHIScore  uint16    `json:"hhi_score"`
	Status    uint8     `json:"status"`
	Payer     Identity  `json:"payer"`
	Signer    Identity  `json:"signer"`
	IssuedAt  time.Time `json:"issued_at"`
	Signature []byte    `json:"signature"`
}

// NewUpdateRequest builds an unsigned request from u.
func NewUpdateRequest(u Update, signer Identity, issuedAt time.Time) UpdateRequest {
	return UpdateRequest{
		Subject:   u.Subject,
		GiniScore: u.GiniScore,
		HHIScore:  u.HHIScore,
		Status:    u.Status,
		Payer:     u.Payer,
		Signer:    signer,
		IssuedAt:  issuedAt,
	}
}

// Update returns the field values carried by the request.
func (r UpdateRequest) Update() Update {
	return Update{
		Subject:   r.Subject,
		GiniScore: r.GiniScore,
		HHIScore:  r.HHIScore,
		Status:    r.Status,
		Payer:     r.Payer,
	}
}

// SigningBytes returns the canonical message covered by Signature.
func (r UpdateRequest) SigningBytes() []byte {
	buf := make([]byte, 0, len(signingDomain)+3*IdentitySize+2+2+1+IdentitySize+8)
	buf = append(buf, signingDomain...)
	buf = append(buf, r.Subject[:]...)
	buf = binary.LittleEndian.AppendUint16(buf, r.GiniScore)
	buf = binary.LittleEndian.AppendUint16(buf, r.HHIScore)
	buf = append(buf, r.Status)
	buf = append(buf, r.Payer[:]...)
	buf = append(buf, r.Signer[:]...)
	buf = binary.LittleEndian.AppendUint64(buf, uint64(r.IssuedAt.UnixNano()))
	return buf
}

// Sign sets Signer to the keypair's identity and signs the request.
func (r *UpdateRequest) Sign(kp Keypair) {
	r.Signer = kp.Public()
	r.Signature = kp.Sign(r.SigningBytes())
}

// Receipt describes the outcome of an accepted update.
type Receipt struct {
	RequestID string          `json:"request_id,omitempty"`
	Address   Address         `json:"address"`
	Bump      uint8           `json:"bump"`
	Created   bool            `json:"created"`
	Record    IntegrityRecord `json:"record"`
	RentPaid  uint64          `json:"rent_paid"`
}
