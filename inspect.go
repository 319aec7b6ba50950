package notary

import (
	"context"
	"fmt"
)

// Inspector reads integrity records straight from a Store. It is the read path
// for anyone other than the notary and needs no authorization.
type Inspector struct {
	store     Store
	deriver   Deriver
	namespace string
}

// NewInspector creates an Inspector for records derived under namespace.
func NewInspector(store Store, deriver Deriver, namespace string) *Inspector {
	if namespace == "" {
		namespace = RecordNamespace
	}
	return &Inspector{store: store, deriver: deriver, namespace: namespace}
}

// Inspect derives the address of subject and decodes the record stored there.
func (i *Inspector) Inspect(ctx context.Context, subject Identity) (IntegrityRecord, Address, error) {
	addr, _, err := i.deriver.Derive(i.namespace, subject)
	if err != nil {
		return IntegrityRecord{}, Address{}, err
	}
	rec, err := i.InspectAddress(ctx, addr)
	if err != nil {
		return IntegrityRecord{}, addr, err
	}
	if rec.Subject != subject {
		return IntegrityRecord{}, addr, &DerivationError{
			Namespace: i.namespace,
			Err:       fmt.Errorf("%w: stored %s, expected %s", ErrSubjectMismatch, rec.Subject, subject),
		}
	}
	return rec, addr, nil
}

// InspectAddress decodes the record at addr and checks that its subject derives to addr.
func (i *Inspector) InspectAddress(ctx context.Context, addr Address) (IntegrityRecord, error) {
	data, err := i.store.Load(ctx, addr)
	if err != nil {
		return IntegrityRecord{}, wrapStorage("load", addr, err)
	}
	return i.decode(addr, data)
}

// decode checks persisted bytes loaded from addr.
func (i *Inspector) decode(addr Address, data []byte) (IntegrityRecord, error) {
	var rec IntegrityRecord
	if err := rec.UnmarshalBinary(data); err != nil {
		return IntegrityRecord{}, wrapStorage("decode", addr, err)
	}
	if err := i.deriver.VerifyAddress(i.namespace, rec.Subject, addr); err != nil {
		return IntegrityRecord{}, err
	}
	return rec, nil
}

// Entry pairs a record with its address.
type Entry struct {
	Address Address         `json:"address"`
	Record  IntegrityRecord `json:"record"`
}

// All decodes every record in the store. It stops at the first record that
// fails to decode or to re-derive.
func (i *Inspector) All(ctx context.Context) ([]Entry, error) {
	addrs, err := i.store.List(ctx)
	if err != nil {
		return nil, fmt.Errorf("list records: %w", err)
	}
	out := make([]Entry, 0, len(addrs))
	for _, addr := range addrs {
		rec, err := i.InspectAddress(ctx, addr)
		if err != nil {
			return nil, err
		}
		out = append(out, Entry{Address: addr, Record: rec})
	}
	return out, nil
}
