// Package notary implements an integrity notary: a single authorized identity
// records integrity assessments of subjects at deterministic, derived addresses.
package notary

// Example: Integrity Notary
//
// One configured authority writes fixed-size integrity records. Each record
// lives at an address derived from a namespace label, the subject identity and
// the program identity, so anyone can locate a subject's record without a lookup
// table and nobody can squat another subject's address.
//
// Properties:
// 1. Single writer: only the configured authority can create or update records
// 2. Deterministic location: Derive(namespace, subject) is a pure function
// 3. Off-curve addresses: no derived address is a valid Ed25519 public key
// 4. Fixed layout: records are always RecordSize bytes; later layout versions
//    only claim reserved bytes
// 5. Upsert: the first write allocates and charges rent, later writes overwrite
//
// Usage:
//   // 1. The notary side opens a store and a treasury
//   store, _ := OpenSQLiteStore("file:notary.db")
//   treasury := NewMemoryTreasury()
//   treasury.Fund(authority.Public(), 1_000_000_000)
//
//   n, _ := New(Config{Authority: authority.Public()}, store, treasury)
//
//   // 2. The authority scores a subject and signs the result
//   a := Assess(transfers)
//   req := NewUpdateRequest(a.Update(subject), authority.Public(), time.Now())
//   req.Sign(authority)
//
//   // 3. The notary applies it: allocate on first write, overwrite afterwards
//   rcpt, err := n.UpdateIntegrity(ctx, req)
//   // rcpt.Created, rcpt.Address, rcpt.RentPaid
//
//   // 4. Anyone reads the record back by subject
//   insp := NewInspector(store, n.Deriver(), n.Namespace())
//   rec, addr, _ := insp.Inspect(ctx, subject)
//
// Rejections:
//
// Scenario 1: A signer other than the authority submits an update
//   - Authorize fails before any store access
//   - Result: *AuthorizationError wrapping ErrUnauthorizedNotary
//
// Scenario 2: The payer cannot cover the rent-exempt minimum on first write
//   - Nothing is allocated and nothing is charged
//   - Result: *StorageError wrapping ErrInsufficientFunds
//
// Scenario 3: The record at the derived address names another subject
//   - The record is left untouched
//   - Result: *DerivationError wrapping ErrSubjectMismatch
//
// Errors survive transports: WireError carries kind and code, and
// WireError.Err rebuilds a typed error for errors.Is / errors.As.
