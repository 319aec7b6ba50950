package notary

// Example: Protocol Buffer Transport
//
// This example shows the protobuf form of the update_integrity instruction, for
// authorities that are not written in Go.
//
// Why Protocol Buffers?
// 1. Language-agnostic: the scoring side can be written in any language
// 2. Compact binary format: identities and signatures travel as raw bytes
// 3. Schema evolution: new optional fields do not break old notaries
//
// Architecture:
//
//   ┌─────────────────┐                        ┌─────────────────┐
//   │ Authority       │                        │ Notary          │
//   │ (any language)  │                        │ (notaryd serve) │
//   ├─────────────────┤                        ├─────────────────┤
//   │ scoring         │   HTTP + Protobuf      │ chi router      │
//   │ ProtoTransport  ├───────────────────────>│ /api/v1/integrity
//   │ Ed25519 key     │<───────────────────────┤ Store           │
//   └─────────────────┘   Receipt | Error      └─────────────────┘
//
// Protocol Messages (notary.proto):
//
//   syntax = "proto3";
//   package notary.v1;
//   import "google/protobuf/timestamp.proto";
//
//   message UpdateRequest {
//     bytes  subject    = 1;  // 32 bytes
//     uint32 gini_score = 2;  // fixed point x10000, <= 65535
//     uint32 hhi_score  = 3;  // fixed point x10000, <= 65535
//     uint32 status     = 4;  // <= 255
//     bytes  payer      = 5;  // 32 bytes, omitted = signer pays
//     bytes  signer     = 6;  // 32 bytes, must be the notary authority
//     google.protobuf.Timestamp issued_at = 7;
//     bytes  signature  = 8;  // Ed25519 over SigningBytes
//   }
//
//   message Receipt {
//     bytes  address    = 1;
//     uint32 bump       = 2;
//     bool   created    = 3;
//     bytes  record     = 4;  // 128-byte account layout
//     uint64 rent_paid  = 5;
//     string request_id = 6;
//   }
//
//   message Error {
//     string kind    = 1;  // authorization | derivation | storage
//     string code    = 2;  // e.g. unauthorized_notary, insufficient_funds
//     string message = 3;
//   }
//
// The signature never covers the protobuf bytes. It covers SigningBytes: the
// domain tag "notary/update_integrity/v1" followed by subject, gini (u16 LE),
// hhi (u16 LE), status, payer, signer and issued_at (unix nanoseconds, i64 LE).
// JSON and protobuf requests therefore carry the same signature.
//
//
// Usage Example:
//
//   transport := notary.NewProtoHTTPTransport("https://notary.example.com")
//   sub := &notary.Submitter{Keypair: authority, Transport: transport}
//   rcpt, err := sub.Notarize(ctx, update)
//   if notary.ErrorKind(err) == notary.KindAuthorization {
//       // wrong key or bad signature
//   }
//
//
// Status Codes:
//
//   200  record updated           401  invalid signature
//   201  record created           403  signer is not the authority
//   400  malformed or stale       402  payer cannot cover the rent
//   409  exists / size mismatch   429  rate limited
//
//
// Security Considerations:
//
// 1. TLS: serve with NOTARY_TLS_CERT / NOTARY_TLS_KEY (TLS 1.2 minimum)
// 2. Freshness: requests outside NOTARY_MAX_REQUEST_AGE are rejected, which
//    bounds how long a captured request can be replayed
// 3. Rate limiting: NOTARY_RATE_LIMIT / NOTARY_RATE_BURST per client address
