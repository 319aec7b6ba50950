package notary

// Example: Folder-based Offline Submission
//
// FolderTransport lets the authority sign updates on a machine that cannot reach
// the notary. Signed requests are spooled to a folder; the notary host applies
// them later with Drain.
//
// Folder Structure:
//   /shared/notary-spool/
//     pending/
//       0190c3a2-....gob   - signed UpdateRequest, not yet applied
//     done/
//       0190c3a2-....gob   - Receipt of an applied request
//     failed/
//       0190c3a4-....gob   - UpdateRequest the notary rejected
//       0190c3a4-....json  - WireError with the reason
//
// Request IDs are UUIDv7, so the notary applies requests in the order they were
// signed. Requests carry their own signature, so the spool does not need to be
// trusted; a tampered request fails verification and lands in failed/.
//
// Usage Example:
//
//   // ===== On the signing side =====
//
//   spool, _ := notary.NewFolderTransport("/shared/notary-spool")
//   sub := &notary.Submitter{Keypair: authority, Transport: spool}
//   rcpt, _ := sub.Notarize(ctx, notary.Update{Subject: subject, Status: uint8(notary.StatusVerified)})
//   fmt.Println("spooled", rcpt.RequestID)
//
//
//   // ===== On the notary host =====
//
//   spool, _ := notary.NewFolderTransport("/shared/notary-spool")
//   res, err := spool.Drain(ctx, n)
//   fmt.Printf("applied %d, failed %d\n", res.Applied, res.Failed)
//
//   rcpt, err := spool.LoadReceipt(id)
//
//
// Migration to Network Deployment:
//
//   // Before (folder-based):
//   transport, _ := notary.NewFolderTransport("/shared/notary-spool")
//
//   // After (network-based):
//   transport := notary.NewHTTPTransport("https://notary.example.com")
//
// The Submitter code remains unchanged.
//
// Limitations:
//   - Receipts are only available after a drain
//   - Request age checks apply only to the HTTP server, not to Drain
