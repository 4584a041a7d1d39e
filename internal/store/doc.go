// Package store provides persistent storage for AgentMix using SQLite.
//
// # Data Models
//
//   - Agent: provider/model/credential binding plus generation settings
//   - Conversation: named conversation with an ordered participant list and
//     a durable status (active, paused, completed)
//   - Message: append-only transcript entry authored by an agent, a human
//     or the system
//   - AuditEntry: who (actor) did what (action) to which agent or
//     conversation, newest first when listed
//
// # Ordering
//
// Messages carry a store-assigned sequence number. Append order, sequence
// order and timestamp order always agree within a conversation; timestamps
// are clamped forward when the wall clock does not advance between appends.
//
// # Credentials
//
// When a CredentialSealer is configured, agent API keys are encrypted with
// XChaCha20-Poly1305 before they are written. Plaintext rows are still read
// back unchanged.
//
// # SQLite Configuration
//
// The store uses SQLite with WAL mode for concurrent reads:
//
//	PRAGMA journal_mode=WAL;
//	PRAGMA foreign_keys=ON;
//
// # Testing
//
// Use NewMockStore() for unit tests. It can inject append and status write
// failures. Use NewSQLiteStore(filepath.Join(t.TempDir(), "test.db")) for
// integration tests with real SQLite.
package store
