// Package rsm is a replicated state machine holding a single int64 value.
//
// Key Components:
//
//   - ReplicatedStateMachine: the deterministic value holder. GET returns the value, SET
//     replaces it. Every member applies the same commands in the same order and holds the
//     same value.
//
//   - Wire codec (internal): the fixed big endian layouts of Command (24 bytes) and
//     Response (20 bytes) exchanged between client and service.
//
// Sub packages:
//
//	- service: the ClusteredService run by every member of the cluster. It decodes commands,
//	  applies them and answers with the value plus its member id. Resubmitted commands are
//	  answered from a per session record instead of being applied twice.
//	  Available in the "github.com/eliquinox/simple-rsm/lib/rsm/service" package.
//
//	- client: the Client used by applications. It opens a session, polls responses and
//	  sends keep alives in the background, and matches responses by correlation id.
//	  Available in the "github.com/eliquinox/simple-rsm/lib/rsm/client" package.
package rsm
