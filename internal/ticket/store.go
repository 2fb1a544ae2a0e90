package ticket

import "github.com/dutybot-io/dutybot/pkg/protocol"

// Store is the persistence boundary for the open-ticket registry. The
// lifecycle layer owns the in-memory map and calls Save after every mutation;
// the store only serializes on request.
type Store interface {
	// Load reads the full registry. A missing backing file is a cold start
	// and yields an empty registry, not an error.
	Load() (map[string]*protocol.Ticket, error)
	// Save writes the full registry, replacing any previous contents.
	Save(tickets map[string]*protocol.Ticket) error
	// Raw returns the persisted bytes as-is, for the dump command.
	Raw() ([]byte, error)
}
