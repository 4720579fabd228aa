package export

import (
	"sort"

	"github.com/Mindburn-Labs/vifei/pkg/event"
	"github.com/Mindburn-Labs/vifei/pkg/eventlog"
)

// Content is the material discovered from an EventLog for export: the
// committed events plus every referenced blob, mapped to the first event
// that referenced it (deterministic by commit order).
type Content struct {
	EventLogPath string
	Events       []event.CommittedEvent
	// BlobOwners maps blob ref → event_id of the first referencing event.
	BlobOwners map[string]string
}

// BlobRefs returns the referenced blob digests in sorted order.
func (c *Content) BlobRefs() []string {
	refs := make([]string, 0, len(c.BlobOwners))
	for ref := range c.BlobOwners {
		refs = append(refs, ref)
	}
	sort.Strings(refs)
	return refs
}

// Discover reads the EventLog and collects blob references.
func Discover(eventlogPath string) (*Content, error) {
	events, err := eventlog.Read(eventlogPath)
	if err != nil {
		return nil, err
	}
	owners := make(map[string]string)
	for _, e := range events {
		if e.PayloadRef == "" {
			continue
		}
		if _, seen := owners[e.PayloadRef]; !seen {
			owners[e.PayloadRef] = e.EventID
		}
	}
	return &Content{EventLogPath: eventlogPath, Events: events, BlobOwners: owners}, nil
}
