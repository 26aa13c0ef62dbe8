package members

import (
	"fmt"
	"strconv"
	"strings"
)

// Member describes one cluster member from the static cluster descriptor.
type Member struct {
	ID                int32
	IngressEndpoint   string
	ConsensusEndpoint string
	LogEndpoint       string
	CatchupEndpoint   string
	ArchiveEndpoint   string
}

// Parse reads a cluster member descriptor of the form
//
//	id,ingress,consensus,log,catchup,archive|id,...
//
// Members are pipe-delimited; fields within a member are comma-delimited. A
// trailing pipe is allowed. Member ids must be unique.
func Parse(descriptor string) ([]Member, error) {
	descriptor = strings.TrimSpace(descriptor)
	if descriptor == "" {
		return nil, fmt.Errorf("members: empty descriptor")
	}
	parts := strings.Split(strings.TrimSuffix(descriptor, "|"), "|")
	out := make([]Member, 0, len(parts))
	seen := make(map[int32]struct{}, len(parts))
	for _, part := range parts {
		fields := strings.Split(part, ",")
		if len(fields) != 6 {
			return nil, fmt.Errorf("members: member %q has %d fields, want 6", part, len(fields))
		}
		id, err := strconv.ParseInt(strings.TrimSpace(fields[0]), 10, 32)
		if err != nil {
			return nil, fmt.Errorf("members: invalid member id %q: %w", fields[0], err)
		}
		if _, dup := seen[int32(id)]; dup {
			return nil, fmt.Errorf("members: duplicate member id %d", id)
		}
		seen[int32(id)] = struct{}{}
		m := Member{
			ID:                int32(id),
			IngressEndpoint:   strings.TrimSpace(fields[1]),
			ConsensusEndpoint: strings.TrimSpace(fields[2]),
			LogEndpoint:       strings.TrimSpace(fields[3]),
			CatchupEndpoint:   strings.TrimSpace(fields[4]),
			ArchiveEndpoint:   strings.TrimSpace(fields[5]),
		}
		for _, ep := range []string{m.IngressEndpoint, m.ConsensusEndpoint, m.LogEndpoint, m.CatchupEndpoint, m.ArchiveEndpoint} {
			if ep == "" {
				return nil, fmt.Errorf("members: member %d has an empty endpoint", id)
			}
		}
		out = append(out, m)
	}
	return out, nil
}

// Find returns the member with the given id.
func Find(ms []Member, id int32) (Member, bool) {
	for _, m := range ms {
		if m.ID == id {
			return m, true
		}
	}
	return Member{}, false
}
