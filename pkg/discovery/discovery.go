package discovery

import (
	"github.com/amirimatin/go-consensus/pkg/members"
)

// Discovery abstracts how gossip seed addresses are provided: the cluster
// member descriptor, a static list, a seeds file or DNS.
type Discovery interface {
	Seeds() []string
}

// FromMembers derives seeds from a parsed cluster member descriptor, using
// each member's consensus endpoint and excluding the local member.
func FromMembers(ms []members.Member, selfID int32) Discovery {
	var seeds []string
	for _, m := range ms {
		if m.ID == selfID {
			continue
		}
		seeds = append(seeds, m.ConsensusEndpoint)
	}
	return seedList(seeds)
}

type seedList []string

func (s seedList) Seeds() []string { return append([]string(nil), s...) }
