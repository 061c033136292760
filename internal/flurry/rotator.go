package flurry

import "net/netip"

// AddressRotator selects a local source address per attempt, round-robin
// on the pool-wide attempt counter. The zero netip.Addr stands for the
// wildcard address of the socket's family.
type AddressRotator struct {
	addrs []netip.Addr
}

func NewAddressRotator(addrs []netip.Addr) *AddressRotator {
	if len(addrs) == 0 {
		return &AddressRotator{addrs: []netip.Addr{{}}}
	}
	return &AddressRotator{addrs: append([]netip.Addr(nil), addrs...)}
}

func (r *AddressRotator) Len() int {
	return len(r.addrs)
}

func (r *AddressRotator) Select(attempted uint64) netip.Addr {
	return r.addrs[attempted%uint64(len(r.addrs))]
}

func (r *AddressRotator) Addrs() []netip.Addr {
	return append([]netip.Addr(nil), r.addrs...)
}
