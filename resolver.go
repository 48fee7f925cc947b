package ftpget

import (
	"context"
	"fmt"
	"net"
	"net/netip"
)

// Resolver maps a hostname to an IPv4 address in dotted-quad form.
type Resolver interface {
	LookupIPv4(ctx context.Context, host string) (string, error)
}

// ResolverFunc adapts a function to the Resolver interface.
type ResolverFunc func(ctx context.Context, host string) (string, error)

// LookupIPv4 calls f(ctx, host).
func (f ResolverFunc) LookupIPv4(ctx context.Context, host string) (string, error) {
	return f(ctx, host)
}

// NetResolver resolves through the system resolver and returns the first
// IPv4 address.
type NetResolver struct {
	// Resolver is the underlying resolver; nil means net.DefaultResolver.
	Resolver *net.Resolver
}

// LookupIPv4 implements Resolver.
func (r NetResolver) LookupIPv4(ctx context.Context, host string) (string, error) {
	res := r.Resolver
	if res == nil {
		res = net.DefaultResolver
	}

	addrs, err := res.LookupNetIP(ctx, "ip4", host)
	if err != nil {
		return "", err
	}
	for _, addr := range addrs {
		if addr = addr.Unmap(); addr.Is4() {
			return addr.String(), nil
		}
	}
	return "", fmt.Errorf("no IPv4 address for %s", host)
}

// resolveHost short-circuits IPv4 literals and otherwise asks the resolver,
// validating whatever it returns.
func resolveHost(ctx context.Context, resolver Resolver, host string) (string, error) {
	if addr, err := netip.ParseAddr(host); err == nil {
		if addr.Is4() {
			return addr.String(), nil
		}
		return "", fmt.Errorf("%s is not an IPv4 address", host)
	}

	ip, err := resolver.LookupIPv4(ctx, host)
	if err != nil {
		return "", fmt.Errorf("failed to resolve %s: %w", host, err)
	}

	addr, err := netip.ParseAddr(ip)
	if err != nil || !addr.Unmap().Is4() {
		return "", fmt.Errorf("resolver returned non-IPv4 address %q for %s", ip, host)
	}
	return addr.Unmap().String(), nil
}
