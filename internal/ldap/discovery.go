package ldap

import (
	"cmp"
	"context"
	"fmt"
	"net"
	"slices"
	"strings"
	"time"

	"github.com/hashicorp/terraform-plugin-log/tflog"
)

// SRVResolver is the subset of net.Resolver used for discovery.
type SRVResolver interface {
	LookupSRV(ctx context.Context, service, proto, name string) (string, []*net.SRV, error)
}

// SRVDiscovery locates directory servers for a DNS domain.
type SRVDiscovery struct {
	ctx      context.Context // Logging context with LDAP subsystem
	resolver SRVResolver
}

// NewSRVDiscovery creates a discovery using the default resolver.
func NewSRVDiscovery(ctx context.Context) *SRVDiscovery {
	return &SRVDiscovery{
		ctx:      ctx,
		resolver: net.DefaultResolver,
	}
}

// DiscoverURLs returns LDAP URLs for domain in preference order:
// _ldaps._tcp records, then _ldap._tcp records, then ldaps:// and ldap://
// on the domain name itself when no records exist.
func (d *SRVDiscovery) DiscoverURLs(ctx context.Context, domain string) ([]string, error) {
	if domain == "" {
		return nil, fmt.Errorf("domain cannot be empty")
	}

	start := time.Now()
	tflog.SubsystemDebug(d.ctx, SubsystemLDAP, "Starting server discovery", map[string]any{
		"domain": domain,
	})

	for _, service := range []struct {
		name   string
		useTLS bool
	}{
		{"ldaps", true},
		{"ldap", false},
	} {
		servers, err := d.lookupSRV(ctx, service.name, domain, service.useTLS)
		if err != nil {
			if ctx.Err() != nil {
				return nil, err
			}
			tflog.SubsystemDebug(d.ctx, SubsystemLDAP, "SRV lookup failed, continuing", map[string]any{
				"service": service.name,
				"error":   err.Error(),
			})
			continue
		}

		urls := make([]string, 0, len(servers))
		for _, server := range servers {
			urls = append(urls, ServerInfoToURL(server))
		}
		tflog.SubsystemDebug(d.ctx, SubsystemLDAP, "Server discovery completed", map[string]any{
			"duration":     time.Since(start).String(),
			"server_count": len(urls),
		})
		return urls, nil
	}

	tflog.SubsystemDebug(d.ctx, SubsystemLDAP, "No SRV records found, using fallback servers", map[string]any{
		"domain": domain,
	})
	return []string{
		ServerInfoToURL(&ServerInfo{Host: domain, Port: 636, UseTLS: true}),
		ServerInfoToURL(&ServerInfo{Host: domain, Port: 389}),
	}, nil
}

// lookupSRV returns the targets of one service ordered by RFC 2782 priority,
// heavier weights first within a priority.
func (d *SRVDiscovery) lookupSRV(ctx context.Context, service, domain string, useTLS bool) ([]*ServerInfo, error) {
	_, records, err := d.resolver.LookupSRV(ctx, service, "tcp", domain)
	if err != nil {
		return nil, fmt.Errorf("SRV lookup failed for _%s._tcp.%s: %w", service, domain, err)
	}
	if len(records) == 0 {
		return nil, fmt.Errorf("no SRV records found for _%s._tcp.%s", service, domain)
	}

	slices.SortStableFunc(records, func(a, b *net.SRV) int {
		if c := cmp.Compare(a.Priority, b.Priority); c != 0 {
			return c
		}
		return cmp.Compare(b.Weight, a.Weight)
	})

	servers := make([]*ServerInfo, 0, len(records))
	for _, srv := range records {
		servers = append(servers, &ServerInfo{
			Host:   strings.TrimSuffix(srv.Target, "."),
			Port:   int(srv.Port),
			UseTLS: useTLS,
		})
	}
	return servers, nil
}
