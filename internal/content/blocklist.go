package content

import "strings"

// Blocklist matches hosts that reject automated fetches. A listed domain also
// covers its subdomains.
type Blocklist struct {
	domains map[string]struct{}
}

func NewBlocklist(domains []string) Blocklist {
	b := Blocklist{domains: make(map[string]struct{}, len(domains))}
	for _, d := range domains {
		d = normalizeHost(d)
		if d != "" {
			b.domains[d] = struct{}{}
		}
	}
	return b
}

func (b Blocklist) Blocks(host string) bool {
	host = normalizeHost(host)
	for host != "" {
		if _, ok := b.domains[host]; ok {
			return true
		}
		i := strings.IndexByte(host, '.')
		if i < 0 {
			break
		}
		host = host[i+1:]
	}
	return false
}

func (b Blocklist) Len() int { return len(b.domains) }

func normalizeHost(h string) string {
	h = strings.ToLower(strings.TrimSpace(h))
	h = strings.TrimSuffix(h, ".")
	return strings.TrimPrefix(h, "www.")
}
