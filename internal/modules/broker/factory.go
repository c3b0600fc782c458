package broker

import (
	"fmt"
	"strings"

	"github.com/aristath/orderledger/internal/domain"
)

// VendorConfig is one entry of the roster a Factory dispatches against: a
// vendor name as it appears in domain.User.Broker, paired with the base URL
// its adapter talks to.
type VendorConfig struct {
	Name    string
	BaseURL string
}

// Factory builds the right domain.BrokerAdapter for a user's configured
// vendor, mirroring a lookup table keyed on the lower-cased broker name.
type Factory struct {
	client   *Client
	adapters map[string]domain.BrokerAdapter
}

// NewFactory constructs adapters for every vendor in roster, sharing a
// single rate-limited Client across all of them.
func NewFactory(client *Client, roster []VendorConfig) *Factory {
	f := &Factory{client: client, adapters: make(map[string]domain.BrokerAdapter, len(roster))}
	for _, v := range roster {
		f.adapters[strings.ToLower(v.Name)] = newAdapterFor(v.Name, client, v.BaseURL)
	}
	return f
}

func newAdapterFor(name string, client *Client, baseURL string) domain.BrokerAdapter {
	switch strings.ToLower(name) {
	case "groww":
		return NewGrowwAdapter(client, baseURL)
	case "upstox":
		return NewUpstoxAdapter(client, baseURL)
	default:
		return NewZerodhaAdapter(client, baseURL)
	}
}

// For returns the adapter registered for user.Broker, or an error if the
// vendor isn't in the roster this ledger was configured with.
func (f *Factory) For(user *domain.User) (domain.BrokerAdapter, error) {
	adapter, ok := f.adapters[strings.ToLower(user.Broker)]
	if !ok {
		return nil, domain.PermanentError(fmt.Errorf("no broker adapter registered for vendor %q", user.Broker))
	}
	return adapter, nil
}
