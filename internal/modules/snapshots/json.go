package snapshots

import (
	"encoding/json"

	"github.com/aristath/orderledger/internal/domain"
)

func marshalHoldings(holdings []domain.SnapshotHolding) (string, error) {
	if holdings == nil {
		holdings = []domain.SnapshotHolding{}
	}
	b, err := json.Marshal(holdings)
	if err != nil {
		return "", err
	}
	return string(b), nil
}
