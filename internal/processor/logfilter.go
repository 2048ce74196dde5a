package processor

import (
	"context"

	"github.com/example/chain-collector/internal/chainmodel"
)

// logFilterProcessor is a no-op sink retained for topology parity
// (spec.md §4.7 Mode LOG_FILTER). GET_LOGS is routed to the same
// implementation; neither spec.md nor original_source define consumer-side
// GET_LOGS behavior (see DESIGN.md).
type logFilterProcessor struct{}

func (p *logFilterProcessor) Process(context.Context, chainmodel.TxData, chainmodel.ReceiptData) (bool, error) {
	return false, nil
}
