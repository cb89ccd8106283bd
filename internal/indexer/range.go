package indexer

import (
	"fmt"

	"honeysnare/internal/model"
)

// BlockRange is an inclusive span of blocks fetched with one eth_getLogs call.
type BlockRange struct {
	From uint64
	To   uint64
}

// SplitRange cuts [from, head] into consecutive ranges of at most batchSize
// blocks for one chain's catch-up. Invalid input is a configuration error
// against that chain.
func SplitRange(chainName string, from, head, batchSize uint64) ([]BlockRange, error) {
	if batchSize == 0 {
		return nil, model.NewError(model.KindConfiguration, chainName, model.StageFetch, fmt.Errorf("batch size must be greater than zero"))
	}
	if head < from {
		return nil, model.NewError(model.KindConfiguration, chainName, model.StageFetch, fmt.Errorf("start block %d is past head %d", from, head))
	}

	ranges := make([]BlockRange, 0, (head-from)/batchSize+1)
	for start := from; ; {
		end := head
		if head-start >= batchSize {
			end = start + batchSize - 1
		}
		ranges = append(ranges, BlockRange{From: start, To: end})
		if end == head {
			return ranges, nil
		}
		start = end + 1
	}
}
