package ledger

import (
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
)

// DecodeEvent decodes a receipt log against the contract ABI. It reports
// false for logs emitted by other contracts or with an unknown shape.
func (g *Gateway) DecodeEvent(log types.Log) (Event, bool) {
	return decodeEvent(g.abi, g.address, log)
}

func decodeEvent(contractABI abi.ABI, address common.Address, log types.Log) (Event, bool) {
	if len(log.Topics) == 0 {
		return Event{}, false
	}
	if address != (common.Address{}) && log.Address != address {
		return Event{}, false
	}

	ev, err := contractABI.EventByID(log.Topics[0])
	if err != nil {
		return Event{}, false
	}

	args := make(map[string]interface{}, len(ev.Inputs))
	if err := ev.Inputs.UnpackIntoMap(args, log.Data); err != nil {
		return Event{}, false
	}

	var indexed abi.Arguments
	for _, input := range ev.Inputs {
		if input.Indexed {
			indexed = append(indexed, input)
		}
	}
	if err := abi.ParseTopicsIntoMap(args, indexed, log.Topics[1:]); err != nil {
		return Event{}, false
	}

	return Event{
		Name:   ev.Name,
		Args:   args,
		TxHash: log.TxHash,
		Index:  log.Index,
	}, true
}

// FindEvent returns the first event with the given name.
func FindEvent(events []Event, name string) (Event, bool) {
	for _, ev := range events {
		if ev.Name == name {
			return ev, true
		}
	}
	return Event{}, false
}
