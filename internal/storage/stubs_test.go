package storage_test

import (
	"context"
	"math/big"

	"raffled/internal/raffle"
)

var bigOne = big.NewInt(1)

type oracleStub struct{}

func (oracleStub) RequestRandomWords(context.Context, raffle.RandomnessRequest, raffle.Consumer) (uint64, error) {
	return 77, nil
}

type payerStub struct{}

func (payerStub) Transfer(context.Context, string, raffle.Amount) error {
	return nil
}
