package raffle

import "fmt"

// entryLedger tracks the entrants and escrow of the current round.
type entryLedger struct {
	round *Round
}

func (l entryLedger) add(participant string, paid Amount) error {
	if l.round.State != StateOpen {
		return ErrRoundNotOpen
	}
	if participant == "" {
		return ErrInvalidParticipant
	}
	if paid < l.round.EntranceFee {
		return fmt.Errorf("%w: paid %d, required %d", ErrInsufficientFee, paid, l.round.EntranceFee)
	}

	if l.round.EscrowBalance+paid < l.round.EscrowBalance {
		return fmt.Errorf("%w: escrow %d, paid %d", ErrEscrowOverflow, l.round.EscrowBalance, paid)
	}

	l.round.Entries = append(l.round.Entries, Entry{Participant: participant, Amount: paid})
	l.round.EscrowBalance += paid
	return nil
}

func (l entryLedger) count() int {
	return len(l.round.Entries)
}

func (l entryLedger) at(index int) (Entry, error) {
	if index < 0 || index >= len(l.round.Entries) {
		return Entry{}, fmt.Errorf("%w: index %d, count %d", ErrIndexOutOfRange, index, len(l.round.Entries))
	}
	return l.round.Entries[index], nil
}

func (l entryLedger) clear() {
	l.round.Entries = make([]Entry, 0)
	l.round.EscrowBalance = 0
}
