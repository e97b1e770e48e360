package ledger

// SeedBalance is a test helper that writes a balance record directly when
// using the in-memory store, bypassing every ledger precondition.
func SeedBalance(s Store, asset AssetID, account AccountID, amount Amount) {
	if mem, ok := s.(*inMemoryStore); ok {
		mem.mu.Lock()
		defer mem.mu.Unlock()
		mem.state.balances[balanceKey{asset, account}] = amount
	}
}

// SeedMintApproval writes a mint-approval record on the in-memory store. No
// ledger operation writes that mapping, so tests of the read path need it.
func SeedMintApproval(s Store, asset AssetID, account AccountID, approved bool) {
	if mem, ok := s.(*inMemoryStore); ok {
		mem.mu.Lock()
		defer mem.mu.Unlock()
		mem.state.mintApprovals[balanceKey{asset, account}] = approved
	}
}
