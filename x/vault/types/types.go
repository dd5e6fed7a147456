package types

// Module name and store key
const (
	ModuleName = "vault"
	StoreKey   = ModuleName
)

// Vault is one LP pool: coin backing against outstanding LP tokens. Share
// price is CoinBalance/LPTokenSupply once non-empty. Deprecated blocks new
// deposits only; withdrawals and settlement flows keep working.
type Vault struct {
	VaultID       string `json:"vault_id"`
	ProgramID     string `json:"program_id"`
	GlobalIndex   uint32 `json:"global_index"`
	CoinBalance   uint64 `json:"coin_balance"`
	LPTokenSupply uint64 `json:"lp_token_supply"`
	Deprecated    bool   `json:"deprecated"`
	CreatedAt     int64  `json:"created_at"`
}

// LPBalance tracks one holder's LP tokens in one vault
type LPBalance struct {
	VaultID string `json:"vault_id"`
	Owner   string `json:"owner"`
	Amount  uint64 `json:"amount"`
}
