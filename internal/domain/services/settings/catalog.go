// Package settings holds the token, fee and limit rules the orchestrator
// reads. A missing rule is a configuration error; nothing is defaulted.
package settings

import (
	"fmt"
	"strings"

	"github.com/rail-service/wallet_ledger/internal/domain/entities"
	domainerrors "github.com/rail-service/wallet_ledger/internal/domain/errors"
)

// Catalog is an immutable, validated set of rules
type Catalog struct {
	tokens   map[string]entities.Token
	withdraw map[string]entities.WithdrawSettings
	deposit  map[string]entities.DepositSettings
	swap     map[string]entities.SwapSettings
	dueToken string
}

// NewCatalog validates and indexes the given rules
func NewCatalog(
	tokens []entities.Token,
	withdraw []entities.WithdrawSettings,
	deposit []entities.DepositSettings,
	swap []entities.SwapSettings,
	dueToken string,
) (*Catalog, error) {
	c := &Catalog{
		tokens:   make(map[string]entities.Token, len(tokens)),
		withdraw: make(map[string]entities.WithdrawSettings, len(withdraw)),
		deposit:  make(map[string]entities.DepositSettings, len(deposit)),
		swap:     make(map[string]entities.SwapSettings, len(swap)),
		dueToken: normalize(dueToken),
	}

	for _, t := range tokens {
		if err := t.Validate(); err != nil {
			return nil, err
		}
		t.Symbol = normalize(t.Symbol)
		if _, dup := c.tokens[t.Symbol]; dup {
			return nil, fmt.Errorf("duplicate token %s", t.Symbol)
		}
		c.tokens[t.Symbol] = t
	}

	for _, w := range withdraw {
		if err := c.requireToken(w.Token); err != nil {
			return nil, fmt.Errorf("withdraw settings: %w", err)
		}
		if w.Platform == "" {
			return nil, fmt.Errorf("withdraw settings for %s: platform is required", w.Token)
		}
		if err := validateRule(w.Fee); err != nil {
			return nil, fmt.Errorf("withdraw fee for %s/%s: %w", w.Token, w.Platform, err)
		}
		if err := validateRule(w.Commission); err != nil {
			return nil, fmt.Errorf("withdraw commission for %s/%s: %w", w.Token, w.Platform, err)
		}
		w.Token = normalize(w.Token)
		c.withdraw[withdrawKey(w.Token, w.Platform)] = w
	}

	for _, d := range deposit {
		if err := c.requireToken(d.Token); err != nil {
			return nil, fmt.Errorf("deposit settings: %w", err)
		}
		d.Token = normalize(d.Token)
		c.deposit[d.Token] = d
	}

	for _, s := range swap {
		if err := c.requireToken(s.From); err != nil {
			return nil, fmt.Errorf("swap settings: %w", err)
		}
		if err := c.requireToken(s.To); err != nil {
			return nil, fmt.Errorf("swap settings: %w", err)
		}
		if err := validateRule(s.Commission); err != nil {
			return nil, fmt.Errorf("swap commission for %s/%s: %w", s.From, s.To, err)
		}
		s.From, s.To = normalize(s.From), normalize(s.To)
		c.swap[pairKey(s.From, s.To)] = s
	}

	if c.dueToken != "" {
		due, ok := c.tokens[c.dueToken]
		if !ok {
			return nil, fmt.Errorf("due token %s is not configured", c.dueToken)
		}
		if !due.IsUSDDenominated() {
			return nil, fmt.Errorf("due token %s must be USD-denominated", c.dueToken)
		}
		// Due wallets share the (user, token) key space with spendable wallets.
		if c.movable(c.dueToken) {
			return nil, fmt.Errorf("due token %s must not be withdrawable, depositable or swappable", c.dueToken)
		}
	}

	return c, nil
}

// Token returns the definition of symbol
func (c *Catalog) Token(symbol string) (entities.Token, error) {
	t, ok := c.tokens[normalize(symbol)]
	if !ok {
		return entities.Token{}, domainerrors.UnknownTokenError(symbol)
	}
	return t, nil
}

// Withdraw returns the withdrawal rules of (token, platform)
func (c *Catalog) Withdraw(token, platform string) (entities.WithdrawSettings, error) {
	w, ok := c.withdraw[withdrawKey(normalize(token), platform)]
	if !ok {
		return entities.WithdrawSettings{}, domainerrors.MissingSettingError("withdraw", map[string]interface{}{
			"token":    token,
			"platform": platform,
		})
	}
	return w, nil
}

// Deposit returns the deposit rules of token
func (c *Catalog) Deposit(token string) (entities.DepositSettings, error) {
	d, ok := c.deposit[normalize(token)]
	if !ok {
		return entities.DepositSettings{}, domainerrors.MissingSettingError("deposit", map[string]interface{}{
			"token": token,
		})
	}
	return d, nil
}

// Swap returns the rules of the ordered pair (from, to)
func (c *Catalog) Swap(from, to string) (entities.SwapSettings, error) {
	s, ok := c.swap[pairKey(normalize(from), normalize(to))]
	if !ok {
		return entities.SwapSettings{}, domainerrors.MissingSettingError("swap", map[string]interface{}{
			"from": from,
			"to":   to,
		})
	}
	return s, nil
}

// DueToken returns the token of due wallets
func (c *Catalog) DueToken() (entities.Token, error) {
	if c.dueToken == "" {
		return entities.Token{}, domainerrors.MissingSettingError("due token", nil)
	}
	return c.tokens[c.dueToken], nil
}

// Tokens lists every configured token
func (c *Catalog) Tokens() []entities.Token {
	out := make([]entities.Token, 0, len(c.tokens))
	for _, t := range c.tokens {
		out = append(out, t)
	}
	return out
}

func (c *Catalog) movable(symbol string) bool {
	if _, ok := c.deposit[symbol]; ok {
		return true
	}
	for _, w := range c.withdraw {
		if w.Token == symbol {
			return true
		}
	}
	for _, s := range c.swap {
		if s.From == symbol || s.To == symbol {
			return true
		}
	}
	return false
}

func (c *Catalog) requireToken(symbol string) error {
	if _, ok := c.tokens[normalize(symbol)]; !ok {
		return fmt.Errorf("unknown token %q", symbol)
	}
	return nil
}

func validateRule(rule entities.ChargeRule) error {
	if rule.IsZero() {
		return nil
	}
	if rule.Value.IsNegative() || rule.FixedFloorUSD.IsNegative() {
		return fmt.Errorf("charge values cannot be negative")
	}
	if rule.Value.IsZero() {
		return nil
	}
	return rule.Type.Validate()
}

func normalize(symbol string) string {
	return strings.ToUpper(strings.TrimSpace(symbol))
}

func withdrawKey(token, platform string) string {
	return token + "|" + strings.ToLower(platform)
}

func pairKey(from, to string) string {
	return from + "->" + to
}
