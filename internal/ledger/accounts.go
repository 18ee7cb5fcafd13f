package ledger

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	json "github.com/goccy/go-json"
	"github.com/google/uuid"
	"github.com/rickgao/kabu-market/internal/model"
	"github.com/shopspring/decimal"
)

const codeInsufficientFunds = "insufficient_funds"

type balanceResponse struct {
	Account string          `json:"account"`
	Balance decimal.Decimal `json:"balance"`
}

type transferRequest struct {
	Amount    decimal.Decimal `json:"amount"`
	Reference string          `json:"reference"`
	Memo      string          `json:"memo,omitempty"`
}

// Balance returns the account balance.
func (c *Client) Balance(ctx context.Context, id model.PlayerID) (decimal.Decimal, error) {
	body, err := c.doWithRetry(ctx, http.MethodGet, accountPath(id, "balance"), nil, "")
	if err != nil {
		return decimal.Zero, fmt.Errorf("get balance: %w", err)
	}

	var resp balanceResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return decimal.Zero, fmt.Errorf("unmarshal balance: %w", err)
	}
	return resp.Balance, nil
}

// CanAfford reports whether the account balance covers amount.
func (c *Client) CanAfford(ctx context.Context, id model.PlayerID, amount decimal.Decimal) (bool, error) {
	bal, err := c.Balance(ctx, id)
	if err != nil {
		return false, err
	}
	return bal.GreaterThanOrEqual(amount), nil
}

// Withdraw debits amount from the account.
func (c *Client) Withdraw(ctx context.Context, id model.PlayerID, amount decimal.Decimal) error {
	return c.transfer(ctx, id, "withdraw", amount)
}

// Deposit credits amount to the account.
func (c *Client) Deposit(ctx context.Context, id model.PlayerID, amount decimal.Decimal) error {
	return c.transfer(ctx, id, "deposit", amount)
}

func (c *Client) transfer(ctx context.Context, id model.PlayerID, action string, amount decimal.Decimal) error {
	if !amount.IsPositive() {
		return fmt.Errorf("%w: %s", ErrInvalidAmount, amount)
	}

	reference := uuid.NewString()
	payload, err := json.Marshal(transferRequest{
		Amount:    amount,
		Reference: reference,
		Memo:      "kabu " + action,
	})
	if err != nil {
		return fmt.Errorf("marshal %s: %w", action, err)
	}

	_, err = c.doWithRetry(ctx, http.MethodPost, accountPath(id, action), payload, reference)
	if err != nil {
		var apiErr *APIError
		if errors.As(err, &apiErr) && (apiErr.Code == codeInsufficientFunds || apiErr.StatusCode == http.StatusPaymentRequired) {
			return ErrInsufficientFunds
		}
		return fmt.Errorf("%s: %w", action, err)
	}

	c.logger.Debug("ledger transfer complete",
		"action", action,
		"account", id,
		"amount", amount,
		"reference", reference,
	)
	return nil
}
