package scheduler

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"github.com/shopspring/decimal"
)

// AccountsClient fetches account holdings from the account service:
// GET {base}/accounts/{userID}.
type AccountsClient struct {
	baseURL string
	client  *http.Client
}

func NewAccountsClient(baseURL string, timeout time.Duration) *AccountsClient {
	return &AccountsClient{
		baseURL: baseURL,
		client:  &http.Client{Timeout: timeout},
	}
}

type accountPayload struct {
	UserID    string `json:"userId"`
	Positions []struct {
		Ticker   string          `json:"ticker"`
		Quantity decimal.Decimal `json:"quantity"`
	} `json:"positions"`
	CashProceeds    decimal.Decimal `json:"cashProceeds"`
	MaxCashDeployed decimal.Decimal `json:"maxCashDeployed"`
}

func (c *AccountsClient) Account(ctx context.Context, userID string) (*Account, error) {
	endpoint := fmt.Sprintf("%s/accounts/%s", c.baseURL, url.PathEscape(userID))
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, err
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("account service returned %d for user %s", resp.StatusCode, userID)
	}

	var payload accountPayload
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return nil, fmt.Errorf("decode account for user %s: %w", userID, err)
	}

	account := &Account{
		UserID:          payload.UserID,
		CashProceeds:    payload.CashProceeds,
		MaxCashDeployed: payload.MaxCashDeployed,
	}
	for _, p := range payload.Positions {
		account.Positions = append(account.Positions, Position{Ticker: p.Ticker, Quantity: p.Quantity})
	}
	return account, nil
}
