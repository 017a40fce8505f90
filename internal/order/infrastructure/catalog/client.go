// Package catalog is the synchronous product-lookup client used while
// creating an order. Lookup failures surface to the caller immediately;
// there is no retry loop here because the user is waiting on the response.
package catalog

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"catalogorders/internal/order/application"
)

type Client struct {
	log     *slog.Logger
	baseURL string
	http    *http.Client
}

func NewClient(log *slog.Logger, baseURL string) *Client {
	return &Client{
		log:     log,
		baseURL: strings.TrimRight(baseURL, "/"),
		http:    &http.Client{Timeout: 5 * time.Second},
	}
}

type productResp struct {
	ID         int64  `json:"id"`
	Name       string `json:"name"`
	PriceCents int64  `json:"priceCents"`
}

func (c *Client) GetProduct(ctx context.Context, id int64) (application.Product, error) {
	url := fmt.Sprintf("%s/api/products/%d", c.baseURL, id)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return application.Product{}, err
	}
	resp, err := c.http.Do(req)
	if err != nil {
		c.log.Warn("catalog lookup failed", "product_id", id, "err", err)
		return application.Product{}, fmt.Errorf("catalog lookup: %w", err)
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusOK:
		var p productResp
		if err := json.NewDecoder(resp.Body).Decode(&p); err != nil {
			return application.Product{}, fmt.Errorf("catalog response: %w", err)
		}
		return application.Product{ID: p.ID, Name: p.Name, PriceCents: p.PriceCents}, nil
	case http.StatusNotFound:
		return application.Product{}, application.ErrProductNotFound
	default:
		return application.Product{}, fmt.Errorf("catalog returned status %d", resp.StatusCode)
	}
}
