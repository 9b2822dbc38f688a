package backend

import (
	"context"
	"fmt"
	"net/url"
	"strings"

	"github.com/drfirst/go-rxdraft/internal/domain/draft"
)

// LabTest is a test offered by the lab inventory.
type LabTest struct {
	InventoryID string  `json:"inventory_id"`
	Name        string  `json:"name"`
	Price       float64 `json:"price"`
}

// SearchMedicines looks up inventory medicines by name prefix.
func (c *Client) SearchMedicines(ctx context.Context, q string) ([]draft.CatalogItem, error) {
	q = strings.TrimSpace(q)
	if q == "" {
		return []draft.CatalogItem{}, nil
	}
	var resp envelope[[]draft.CatalogItem]
	if err := c.do(ctx, "GET", "/inventory/medicines", url.Values{"q": {q}}, nil, &resp); err != nil {
		return nil, fmt.Errorf("search medicines: %w", err)
	}
	return resp.Data, nil
}

// Medicine returns one inventory medicine.
func (c *Client) Medicine(ctx context.Context, inventoryID string) (draft.CatalogItem, error) {
	var resp envelope[draft.CatalogItem]
	if err := c.do(ctx, "GET", "/inventory/medicines/"+url.PathEscape(inventoryID), nil, nil, &resp); err != nil {
		return draft.CatalogItem{}, fmt.Errorf("get medicine: %w", err)
	}
	return resp.Data, nil
}

// SearchTests looks up lab tests by name prefix.
func (c *Client) SearchTests(ctx context.Context, q string) ([]LabTest, error) {
	q = strings.TrimSpace(q)
	if q == "" {
		return []LabTest{}, nil
	}
	var resp envelope[[]LabTest]
	if err := c.do(ctx, "GET", "/inventory/tests", url.Values{"q": {q}}, nil, &resp); err != nil {
		return nil, fmt.Errorf("search tests: %w", err)
	}
	return resp.Data, nil
}
