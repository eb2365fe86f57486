package api

import (
	"context"
	"fmt"

	"github.com/cloudposture/checks-export/pkg/posture"
)

// accountsPage is the wire envelope for the accounts endpoint.
type accountsPage struct {
	Items    []posture.Account `json:"items"`
	NextLink string            `json:"nextLink"`
}

// ListAccounts fetches the full account list, following next-page links.
// The caller treats the result as one atomic fetch; a failure on any page
// fails the whole listing.
func (c *Client) ListAccounts(ctx context.Context) ([]posture.Account, error) {
	var accounts []posture.Account

	next := c.baseURL + AccountsEndpoint
	for next != "" {
		var page accountsPage
		if err := c.GetJSONURL(ctx, next, "", nil, &page); err != nil {
			return nil, fmt.Errorf("list accounts: %w", err)
		}
		accounts = append(accounts, page.Items...)
		next = page.NextLink
	}

	c.logger.Info().Int("accounts", len(accounts)).Msg("Fetched cloud accounts")
	return accounts, nil
}

// servicesPage is the wire envelope for the service catalog endpoint.
// Entries appear as either {"id": ...} or {"name": ...} depending on API
// vintage.
type servicesPage struct {
	Items []struct {
		ID   string `json:"id"`
		Name string `json:"name"`
	} `json:"items"`
	NextLink string `json:"nextLink"`
}

// ListServices fetches the service catalog identifiers.
func (c *Client) ListServices(ctx context.Context) ([]string, error) {
	var services []string

	next := c.baseURL + ServicesEndpoint
	for next != "" {
		var page servicesPage
		if err := c.GetJSONURL(ctx, next, "", nil, &page); err != nil {
			return nil, fmt.Errorf("list services: %w", err)
		}
		for _, it := range page.Items {
			if it.ID != "" {
				services = append(services, it.ID)
			} else if it.Name != "" {
				services = append(services, it.Name)
			}
		}
		next = page.NextLink
	}

	c.logger.Info().Int("services", len(services)).Msg("Fetched service catalog")
	return services, nil
}
