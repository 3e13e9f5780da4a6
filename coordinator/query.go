package coordinator

import (
	"context"

	"go.uber.org/zap"

	"github.com/code-payments/iap-coordinator/iap"
)

// QueryProductDetails fetches product details for ids with one batched native
// query and refreshes the product cache. Store failures are reported in the
// response's Error with every id listed as not found; the returned error is
// reserved for unsupported platforms and cancelled contexts.
func (c *Coordinator) QueryProductDetails(ctx context.Context, ids []string) (*iap.ProductDetailsResponse, error) {
	ids = dedupe(ids)

	resp := &iap.ProductDetailsResponse{
		ProductDetails: []iap.Product{},
		NotFoundIDs:    []string{},
	}
	if len(ids) == 0 {
		return resp, nil
	}

	cached, missing := c.products.QueryMissing(ids)
	c.log.Debug("Querying product details",
		zap.Strings("ids", ids),
		zap.Int("cached", len(cached)),
		zap.Int("known", c.products.Len()),
		zap.Strings("missing", missing),
	)

	products, err := c.queryProducts(ctx, ids)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, ctxErr
		}

		native := iap.AsError(err)
		if native.Kind == iap.KindPlatformNotSupported {
			return nil, native
		}

		c.log.Warn("Product query failed", zap.Strings("ids", ids), zap.Error(err))
		resp.Error = iap.NewError(iap.KindQueryFailed, native.Code, native.Message).WithCause(err)
		resp.NotFoundIDs = ids
		return resp, nil
	}

	c.products.PutAll(products)

	byID := make(map[string]iap.Product, len(products))
	for _, product := range products {
		byID[product.ID] = product
	}
	for _, id := range ids {
		if product, ok := byID[id]; ok {
			resp.ProductDetails = append(resp.ProductDetails, product)
		} else {
			resp.NotFoundIDs = append(resp.NotFoundIDs, id)
		}
	}
	return resp, nil
}

// queryProducts runs the adapter query, reconnecting and retrying exactly once
// if the service connection dropped.
func (c *Coordinator) queryProducts(ctx context.Context, ids []string) ([]iap.Product, error) {
	products, err := c.adapter.QueryProducts(ctx, ids)
	if err == nil || !iap.IsServiceDisconnected(err) {
		return products, err
	}

	c.log.Debug("Service disconnected during product query, reconnecting", zap.Error(err))
	if reconnectErr := c.adapter.Reconnect(ctx); reconnectErr != nil {
		c.log.Warn("Failed to reconnect store service", zap.Error(reconnectErr))
		return nil, reconnectErr
	}

	// The storefront may have changed while disconnected.
	c.country.Invalidate()

	return c.adapter.QueryProducts(ctx, ids)
}

func dedupe(ids []string) []string {
	seen := make(map[string]struct{}, len(ids))
	deduped := make([]string, 0, len(ids))
	for _, id := range ids {
		if id == "" {
			continue
		}
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		deduped = append(deduped, id)
	}
	return deduped
}
