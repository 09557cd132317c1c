package redis

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"negotiation-engine/internal/domain"

	"github.com/go-redis/redis/v8"
	"github.com/shopspring/decimal"
)

const maxPriceChangeRetries = 5

// ListingCache stores listing snapshots as Redis hashes under
// "<prefix>:listing:<id>". Prices are kept as exact decimal strings.
type ListingCache struct {
	client *redis.Client
	prefix string
}

func NewListingCache(client *redis.Client, prefix string) *ListingCache {
	return &ListingCache{client: client, prefix: prefix}
}

func (c *ListingCache) key(listingID string) string {
	return c.prefix + ":listing:" + listingID
}

func (c *ListingCache) SaveListing(ctx context.Context, listing *domain.Listing) error {
	key := c.key(listing.ID)
	pipe := c.client.TxPipeline()
	pipe.Del(ctx, key)
	pipe.HSet(ctx, key, encodeListing(listing))
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("%w: save listing %s: %w", domain.ErrUnavailable, listing.ID, err)
	}
	return nil
}

func (c *ListingCache) GetListing(ctx context.Context, listingID string) (*domain.Listing, error) {
	fields, err := c.client.HGetAll(ctx, c.key(listingID)).Result()
	if err != nil {
		return nil, fmt.Errorf("%w: get listing %s: %w", domain.ErrUnavailable, listingID, err)
	}
	if len(fields) == 0 {
		return nil, domain.ErrListingNotFound
	}
	return decodeListing(listingID, fields)
}

// ApplyPriceChange raises the cached price under WATCH so concurrent changes
// never lower it. A raise drops min_next_bid until the next snapshot.
func (c *ListingCache) ApplyPriceChange(ctx context.Context, listingID string, price decimal.Decimal, highestBidder *string) (*domain.Listing, bool, error) {
	key := c.key(listingID)

	var (
		result  *domain.Listing
		changed bool
	)
	txf := func(tx *redis.Tx) error {
		fields, err := tx.HGetAll(ctx, key).Result()
		if err != nil {
			return err
		}
		if len(fields) == 0 {
			return domain.ErrListingNotFound
		}
		listing, err := decodeListing(listingID, fields)
		if err != nil {
			return err
		}
		if !price.GreaterThan(listing.CurrentPrice) {
			result, changed = listing, false
			return nil
		}

		listing.CurrentPrice = price
		listing.MinNextBid = decimal.NullDecimal{}
		listing.HighestBidder = highestBidder
		listing.UpdatedAt = time.Now().UTC()
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.HSet(ctx, key,
				"current_price", price.String(),
				"updated_at", strconv.FormatInt(listing.UpdatedAt.UnixMicro(), 10),
			)
			// A minimum quoted for the old price no longer applies.
			pipe.HDel(ctx, key, "min_next_bid")
			if highestBidder != nil {
				pipe.HSet(ctx, key, "highest_bidder", *highestBidder)
			} else {
				pipe.HDel(ctx, key, "highest_bidder")
			}
			return nil
		})
		if err == nil {
			result, changed = listing, true
		}
		return err
	}

	for i := 0; i < maxPriceChangeRetries; i++ {
		err := c.client.Watch(ctx, txf, key)
		if errors.Is(err, redis.TxFailedErr) {
			continue
		}
		if errors.Is(err, domain.ErrListingNotFound) {
			return nil, false, err
		}
		if err != nil {
			return nil, false, fmt.Errorf("%w: apply price change %s: %w", domain.ErrUnavailable, listingID, err)
		}
		return result, changed, nil
	}
	return nil, false, fmt.Errorf("%w: listing %s", domain.ErrConcurrentUpdate, listingID)
}

func encodeListing(l *domain.Listing) map[string]interface{} {
	fields := map[string]interface{}{
		"kind":          string(l.Kind),
		"owner_id":      l.OwnerID,
		"current_price": l.CurrentPrice.String(),
		"status":        l.Status.String(),
		"updated_at":    strconv.FormatInt(l.UpdatedAt.UnixMicro(), 10),
	}
	if l.MinNextBid.Valid {
		fields["min_next_bid"] = l.MinNextBid.Decimal.String()
	}
	if l.MaxBid.Valid {
		fields["max_bid"] = l.MaxBid.Decimal.String()
	}
	if l.HighestBidder != nil {
		fields["highest_bidder"] = *l.HighestBidder
	}
	if !l.ExpiresAt.IsZero() {
		fields["expires_at"] = strconv.FormatInt(l.ExpiresAt.UnixMicro(), 10)
	}
	return fields
}

func decodeListing(id string, fields map[string]string) (*domain.Listing, error) {
	l := &domain.Listing{
		ID:      id,
		Kind:    domain.ListingKind(fields["kind"]),
		OwnerID: fields["owner_id"],
	}

	var err error
	if l.CurrentPrice, err = decimal.NewFromString(fields["current_price"]); err != nil {
		return nil, fmt.Errorf("listing %s current_price: %w", id, err)
	}
	if l.Status, err = domain.ParseListingStatus(fields["status"]); err != nil {
		return nil, fmt.Errorf("listing %s: %w", id, err)
	}
	if v, ok := fields["min_next_bid"]; ok {
		if l.MinNextBid, err = parseNullDecimal(v); err != nil {
			return nil, fmt.Errorf("listing %s min_next_bid: %w", id, err)
		}
	}
	if v, ok := fields["max_bid"]; ok {
		if l.MaxBid, err = parseNullDecimal(v); err != nil {
			return nil, fmt.Errorf("listing %s max_bid: %w", id, err)
		}
	}
	if v, ok := fields["highest_bidder"]; ok {
		bidder := v
		l.HighestBidder = &bidder
	}
	if v, ok := fields["expires_at"]; ok {
		us, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("listing %s expires_at: %w", id, err)
		}
		l.ExpiresAt = time.UnixMicro(us).UTC()
	}
	if v, ok := fields["updated_at"]; ok {
		if us, err := strconv.ParseInt(v, 10, 64); err == nil {
			l.UpdatedAt = time.UnixMicro(us).UTC()
		}
	}
	return l, nil
}

func parseNullDecimal(s string) (decimal.NullDecimal, error) {
	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.NullDecimal{}, err
	}
	return decimal.NewNullDecimal(d), nil
}
