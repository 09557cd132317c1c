package mysql

import (
	"context"
	"database/sql"
	"fmt"
)

// offers.price keeps domain.PriceScale decimal places; domain.CheckPrice
// rejects anything finer before it reaches the table.
var schema = []string{
	`CREATE TABLE IF NOT EXISTS bid_chains (
        id              VARCHAR(64)  NOT NULL PRIMARY KEY,
        listing_id      VARCHAR(64)  NOT NULL,
        requester_id    VARCHAR(64)  NOT NULL,
        counterparty_id VARCHAR(64)  NOT NULL DEFAULT '',
        status          TINYINT      NOT NULL,
        version         BIGINT       NOT NULL,
        created_at      DATETIME(6)  NOT NULL,
        updated_at      DATETIME(6)  NOT NULL,
        UNIQUE KEY uq_chain_parties (listing_id, requester_id)
    )`,
	`CREATE TABLE IF NOT EXISTS offers (
        id         VARCHAR(32)    NOT NULL PRIMARY KEY,
        chain_id   VARCHAR(64)    NOT NULL,
        from_party TINYINT        NOT NULL,
        price      DECIMAL(20, 4) NOT NULL,
        message    TEXT           NULL,
        status     TINYINT        NOT NULL,
        created_at DATETIME(6)    NOT NULL,
        KEY idx_offers_chain_order (chain_id, created_at, id)
    )`,
}

// EnsureSchema creates the chain tables when they are missing.
func EnsureSchema(ctx context.Context, db *sql.DB) error {
	for _, stmt := range schema {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("ensure schema: %w", err)
		}
	}
	return nil
}
