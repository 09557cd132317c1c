package mysql

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"negotiation-engine/internal/domain"

	"github.com/go-sql-driver/mysql"
)

const errDuplicateEntry = 1062

type querier interface {
	QueryContext(ctx context.Context, query string, args ...interface{}) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...interface{}) *sql.Row
}

type MySQLChainRepository struct {
	db *sql.DB
}

func NewMySQLChainRepository(db *sql.DB) *MySQLChainRepository {
	return &MySQLChainRepository{db: db}
}

func (r *MySQLChainRepository) CreateChain(ctx context.Context, chain *domain.BidChain) error {
	query := `
        INSERT INTO bid_chains (id, listing_id, requester_id, counterparty_id, status, version, created_at, updated_at)
        VALUES (?, ?, ?, ?, ?, 1, ?, ?)
    `
	_, err := r.db.ExecContext(ctx, query,
		chain.ID, chain.ListingID, chain.RequesterID, chain.CounterpartyID,
		int(chain.Status), chain.CreatedAt, chain.UpdatedAt)
	if err != nil {
		var myErr *mysql.MySQLError
		if errors.As(err, &myErr) && myErr.Number == errDuplicateEntry {
			return domain.ErrChainExists
		}
		return classify("create chain", err)
	}
	chain.Version = 1
	return nil
}

func (r *MySQLChainRepository) GetChain(ctx context.Context, chainID string) (*domain.BidChain, error) {
	var chain *domain.BidChain
	err := r.readTx(ctx, "get chain", func(q querier) (err error) {
		chain, err = loadChain(ctx, q, `WHERE id = ?`, chainID)
		return err
	})
	return chain, err
}

func (r *MySQLChainRepository) FindChainByParties(ctx context.Context, listingID, requesterID string) (*domain.BidChain, error) {
	var chain *domain.BidChain
	err := r.readTx(ctx, "find chain", func(q querier) (err error) {
		chain, err = loadChain(ctx, q, `WHERE listing_id = ? AND requester_id = ?`, listingID, requesterID)
		return err
	})
	return chain, err
}

func (r *MySQLChainRepository) FindChainByOffer(ctx context.Context, offerID string) (*domain.BidChain, error) {
	var chain *domain.BidChain
	err := r.readTx(ctx, "find chain by offer", func(q querier) error {
		var chainID string
		err := q.QueryRowContext(ctx, `SELECT chain_id FROM offers WHERE id = ?`, offerID).Scan(&chainID)
		if errors.Is(err, sql.ErrNoRows) {
			return domain.ErrOfferNotFound
		}
		if err != nil {
			return classify("find chain by offer", err)
		}
		chain, err = loadChain(ctx, q, `WHERE id = ?`, chainID)
		return err
	})
	return chain, err
}

func (r *MySQLChainRepository) ListChainsByListing(ctx context.Context, listingID string) ([]*domain.BidChain, error) {
	var chains []*domain.BidChain
	err := r.readTx(ctx, "list chains", func(q querier) error {
		var err error
		if chains, err = scanChains(ctx, q, listingID); err != nil {
			return err
		}
		for _, chain := range chains {
			if chain.Offers, err = loadOffers(ctx, q, chain.ID); err != nil {
				return err
			}
		}
		return nil
	})
	return chains, err
}

func scanChains(ctx context.Context, q querier, listingID string) ([]*domain.BidChain, error) {
	query := `
        SELECT id, listing_id, requester_id, counterparty_id, status, version, created_at, updated_at
        FROM bid_chains WHERE listing_id = ?
        ORDER BY created_at ASC, id ASC
    `
	rows, err := q.QueryContext(ctx, query, listingID)
	if err != nil {
		return nil, classify("list chains", err)
	}
	defer rows.Close()

	var chains []*domain.BidChain
	for rows.Next() {
		chain, err := scanChain(rows)
		if err != nil {
			return nil, classify("list chains", err)
		}
		chains = append(chains, chain)
	}
	if err := rows.Err(); err != nil {
		return nil, classify("list chains", err)
	}
	return chains, nil
}

func (r *MySQLChainRepository) AppendOffer(ctx context.Context, chain *domain.BidChain, offer domain.Offer) error {
	return r.inTx(ctx, "append offer", func(tx *sql.Tx) error {
		if err := bumpVersion(ctx, tx, chain); err != nil {
			return err
		}
		query := `
            INSERT INTO offers (id, chain_id, from_party, price, message, status, created_at)
            VALUES (?, ?, ?, ?, ?, ?, ?)
        `
		_, err := tx.ExecContext(ctx, query,
			offer.ID, chain.ID, int(offer.FromParty), offer.Price,
			nullString(offer.Message), int(offer.Status), offer.CreatedAt)
		return err
	}, chain)
}

func (r *MySQLChainRepository) SaveAcceptance(ctx context.Context, chain *domain.BidChain) error {
	return r.inTx(ctx, "save acceptance", func(tx *sql.Tx) error {
		if err := bumpVersion(ctx, tx, chain); err != nil {
			return err
		}
		stmt, err := tx.PrepareContext(ctx, `UPDATE offers SET status = ? WHERE id = ? AND chain_id = ?`)
		if err != nil {
			return err
		}
		defer stmt.Close()

		for _, o := range chain.Offers {
			if o.Status == domain.OfferPending {
				continue
			}
			if _, err := stmt.ExecContext(ctx, int(o.Status), o.ID, chain.ID); err != nil {
				return err
			}
		}
		return nil
	}, chain)
}

// inTx commits fn's writes atomically and bumps chain.Version on success.
func (r *MySQLChainRepository) inTx(ctx context.Context, op string, fn func(*sql.Tx) error, chain *domain.BidChain) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return classify(op, err)
	}
	if err := fn(tx); err != nil {
		tx.Rollback()
		if errors.Is(err, domain.ErrConcurrentUpdate) || errors.Is(err, domain.ErrChainNotFound) {
			return err
		}
		return classify(op, err)
	}
	if err := tx.Commit(); err != nil {
		return classify(op, err)
	}
	chain.Version++
	return nil
}

// readTx runs fn inside one read-only transaction so a chain row and its
// offers come from the same snapshot.
func (r *MySQLChainRepository) readTx(ctx context.Context, op string, fn func(querier) error) error {
	tx, err := r.db.BeginTx(ctx, &sql.TxOptions{ReadOnly: true})
	if err != nil {
		return classify(op, err)
	}
	defer tx.Rollback()

	if err := fn(tx); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return classify(op, err)
	}
	return nil
}

func bumpVersion(ctx context.Context, tx *sql.Tx, chain *domain.BidChain) error {
	res, err := tx.ExecContext(ctx,
		`UPDATE bid_chains SET version = version + 1, status = ?, updated_at = ? WHERE id = ? AND version = ?`,
		int(chain.Status), chain.UpdatedAt, chain.ID, chain.Version)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 1 {
		return nil
	}

	var exists int
	err = tx.QueryRowContext(ctx, `SELECT 1 FROM bid_chains WHERE id = ?`, chain.ID).Scan(&exists)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.ErrChainNotFound
	}
	if err != nil {
		return err
	}
	return domain.ErrConcurrentUpdate
}

func loadChain(ctx context.Context, q querier, where string, args ...interface{}) (*domain.BidChain, error) {
	query := `
        SELECT id, listing_id, requester_id, counterparty_id, status, version, created_at, updated_at
        FROM bid_chains ` + where

	chain, err := scanChain(q.QueryRowContext(ctx, query, args...))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.ErrChainNotFound
	}
	if err != nil {
		return nil, classify("get chain", err)
	}

	if chain.Offers, err = loadOffers(ctx, q, chain.ID); err != nil {
		return nil, err
	}
	return chain, nil
}

type scanner interface {
	Scan(dest ...interface{}) error
}

func scanChain(s scanner) (*domain.BidChain, error) {
	var chain domain.BidChain
	var status int
	err := s.Scan(&chain.ID, &chain.ListingID, &chain.RequesterID, &chain.CounterpartyID,
		&status, &chain.Version, &chain.CreatedAt, &chain.UpdatedAt)
	if err != nil {
		return nil, err
	}
	chain.Status = domain.ChainStatus(status)
	chain.Offers = []domain.Offer{}
	return &chain, nil
}

func loadOffers(ctx context.Context, q querier, chainID string) ([]domain.Offer, error) {
	query := `
        SELECT id, chain_id, from_party, price, message, status, created_at
        FROM offers WHERE chain_id = ?
        ORDER BY created_at ASC, id ASC
    `
	rows, err := q.QueryContext(ctx, query, chainID)
	if err != nil {
		return nil, classify("load offers", err)
	}
	defer rows.Close()

	offers := []domain.Offer{}
	for rows.Next() {
		var (
			o       domain.Offer
			party   int
			status  int
			message sql.NullString
		)
		if err := rows.Scan(&o.ID, &o.ChainID, &party, &o.Price, &message, &status, &o.CreatedAt); err != nil {
			return nil, classify("load offers", err)
		}
		o.FromParty = domain.Party(party)
		o.Status = domain.OfferStatus(status)
		if message.Valid {
			m := message.String
			o.Message = &m
		}
		offers = append(offers, o)
	}
	if err := rows.Err(); err != nil {
		return nil, classify("load offers", err)
	}
	return offers, nil
}

func nullString(s *string) sql.NullString {
	if s == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: *s, Valid: true}
}

// classify marks connection-level failures as domain.ErrUnavailable. Server
// errors that MySQL answered with are plain failures, and context errors
// pass through untouched.
func classify(op string, err error) error {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("%s: %w", op, err)
	}
	var myErr *mysql.MySQLError
	if errors.As(err, &myErr) {
		return fmt.Errorf("%s: %w", op, err)
	}
	return fmt.Errorf("%w: %s: %w", domain.ErrUnavailable, op, err)
}
