package mongo

import (
	"context"
	"errors"
	"fmt"
	"time"

	"negotiation-engine/internal/domain"

	"github.com/shopspring/decimal"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

const opTimeout = 5 * time.Second

// MongoChainRepository stores each chain as one document with its offers
// embedded, so every write is a single-document replace.
type MongoChainRepository struct {
	coll *mongo.Collection
}

func NewMongoChainRepository(client *mongo.Client, dbName string, collName string) *MongoChainRepository {
	return &MongoChainRepository{coll: client.Database(dbName).Collection(collName)}
}

func (r *MongoChainRepository) EnsureIndexes(ctx context.Context) error {
	_, err := r.coll.Indexes().CreateMany(ctx, []mongo.IndexModel{
		{
			Keys:    bson.D{{Key: "chain_id", Value: 1}},
			Options: options.Index().SetUnique(true),
		},
		{
			Keys:    bson.D{{Key: "listing_id", Value: 1}, {Key: "requester_id", Value: 1}},
			Options: options.Index().SetUnique(true),
		},
		{
			Keys: bson.D{{Key: "offers.offer_id", Value: 1}},
		},
	})
	return err
}

func (r *MongoChainRepository) CreateChain(ctx context.Context, chain *domain.BidChain) error {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	doc := toDoc(chain)
	doc.Version = 1
	if _, err := r.coll.InsertOne(ctx, doc); err != nil {
		if mongo.IsDuplicateKeyError(err) {
			return domain.ErrChainExists
		}
		return classify("create chain", err)
	}
	chain.Version = 1
	return nil
}

func (r *MongoChainRepository) GetChain(ctx context.Context, chainID string) (*domain.BidChain, error) {
	return r.findOne(ctx, bson.M{"chain_id": chainID}, domain.ErrChainNotFound)
}

func (r *MongoChainRepository) FindChainByParties(ctx context.Context, listingID, requesterID string) (*domain.BidChain, error) {
	return r.findOne(ctx, bson.M{"listing_id": listingID, "requester_id": requesterID}, domain.ErrChainNotFound)
}

func (r *MongoChainRepository) FindChainByOffer(ctx context.Context, offerID string) (*domain.BidChain, error) {
	return r.findOne(ctx, bson.M{"offers.offer_id": offerID}, domain.ErrOfferNotFound)
}

func (r *MongoChainRepository) ListChainsByListing(ctx context.Context, listingID string) ([]*domain.BidChain, error) {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	opts := options.Find().SetSort(bson.D{{Key: "created_at", Value: 1}, {Key: "chain_id", Value: 1}})
	cur, err := r.coll.Find(ctx, bson.M{"listing_id": listingID}, opts)
	if err != nil {
		return nil, classify("list chains", err)
	}
	defer cur.Close(ctx)

	var chains []*domain.BidChain
	for cur.Next(ctx) {
		var doc chainDoc
		if err := cur.Decode(&doc); err != nil {
			return nil, err
		}
		chain, err := fromDoc(doc)
		if err != nil {
			return nil, err
		}
		chains = append(chains, chain)
	}
	if err := cur.Err(); err != nil {
		return nil, classify("list chains", err)
	}
	return chains, nil
}

func (r *MongoChainRepository) AppendOffer(ctx context.Context, chain *domain.BidChain, offer domain.Offer) error {
	return r.replace(ctx, "append offer", chain)
}

func (r *MongoChainRepository) SaveAcceptance(ctx context.Context, chain *domain.BidChain) error {
	return r.replace(ctx, "save acceptance", chain)
}

func (r *MongoChainRepository) replace(ctx context.Context, op string, chain *domain.BidChain) error {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	doc := toDoc(chain)
	doc.Version = chain.Version + 1
	res, err := r.coll.ReplaceOne(ctx,
		bson.M{"chain_id": chain.ID, "version": chain.Version},
		doc,
		options.Replace().SetUpsert(false))
	if err != nil {
		return classify(op, err)
	}
	if res.MatchedCount == 0 {
		n, err := r.coll.CountDocuments(ctx, bson.M{"chain_id": chain.ID})
		if err != nil {
			return classify(op, err)
		}
		if n == 0 {
			return domain.ErrChainNotFound
		}
		return domain.ErrConcurrentUpdate
	}
	chain.Version++
	return nil
}

func (r *MongoChainRepository) findOne(ctx context.Context, filter bson.M, notFound error) (*domain.BidChain, error) {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	res := r.coll.FindOne(ctx, filter)
	if errors.Is(res.Err(), mongo.ErrNoDocuments) {
		return nil, notFound
	}
	if res.Err() != nil {
		return nil, classify("find chain", res.Err())
	}
	var doc chainDoc
	if err := res.Decode(&doc); err != nil {
		return nil, err
	}
	return fromDoc(doc)
}

// classify marks network failures and timeouts as domain.ErrUnavailable.
func classify(op string, err error) error {
	if errors.Is(err, context.Canceled) {
		return fmt.Errorf("%s: %w", op, err)
	}
	if mongo.IsNetworkError(err) || mongo.IsTimeout(err) || errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("%w: %s: %w", domain.ErrUnavailable, op, err)
	}
	return fmt.Errorf("%s: %w", op, err)
}

type chainDoc struct {
	ChainID        string     `bson:"chain_id"`
	ListingID      string     `bson:"listing_id"`
	RequesterID    string     `bson:"requester_id"`
	CounterpartyID string     `bson:"counterparty_id,omitempty"`
	Status         string     `bson:"status"`
	Version        int64      `bson:"version"`
	CreatedAt      time.Time  `bson:"created_at"`
	UpdatedAt      time.Time  `bson:"updated_at"`
	Offers         []offerDoc `bson:"offers"`
}

// offerDoc keeps prices as decimal strings and timestamps in microseconds;
// BSON dates only carry milliseconds, which would collapse ledger order.
type offerDoc struct {
	ID          string  `bson:"offer_id"`
	FromParty   string  `bson:"from_party"`
	Price       string  `bson:"price"`
	Message     *string `bson:"message,omitempty"`
	Status      string  `bson:"status"`
	CreatedAtUS int64   `bson:"created_at_us"`
}

func toDoc(chain *domain.BidChain) chainDoc {
	doc := chainDoc{
		ChainID:        chain.ID,
		ListingID:      chain.ListingID,
		RequesterID:    chain.RequesterID,
		CounterpartyID: chain.CounterpartyID,
		Status:         chain.Status.String(),
		Version:        chain.Version,
		CreatedAt:      chain.CreatedAt,
		UpdatedAt:      chain.UpdatedAt,
		Offers:         make([]offerDoc, 0, len(chain.Offers)),
	}
	for _, o := range chain.Offers {
		doc.Offers = append(doc.Offers, offerDoc{
			ID:          o.ID,
			FromParty:   o.FromParty.String(),
			Price:       o.Price.String(),
			Message:     o.Message,
			Status:      o.Status.String(),
			CreatedAtUS: o.CreatedAt.UnixMicro(),
		})
	}
	return doc
}

func fromDoc(doc chainDoc) (*domain.BidChain, error) {
	chain := &domain.BidChain{
		ID:             doc.ChainID,
		ListingID:      doc.ListingID,
		RequesterID:    doc.RequesterID,
		CounterpartyID: doc.CounterpartyID,
		Version:        doc.Version,
		CreatedAt:      doc.CreatedAt.UTC(),
		UpdatedAt:      doc.UpdatedAt.UTC(),
		Offers:         make([]domain.Offer, 0, len(doc.Offers)),
	}
	if err := chain.Status.UnmarshalText([]byte(doc.Status)); err != nil {
		return nil, fmt.Errorf("chain %s: %w", doc.ChainID, err)
	}
	for _, od := range doc.Offers {
		o := domain.Offer{
			ID:        od.ID,
			ChainID:   doc.ChainID,
			Message:   od.Message,
			CreatedAt: time.UnixMicro(od.CreatedAtUS).UTC(),
		}
		var err error
		if o.FromParty, err = domain.ParseParty(od.FromParty); err != nil {
			return nil, fmt.Errorf("offer %s: %w", od.ID, err)
		}
		if o.Price, err = decimal.NewFromString(od.Price); err != nil {
			return nil, fmt.Errorf("offer %s price: %w", od.ID, err)
		}
		if err := o.Status.UnmarshalText([]byte(od.Status)); err != nil {
			return nil, fmt.Errorf("offer %s: %w", od.ID, err)
		}
		chain.Offers = append(chain.Offers, o)
	}
	return chain, nil
}
