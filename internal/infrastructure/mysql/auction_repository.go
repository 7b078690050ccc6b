package mysql

import (
	"context"
	"database/sql"
	"time"

	"auction-engine/internal/domain"
	"auction-engine/pkg/clock"
	"auction-engine/pkg/logger"
	"auction-engine/pkg/retry"
	"auction-engine/pkg/utils"

	"github.com/cockroachdb/errors"
	driver "github.com/go-sql-driver/mysql"
	"github.com/shopspring/decimal"
)

const (
	errLockWaitTimeout = 1205
	errDeadlock        = 1213
)

var errLockTimeout = errors.New("timed out waiting for auction row lock")

const auctionColumns = `id, seller_id, item_name, starting_price, bid_increment, reserve_price,
        go_live_at, duration_ms, auto_extend_ms, status, current_highest_bid, bid_count,
        highest_bidder_id, seller_decision, counter_offer_amount, counter_offer_expires_at,
        created_at, updated_at`

const bidColumns = `id, auction_id, bidder_id, amount, max_amount, is_winning, sequence,
        bid_type, bid_source, placed_at`

type MySQLAuctionStore struct {
	db          *sql.DB
	lockTimeout time.Duration
	policy      retry.Policy
	clock       clock.Clock
	log         logger.Logger
}

func NewMySQLAuctionStore(db *sql.DB, lockTimeout time.Duration, policy retry.Policy,
	clk clock.Clock, log logger.Logger) *MySQLAuctionStore {
	return &MySQLAuctionStore{
		db:          db,
		lockTimeout: lockTimeout,
		policy:      policy,
		clock:       clk,
		log:         log,
	}
}

func (r *MySQLAuctionStore) CreateAuction(ctx context.Context, auction *domain.Auction) error {
	if auction.ID == "" {
		auction.ID = utils.GenerateID("auction")
	}
	decision, offerAmount, offerExpiry := negotiationColumns(auction.Negotiation)

	query := `
        INSERT INTO auctions (id, seller_id, item_name, starting_price, bid_increment, reserve_price,
            go_live_at, duration_ms, ends_at, auto_extend_ms, status, current_highest_bid, bid_count,
            highest_bidder_id, seller_decision, counter_offer_amount, counter_offer_expires_at,
            created_at, updated_at)
        VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
    `
	_, err := r.db.ExecContext(ctx, query,
		auction.ID, auction.SellerID, auction.ItemName, auction.StartingPrice, auction.BidIncrement,
		nullDecimal(auction.ReservePrice), auction.GoLiveAt, auction.Duration.Milliseconds(), auction.EndsAt(),
		auction.AutoExtend.Milliseconds(), int(auction.Status), auction.CurrentHighestBid, auction.BidCount,
		nullString(auction.HighestBidderID), decision, offerAmount, offerExpiry,
		auction.CreatedAt, auction.UpdatedAt)
	return errors.Wrapf(err, "insert auction %s", auction.ID)
}

func (r *MySQLAuctionStore) ReadAuction(ctx context.Context, auctionID string) (*domain.Auction, error) {
	query := `SELECT ` + auctionColumns + ` FROM auctions WHERE id = ?`

	auction, err := scanAuction(r.db.QueryRowContext(ctx, query, auctionID))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, errors.Wrapf(domain.ErrNotFound, "auction %s", auctionID)
	}
	return auction, errors.Wrapf(err, "read auction %s", auctionID)
}

func (r *MySQLAuctionStore) ListBids(ctx context.Context, auctionID string) ([]*domain.Bid, error) {
	if _, err := r.ReadAuction(ctx, auctionID); err != nil {
		return nil, err
	}

	query := `SELECT ` + bidColumns + ` FROM bids WHERE auction_id = ? ORDER BY sequence ASC`
	rows, err := r.db.QueryContext(ctx, query, auctionID)
	if err != nil {
		return nil, errors.Wrapf(err, "list bids for %s", auctionID)
	}
	defer rows.Close()

	var bids []*domain.Bid
	for rows.Next() {
		bid, err := scanBid(rows)
		if err != nil {
			return nil, err
		}
		bids = append(bids, bid)
	}
	return bids, rows.Err()
}

func (r *MySQLAuctionStore) DueForTransition(ctx context.Context, now time.Time) ([]*domain.Auction, error) {
	query := `
        SELECT ` + auctionColumns + `
        FROM auctions
        WHERE (status = ? AND go_live_at <= ?) OR (status = ? AND ends_at <= ?)
        ORDER BY go_live_at ASC, id ASC
    `
	return r.queryAuctions(ctx, query,
		int(domain.AuctionScheduled), now, int(domain.AuctionLive), now)
}

func (r *MySQLAuctionStore) ExpiredCounterOffers(ctx context.Context, now time.Time) ([]*domain.Auction, error) {
	query := `
        SELECT ` + auctionColumns + `
        FROM auctions
        WHERE status = ? AND seller_decision = ? AND counter_offer_expires_at <= ?
        ORDER BY counter_offer_expires_at ASC
    `
	return r.queryAuctions(ctx, query,
		int(domain.AuctionEnded), string(domain.DecisionCounterOffered), now)
}

func (r *MySQLAuctionStore) queryAuctions(ctx context.Context, query string, args ...interface{}) ([]*domain.Auction, error) {
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, errors.Wrap(err, "query auctions")
	}
	defer rows.Close()

	var auctions []*domain.Auction
	for rows.Next() {
		auction, err := scanAuction(rows)
		if err != nil {
			return nil, err
		}
		auctions = append(auctions, auction)
	}
	return auctions, rows.Err()
}

// WithinAuction locks the auction row with SELECT ... FOR UPDATE for the whole
// transaction. The lock wait is capped at lockTimeout per attempt; lock wait
// timeouts and deadlocks are retried under the store's policy.
func (r *MySQLAuctionStore) WithinAuction(ctx context.Context, auctionID string,
	fn func(ctx context.Context, tx domain.AuctionTx) error) error {
	err := retry.Do(ctx, r.policy, isLockConflict, func() error {
		return r.runTx(ctx, auctionID, fn)
	}, func(err error, wait time.Duration) {
		r.log.Warn("Retrying auction transaction", "auction_id", auctionID, "wait", wait, "error", err)
	})
	if isLockConflict(err) {
		return errors.Mark(errors.Wrapf(err, "auction %s", auctionID), domain.ErrContention)
	}
	return err
}

func (r *MySQLAuctionStore) runTx(ctx context.Context, auctionID string,
	fn func(ctx context.Context, tx domain.AuctionTx) error) (err error) {
	tx, err := r.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelReadCommitted})
	if err != nil {
		return errors.Wrap(err, "begin transaction")
	}
	defer func() {
		if err == nil {
			return
		}
		if rbErr := tx.Rollback(); rbErr != nil && !errors.Is(rbErr, sql.ErrTxDone) {
			r.log.Warn("Failed to rollback transaction", "auction_id", auctionID, "error", rbErr)
		}
	}()

	lockCtx, cancel := context.WithTimeout(ctx, r.lockTimeout)
	auction, err := scanAuction(tx.QueryRowContext(lockCtx,
		`SELECT `+auctionColumns+` FROM auctions WHERE id = ? FOR UPDATE`, auctionID))
	cancel()
	if err != nil {
		switch {
		case errors.Is(err, sql.ErrNoRows):
			return errors.Wrapf(domain.ErrNotFound, "auction %s", auctionID)
		case errors.Is(err, context.DeadlineExceeded) && ctx.Err() == nil:
			return errLockTimeout
		}
		return errors.Wrapf(err, "lock auction %s", auctionID)
	}

	if err = fn(ctx, &mysqlTx{tx: tx, auction: auction, clock: r.clock}); err != nil {
		return err
	}

	if err = tx.Commit(); err != nil {
		return errors.Wrap(err, "commit transaction")
	}
	return nil
}

func isLockConflict(err error) bool {
	if errors.Is(err, errLockTimeout) {
		return true
	}
	var me *driver.MySQLError
	if errors.As(err, &me) {
		return me.Number == errLockWaitTimeout || me.Number == errDeadlock
	}
	return false
}

type mysqlTx struct {
	tx      *sql.Tx
	auction *domain.Auction
	clock   clock.Clock
}

func (t *mysqlTx) ReadAuction(ctx context.Context) (*domain.Auction, error) {
	return t.auction.Clone(), nil
}

func (t *mysqlTx) ReadHighestBid(ctx context.Context) (*domain.Bid, error) {
	query := `SELECT ` + bidColumns + ` FROM bids WHERE auction_id = ? AND is_winning = 1 LIMIT 1`

	bid, err := scanBid(t.tx.QueryRowContext(ctx, query, t.auction.ID))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	return bid, err
}

func (t *mysqlTx) InsertBid(ctx context.Context, bid *domain.Bid) error {
	if !bid.Amount.GreaterThan(t.auction.CurrentHighestBid) {
		return errors.Wrapf(domain.ErrBidTooLow, "bid %s is not above stored highest %s",
			bid.Amount, t.auction.CurrentHighestBid)
	}

	now := t.clock.Now()
	if bid.ID == "" {
		bid.ID = utils.GenerateID("bid")
	}
	bid.AuctionID = t.auction.ID
	bid.Sequence = t.auction.BidCount + 1
	bid.Winning = true

	// Conditioned on the row still holding the amount we validated against.
	res, err := t.tx.ExecContext(ctx, `
        UPDATE auctions
        SET current_highest_bid = ?, highest_bidder_id = ?, bid_count = ?, updated_at = ?
        WHERE id = ? AND current_highest_bid < ? AND bid_count = ?
    `, bid.Amount, bid.BidderID, bid.Sequence, now, t.auction.ID, bid.Amount, t.auction.BidCount)
	if err != nil {
		return errors.Wrap(err, "update auction highest bid")
	}
	if n, err := res.RowsAffected(); err != nil {
		return errors.Wrap(err, "update auction highest bid")
	} else if n != 1 {
		return errors.Wrapf(domain.ErrBidTooLow, "auction %s moved past %s", t.auction.ID, bid.Amount)
	}

	if _, err := t.tx.ExecContext(ctx,
		`UPDATE bids SET is_winning = 0 WHERE auction_id = ? AND is_winning = 1`, t.auction.ID); err != nil {
		return errors.Wrap(err, "clear previous winner")
	}

	_, err = t.tx.ExecContext(ctx, `
        INSERT INTO bids (id, auction_id, bidder_id, amount, max_amount, is_winning, sequence,
            bid_type, bid_source, placed_at)
        VALUES (?, ?, ?, ?, ?, 1, ?, ?, ?, ?)
    `, bid.ID, bid.AuctionID, bid.BidderID, bid.Amount, nullDecimal(bid.MaxAmount), bid.Sequence,
		string(bid.Type), string(bid.Source), bid.PlacedAt)
	if err != nil {
		return errors.Wrap(err, "insert bid")
	}

	t.auction.CurrentHighestBid = bid.Amount
	t.auction.HighestBidderID = bid.BidderID
	t.auction.BidCount = bid.Sequence
	t.auction.UpdatedAt = now
	return nil
}

func (t *mysqlTx) UpdateAuctionStatus(ctx context.Context, status domain.AuctionStatus) error {
	now := t.clock.Now()
	_, err := t.tx.ExecContext(ctx, `UPDATE auctions SET status = ?, updated_at = ? WHERE id = ?`,
		int(status), now, t.auction.ID)
	if err != nil {
		return errors.Wrap(err, "update auction status")
	}
	t.auction.Status = status
	t.auction.UpdatedAt = now
	return nil
}

func (t *mysqlTx) UpdateSellerDecision(ctx context.Context, negotiation domain.Negotiation) error {
	now := t.clock.Now()
	decision, amount, expiresAt := negotiationColumns(negotiation)
	_, err := t.tx.ExecContext(ctx, `
        UPDATE auctions
        SET seller_decision = ?, counter_offer_amount = ?, counter_offer_expires_at = ?, updated_at = ?
        WHERE id = ?
    `, decision, amount, expiresAt, now, t.auction.ID)
	if err != nil {
		return errors.Wrap(err, "update seller decision")
	}
	t.auction.Negotiation = negotiation
	t.auction.UpdatedAt = now
	return nil
}

func (t *mysqlTx) ExtendDuration(ctx context.Context, duration time.Duration) error {
	if duration < t.auction.Duration {
		return errors.Wrapf(domain.ErrInvalidInput, "duration %s would shorten auction", duration)
	}
	now := t.clock.Now()
	_, err := t.tx.ExecContext(ctx,
		`UPDATE auctions SET duration_ms = ?, ends_at = ?, updated_at = ? WHERE id = ?`,
		duration.Milliseconds(), t.auction.GoLiveAt.Add(duration), now, t.auction.ID)
	if err != nil {
		return errors.Wrap(err, "extend auction")
	}
	t.auction.Duration = duration
	t.auction.UpdatedAt = now
	return nil
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanAuction(row rowScanner) (*domain.Auction, error) {
	var (
		auction       domain.Auction
		reserve       decimal.NullDecimal
		durationMs    int64
		autoExtendMs  int64
		status        int
		highestBidder sql.NullString
		decision      string
		offerAmount   decimal.NullDecimal
		offerExpiry   sql.NullTime
	)

	err := row.Scan(&auction.ID, &auction.SellerID, &auction.ItemName, &auction.StartingPrice,
		&auction.BidIncrement, &reserve, &auction.GoLiveAt, &durationMs, &autoExtendMs, &status,
		&auction.CurrentHighestBid, &auction.BidCount, &highestBidder, &decision, &offerAmount,
		&offerExpiry, &auction.CreatedAt, &auction.UpdatedAt)
	if err != nil {
		return nil, err
	}

	if reserve.Valid {
		auction.ReservePrice = &reserve.Decimal
	}
	auction.Duration = time.Duration(durationMs) * time.Millisecond
	auction.AutoExtend = time.Duration(autoExtendMs) * time.Millisecond
	auction.Status = domain.AuctionStatus(status)
	auction.HighestBidderID = highestBidder.String

	var amountPtr *decimal.Decimal
	if offerAmount.Valid {
		amountPtr = &offerAmount.Decimal
	}
	var expiryPtr *time.Time
	if offerExpiry.Valid {
		expiryPtr = &offerExpiry.Time
	}
	auction.Negotiation, err = domain.RestoreNegotiation(decision, amountPtr, expiryPtr)
	if err != nil {
		return nil, errors.Wrapf(err, "auction %s", auction.ID)
	}
	return &auction, nil
}

func scanBid(row rowScanner) (*domain.Bid, error) {
	var (
		bid       domain.Bid
		maxAmount decimal.NullDecimal
		bidType   string
		source    string
	)

	err := row.Scan(&bid.ID, &bid.AuctionID, &bid.BidderID, &bid.Amount, &maxAmount, &bid.Winning,
		&bid.Sequence, &bidType, &source, &bid.PlacedAt)
	if err != nil {
		return nil, err
	}

	if maxAmount.Valid {
		bid.MaxAmount = &maxAmount.Decimal
	}
	bid.Type = domain.BidType(bidType)
	bid.Source = domain.BidSource(source)
	return &bid, nil
}

func negotiationColumns(n domain.Negotiation) (string, interface{}, interface{}) {
	offer, ok := n.CounterOffer()
	if !ok {
		return string(n.Kind()), nil, nil
	}
	return string(n.Kind()), offer.Amount, offer.ExpiresAt
}

func nullDecimal(v *decimal.Decimal) interface{} {
	if v == nil {
		return nil
	}
	return *v
}

func nullString(v string) interface{} {
	if v == "" {
		return nil
	}
	return v
}
