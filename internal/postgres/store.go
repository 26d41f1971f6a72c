package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/ariefcatur/pet-auction/internal/auction"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Store adalah implementasi auction.Store di atas Postgres.
type Store struct{ DB *pgxpool.Pool }

var (
	_ auction.Store          = (*Store)(nil)
	_ auction.PriceCommitter = (*Store)(nil)
)

const uniqueViolation = "23505"

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == uniqueViolation
}

// ---- items ----

const itemColumns = `id, catalog_item_id, start_price, bid_unit, start_time, end_time,
	current_price, current_winner, started, ended, created_at, updated_at`

func (s *Store) CreateItem(ctx context.Context, it auction.AuctionItem) error {
	_, err := s.DB.Exec(ctx, `
		INSERT INTO auction_items(`+itemColumns+`)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12)`,
		it.ID, it.CatalogItemID, it.StartPrice, it.BidUnit, it.StartTime, it.EndTime,
		it.CurrentPrice, it.CurrentWinner, it.Started, it.Ended, it.CreatedAt, it.UpdatedAt)
	return err
}

func (s *Store) GetItem(ctx context.Context, id string) (auction.AuctionItem, error) {
	var it auction.AuctionItem
	err := s.DB.QueryRow(ctx, `SELECT `+itemColumns+` FROM auction_items WHERE id=$1`, id).Scan(
		&it.ID, &it.CatalogItemID, &it.StartPrice, &it.BidUnit, &it.StartTime, &it.EndTime,
		&it.CurrentPrice, &it.CurrentWinner, &it.Started, &it.Ended, &it.CreatedAt, &it.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return it, auction.ErrItemNotFound
	}
	return it, err
}

type execer interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// swapPrice: UPDATE bersyarat di current_price, 0 rows = harga sudah berubah.
func swapPrice(ctx context.Context, q execer, id string, newPrice int64, newWinner string, expected int64) (bool, error) {
	ct, err := q.Exec(ctx, `
		UPDATE auction_items
		SET current_price=$2, current_winner=$3, updated_at=now()
		WHERE id=$1 AND current_price=$4 AND NOT ended AND $2 > current_price`,
		id, newPrice, newWinner, expected)
	if err != nil {
		return false, err
	}
	if ct.RowsAffected() == 1 {
		return true, nil
	}
	var ended bool
	err = q.QueryRow(ctx, `SELECT ended FROM auction_items WHERE id=$1`, id).Scan(&ended)
	switch {
	case errors.Is(err, pgx.ErrNoRows):
		return false, auction.ErrItemNotFound
	case err != nil:
		return false, err
	case ended:
		return false, auction.ErrAuctionNotActive
	}
	return false, nil
}

func (s *Store) TryUpdatePrice(ctx context.Context, id string, newPrice int64, newWinner string, expectedPrice int64) (bool, error) {
	return swapPrice(ctx, s.DB, id, newPrice, newWinner, expectedPrice)
}

// CommitBid menukar harga dan mencatat bid sukses dalam satu transaksi.
func (s *Store) CommitBid(ctx context.Context, bid auction.AuctionBid, expectedPrice int64) (bool, error) {
	tx, err := s.DB.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return false, err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	ok, err := swapPrice(ctx, tx, bid.ItemID, bid.Amount, bid.MemberID, expectedPrice)
	if err != nil || !ok {
		return ok, err
	}
	if err := insertBid(ctx, tx, bid); err != nil {
		return false, err
	}
	if err := tx.Commit(ctx); err != nil {
		return false, err
	}
	return true, nil
}

func (s *Store) MarkStarted(ctx context.Context, id string, at time.Time) error {
	return s.mark(ctx, `UPDATE auction_items SET started=TRUE, updated_at=$2 WHERE id=$1`, id, at)
}

func (s *Store) MarkEnded(ctx context.Context, id string, at time.Time) error {
	return s.mark(ctx, `UPDATE auction_items SET started=TRUE, ended=TRUE, updated_at=$2 WHERE id=$1`, id, at)
}

func (s *Store) mark(ctx context.Context, sql, id string, at time.Time) error {
	ct, err := s.DB.Exec(ctx, sql, id, at)
	if err != nil {
		return err
	}
	if ct.RowsAffected() == 0 {
		return auction.ErrItemNotFound
	}
	return nil
}

// ---- bids ----

func insertBid(ctx context.Context, q execer, b auction.AuctionBid) error {
	_, err := q.Exec(ctx, `
		INSERT INTO auction_bid(id, item_id, member_id, amount, bid_time, status, reason)
		VALUES ($1,$2,$3,$4,$5,$6,$7)`,
		b.ID, b.ItemID, b.MemberID, b.Amount, b.BidTime, string(b.Status), b.Reason)
	return err
}

func (s *Store) AppendBid(ctx context.Context, b auction.AuctionBid) error {
	return insertBid(ctx, s.DB, b)
}

func (s *Store) ListBids(ctx context.Context, itemID string) ([]auction.AuctionBid, error) {
	rows, err := s.DB.Query(ctx, `
		SELECT id, item_id, member_id, amount, bid_time, status, reason
		FROM auction_bid WHERE item_id=$1 ORDER BY seq`, itemID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []auction.AuctionBid
	for rows.Next() {
		var b auction.AuctionBid
		var status string
		if err := rows.Scan(&b.ID, &b.ItemID, &b.MemberID, &b.Amount, &b.BidTime, &status, &b.Reason); err != nil {
			return nil, err
		}
		b.Status = auction.BidStatus(status)
		out = append(out, b)
	}
	return out, rows.Err()
}

// ---- sessions ----

const sessionColumns = `id, item_id, session_key, status, participant_count, start_time, end_time, created_at, updated_at`

func scanSession(row pgx.Row) (auction.AuctionSession, error) {
	var s auction.AuctionSession
	var status string
	err := row.Scan(&s.ID, &s.ItemID, &s.SessionKey, &status, &s.ParticipantCount,
		&s.StartTime, &s.EndTime, &s.CreatedAt, &s.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return s, auction.ErrSessionNotFound
	}
	s.Status = auction.SessionStatus(status)
	return s, err
}

func (s *Store) CreateSession(ctx context.Context, sess auction.AuctionSession) error {
	_, err := s.DB.Exec(ctx, `
		INSERT INTO auction_session(`+sessionColumns+`)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9)`,
		sess.ID, sess.ItemID, sess.SessionKey, string(sess.Status), sess.ParticipantCount,
		sess.StartTime, sess.EndTime, sess.CreatedAt, sess.UpdatedAt)
	if isUniqueViolation(err) {
		return fmt.Errorf("session for item %s: %w", sess.ItemID, err)
	}
	return err
}

func (s *Store) GetSessionByItem(ctx context.Context, itemID string) (auction.AuctionSession, error) {
	return scanSession(s.DB.QueryRow(ctx, `SELECT `+sessionColumns+` FROM auction_session WHERE item_id=$1`, itemID))
}

func (s *Store) GetSessionByKey(ctx context.Context, key string) (auction.AuctionSession, error) {
	return scanSession(s.DB.QueryRow(ctx, `SELECT `+sessionColumns+` FROM auction_session WHERE session_key=$1`, key))
}

func (s *Store) AdvanceStatus(ctx context.Context, itemID string, from, to auction.SessionStatus, at time.Time) (bool, error) {
	if !auction.CanTransition(from, to) {
		return false, fmt.Errorf("invalid session transition %s -> %s", from, to)
	}
	ct, err := s.DB.Exec(ctx, `
		UPDATE auction_session SET status=$3, updated_at=$4
		WHERE item_id=$1 AND status=$2`, itemID, string(from), string(to), at)
	if err != nil {
		return false, err
	}
	if ct.RowsAffected() == 1 {
		return true, nil
	}
	if _, err := s.GetSessionByItem(ctx, itemID); err != nil {
		return false, err
	}
	return false, nil
}

func (s *Store) SetParticipantCount(ctx context.Context, itemID string, n int) error {
	ct, err := s.DB.Exec(ctx, `UPDATE auction_session SET participant_count=$2 WHERE item_id=$1`, itemID, n)
	if err != nil {
		return err
	}
	if ct.RowsAffected() == 0 {
		return auction.ErrSessionNotFound
	}
	return nil
}

func (s *Store) ListUnsettledSessions(ctx context.Context) ([]auction.AuctionSession, error) {
	rows, err := s.DB.Query(ctx, `
		SELECT `+sessionColumns+` FROM auction_session
		WHERE status <> $1 ORDER BY end_time`, string(auction.SessionSettled))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []auction.AuctionSession
	for rows.Next() {
		sess, err := scanSession(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, sess)
	}
	return out, rows.Err()
}

// ---- participants ----

func (s *Store) SaveParticipant(ctx context.Context, p auction.AuctionParticipant) error {
	_, err := s.DB.Exec(ctx, `
		INSERT INTO auction_participant(session_id, connection_id, member_id, joined_at, last_activity, active)
		VALUES ($1,$2,$3,$4,$5,$6)
		ON CONFLICT (session_id, connection_id) DO UPDATE
		SET member_id=EXCLUDED.member_id, joined_at=EXCLUDED.joined_at,
		    last_activity=EXCLUDED.last_activity, active=EXCLUDED.active`,
		p.SessionID, p.ConnectionID, p.MemberID, p.JoinedAt, p.LastActivity, p.Active)
	return err
}

func (s *Store) DeactivateParticipants(ctx context.Context, sessionID string, connIDs []string, at time.Time) error {
	if len(connIDs) == 0 {
		return nil
	}
	_, err := s.DB.Exec(ctx, `
		UPDATE auction_participant SET active=FALSE, last_activity=$3
		WHERE session_id=$1 AND connection_id = ANY($2)`, sessionID, connIDs, at)
	return err
}

// ---- settlement ----

// SaveSettlement: semua history + delivery dalam satu transaksi.
// Unique (item_id, member_id) menjaga settlement tetap sekali per item.
func (s *Store) SaveSettlement(ctx context.Context, histories []auction.AuctionHistory, d *auction.AuctionDelivery) error {
	if len(histories) == 0 {
		return nil
	}
	tx, err := s.DB.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	var n int
	if err := tx.QueryRow(ctx, `SELECT COUNT(*) FROM auction_history WHERE item_id=$1`, histories[0].ItemID).Scan(&n); err != nil {
		return err
	}
	if n > 0 {
		return auction.ErrAlreadySettled
	}

	for _, h := range histories {
		_, err := tx.Exec(ctx, `
			INSERT INTO auction_history(id, item_id, member_id, my_highest_bid, is_winner, created_at, updated_at)
			VALUES ($1,$2,$3,$4,$5,$6,$7)`,
			h.ID, h.ItemID, h.MemberID, h.MyHighestBid, h.IsWinner, h.CreatedAt, h.UpdatedAt)
		if isUniqueViolation(err) {
			return auction.ErrAlreadySettled
		}
		if err != nil {
			return err
		}
	}
	if d != nil {
		_, err := tx.Exec(ctx, `
			INSERT INTO auction_delivery(id, history_id, item_id, member_id, delivery_deadline, created_at, updated_at)
			VALUES ($1,$2,$3,$4,$5,$6,$7)`,
			d.ID, d.HistoryID, d.ItemID, d.MemberID, d.DeliveryDeadline, d.CreatedAt, d.UpdatedAt)
		if isUniqueViolation(err) {
			return auction.ErrAlreadySettled
		}
		if err != nil {
			return err
		}
	}
	return tx.Commit(ctx)
}

func (s *Store) ListHistory(ctx context.Context, itemID string) ([]auction.AuctionHistory, error) {
	rows, err := s.DB.Query(ctx, `
		SELECT id, item_id, member_id, my_highest_bid, is_winner, created_at, updated_at
		FROM auction_history WHERE item_id=$1
		ORDER BY my_highest_bid DESC, member_id`, itemID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []auction.AuctionHistory
	for rows.Next() {
		var h auction.AuctionHistory
		if err := rows.Scan(&h.ID, &h.ItemID, &h.MemberID, &h.MyHighestBid, &h.IsWinner, &h.CreatedAt, &h.UpdatedAt); err != nil {
			return nil, err
		}
		out = append(out, h)
	}
	return out, rows.Err()
}

const deliveryColumns = `id, history_id, item_id, member_id, receiver_name, receiver_phone, address,
	address_detail, delivery_input_at, delivery_deadline, expired_at, created_at, updated_at`

func scanDelivery(row pgx.Row) (auction.AuctionDelivery, error) {
	var d auction.AuctionDelivery
	err := row.Scan(&d.ID, &d.HistoryID, &d.ItemID, &d.MemberID, &d.ReceiverName, &d.ReceiverPhone,
		&d.Address, &d.AddressDetail, &d.DeliveryInputAt, &d.DeliveryDeadline, &d.ExpiredAt,
		&d.CreatedAt, &d.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return d, auction.ErrDeliveryNotFound
	}
	return d, err
}

func (s *Store) GetDelivery(ctx context.Context, id string) (auction.AuctionDelivery, error) {
	return scanDelivery(s.DB.QueryRow(ctx, `SELECT `+deliveryColumns+` FROM auction_delivery WHERE id=$1`, id))
}

func (s *Store) SubmitDelivery(ctx context.Context, id string, in auction.DeliveryInput, at time.Time) error {
	ct, err := s.DB.Exec(ctx, `
		UPDATE auction_delivery
		SET receiver_name=$2, receiver_phone=$3, address=$4, address_detail=$5,
		    delivery_input_at=$6, updated_at=$6
		WHERE id=$1 AND delivery_input_at IS NULL`,
		id, in.ReceiverName, in.ReceiverPhone, in.Address, in.AddressDetail, at)
	if err != nil {
		return err
	}
	if ct.RowsAffected() == 1 {
		return nil
	}
	if _, err := s.GetDelivery(ctx, id); err != nil {
		return err
	}
	return auction.ErrDeliveryAlreadySubmitted
}

func (s *Store) ListExpiredDeliveries(ctx context.Context, now time.Time) ([]auction.AuctionDelivery, error) {
	rows, err := s.DB.Query(ctx, `
		SELECT `+deliveryColumns+` FROM auction_delivery
		WHERE delivery_input_at IS NULL AND expired_at IS NULL AND delivery_deadline < $1
		ORDER BY delivery_deadline`, now)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []auction.AuctionDelivery
	for rows.Next() {
		d, err := scanDelivery(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, d)
	}
	return out, rows.Err()
}

func (s *Store) MarkDeliveryExpired(ctx context.Context, id string, at time.Time) (bool, error) {
	ct, err := s.DB.Exec(ctx, `
		UPDATE auction_delivery SET expired_at=$2, updated_at=$2
		WHERE id=$1 AND expired_at IS NULL AND delivery_input_at IS NULL`, id, at)
	if err != nil {
		return false, err
	}
	if ct.RowsAffected() == 1 {
		return true, nil
	}
	if _, err := s.GetDelivery(ctx, id); err != nil {
		return false, err
	}
	return false, nil
}
