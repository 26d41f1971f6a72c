package postgres

import (
	"context"
	"github.com/jackc/pgx/v5/pgxpool"
)

// schema dibuat idempotent, aman dijalankan tiap startup.
const schema = `
CREATE TABLE IF NOT EXISTS auction_items (
	id              TEXT PRIMARY KEY,
	catalog_item_id TEXT        NOT NULL,
	start_price     BIGINT      NOT NULL CHECK (start_price >= 0),
	bid_unit        BIGINT      NOT NULL CHECK (bid_unit > 0),
	start_time      TIMESTAMPTZ NOT NULL,
	end_time        TIMESTAMPTZ NOT NULL,
	current_price   BIGINT      NOT NULL,
	current_winner  TEXT        NOT NULL DEFAULT '',
	started         BOOLEAN     NOT NULL DEFAULT FALSE,
	ended           BOOLEAN     NOT NULL DEFAULT FALSE,
	created_at      TIMESTAMPTZ NOT NULL,
	updated_at      TIMESTAMPTZ NOT NULL,
	CHECK (end_time > start_time)
);

CREATE TABLE IF NOT EXISTS auction_bid (
	seq       BIGSERIAL PRIMARY KEY,
	id        TEXT        NOT NULL UNIQUE,
	item_id   TEXT        NOT NULL REFERENCES auction_items(id),
	member_id TEXT        NOT NULL,
	amount    BIGINT      NOT NULL,
	bid_time  TIMESTAMPTZ NOT NULL,
	status    TEXT        NOT NULL,
	reason    TEXT        NOT NULL DEFAULT ''
);
CREATE INDEX IF NOT EXISTS auction_bid_item_idx ON auction_bid(item_id, seq);

CREATE TABLE IF NOT EXISTS auction_session (
	id                TEXT PRIMARY KEY,
	item_id           TEXT        NOT NULL UNIQUE REFERENCES auction_items(id),
	session_key       TEXT        NOT NULL UNIQUE,
	status            TEXT        NOT NULL,
	participant_count INT         NOT NULL DEFAULT 0,
	start_time        TIMESTAMPTZ NOT NULL,
	end_time          TIMESTAMPTZ NOT NULL,
	created_at        TIMESTAMPTZ NOT NULL,
	updated_at        TIMESTAMPTZ NOT NULL
);

CREATE TABLE IF NOT EXISTS auction_participant (
	session_id    TEXT        NOT NULL REFERENCES auction_session(id),
	connection_id TEXT        NOT NULL,
	member_id     TEXT        NOT NULL,
	joined_at     TIMESTAMPTZ NOT NULL,
	last_activity TIMESTAMPTZ NOT NULL,
	active        BOOLEAN     NOT NULL,
	PRIMARY KEY (session_id, connection_id)
);

CREATE TABLE IF NOT EXISTS auction_history (
	id             TEXT PRIMARY KEY,
	item_id        TEXT        NOT NULL REFERENCES auction_items(id),
	member_id      TEXT        NOT NULL,
	my_highest_bid BIGINT      NOT NULL,
	is_winner      BOOLEAN     NOT NULL,
	created_at     TIMESTAMPTZ NOT NULL,
	updated_at     TIMESTAMPTZ NOT NULL,
	UNIQUE (item_id, member_id)
);

CREATE TABLE IF NOT EXISTS auction_delivery (
	id                TEXT PRIMARY KEY,
	history_id        TEXT        NOT NULL UNIQUE REFERENCES auction_history(id),
	item_id           TEXT        NOT NULL,
	member_id         TEXT        NOT NULL,
	receiver_name     TEXT        NOT NULL DEFAULT '',
	receiver_phone    TEXT        NOT NULL DEFAULT '',
	address           TEXT        NOT NULL DEFAULT '',
	address_detail    TEXT        NOT NULL DEFAULT '',
	delivery_input_at TIMESTAMPTZ,
	delivery_deadline TIMESTAMPTZ NOT NULL,
	expired_at        TIMESTAMPTZ,
	created_at        TIMESTAMPTZ NOT NULL,
	updated_at        TIMESTAMPTZ NOT NULL
);
CREATE INDEX IF NOT EXISTS auction_delivery_pending_idx
	ON auction_delivery(delivery_deadline) WHERE delivery_input_at IS NULL AND expired_at IS NULL;
`

func Migrate(ctx context.Context, db *pgxpool.Pool) error {
	_, err := db.Exec(ctx, schema)
	return err
}
