package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/Mugen-Finance/token-lists/internal/model"
)

const schema = `
CREATE TABLE IF NOT EXISTS dex_pairs (
	chain_id      BIGINT  NOT NULL,
	network       TEXT    NOT NULL,
	protocol      TEXT    NOT NULL,
	pair_address  TEXT    NOT NULL,
	kind          TEXT    NOT NULL,
	token_a       TEXT    NOT NULL,
	token_b       TEXT    NOT NULL,
	fee_tier      INTEGER,
	tick_spacing  INTEGER,
	is_stable     BOOLEAN,
	block_number  BIGINT  NOT NULL,
	tx_hash       TEXT    NOT NULL,
	created_at    TIMESTAMPTZ NOT NULL DEFAULT now(),
	updated_at    TIMESTAMPTZ NOT NULL DEFAULT now(),
	PRIMARY KEY (chain_id, pair_address)
);

CREATE TABLE IF NOT EXISTS tokens (
	chain_id    BIGINT   NOT NULL,
	network     TEXT     NOT NULL,
	address     TEXT     NOT NULL,
	name        TEXT     NOT NULL,
	symbol      TEXT     NOT NULL,
	decimals    SMALLINT NOT NULL,
	created_at  TIMESTAMPTZ NOT NULL DEFAULT now(),
	updated_at  TIMESTAMPTZ NOT NULL DEFAULT now(),
	PRIMARY KEY (chain_id, address)
);

CREATE TABLE IF NOT EXISTS harvester_state (
	name                  TEXT   PRIMARY KEY,
	last_processed_block  BIGINT NOT NULL,
	updated_at            TIMESTAMPTZ NOT NULL DEFAULT now()
);
`

// Store mirrors pairs and token metadata into Postgres.
type Store struct {
	pool *pgxpool.Pool
}

func NewStore(ctx context.Context, dsn string) (*Store, error) {
	if dsn == "" {
		return nil, fmt.Errorf("pg dsn is required")
	}
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, err
	}
	return &Store{pool: pool}, nil
}

func (s *Store) Close() {
	if s.pool != nil {
		s.pool.Close()
	}
}

// Migrate creates the tables the store writes to.
func (s *Store) Migrate(ctx context.Context) error {
	if _, err := s.pool.Exec(ctx, schema); err != nil {
		return fmt.Errorf("migrate: %w", err)
	}
	return nil
}

// UpsertPairs inserts or updates decoded pairs. The earliest creation block
// wins on conflict.
func (s *Store) UpsertPairs(ctx context.Context, chainID uint64, network, protocol string, pairs []model.PairRecord) error {
	if len(pairs) == 0 {
		return nil
	}
	batch := &pgx.Batch{}
	for _, pair := range pairs {
		var fee, tickSpacing *int32
		if pair.Kind == model.KindConcentrated {
			f := int32(pair.FeeTier)
			fee = &f
			ts := pair.TickSpacing
			tickSpacing = &ts
		}
		batch.Queue(`
			INSERT INTO dex_pairs (
				chain_id, network, protocol, pair_address, kind, token_a, token_b,
				fee_tier, tick_spacing, is_stable, block_number, tx_hash, created_at, updated_at
			) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, now(), now())
			ON CONFLICT (chain_id, pair_address)
			DO UPDATE SET
				network = EXCLUDED.network,
				protocol = EXCLUDED.protocol,
				kind = EXCLUDED.kind,
				token_a = EXCLUDED.token_a,
				token_b = EXCLUDED.token_b,
				fee_tier = EXCLUDED.fee_tier,
				tick_spacing = EXCLUDED.tick_spacing,
				is_stable = EXCLUDED.is_stable,
				block_number = LEAST(dex_pairs.block_number, EXCLUDED.block_number),
				updated_at = now()
		`,
			int64(chainID),
			network,
			protocol,
			model.CanonicalAddress(pair.PairAddress),
			string(pair.Kind),
			model.CanonicalAddress(pair.TokenA),
			model.CanonicalAddress(pair.TokenB),
			fee,
			tickSpacing,
			pair.Stable,
			int64(pair.BlockNumber),
			pair.TxHash.Hex(),
		)
	}
	return s.sendBatch(ctx, batch, len(pairs))
}

// UpsertTokens inserts or updates token metadata.
func (s *Store) UpsertTokens(ctx context.Context, chainID uint64, network string, tokens []model.TokenMetadata) error {
	if len(tokens) == 0 {
		return nil
	}
	batch := &pgx.Batch{}
	for _, token := range tokens {
		batch.Queue(`
			INSERT INTO tokens (chain_id, network, address, name, symbol, decimals, created_at, updated_at)
			VALUES ($1, $2, $3, $4, $5, $6, now(), now())
			ON CONFLICT (chain_id, address)
			DO UPDATE SET
				name = EXCLUDED.name,
				symbol = EXCLUDED.symbol,
				decimals = EXCLUDED.decimals,
				updated_at = now()
		`,
			int64(chainID),
			network,
			model.CanonicalAddress(token.Address),
			token.Name,
			token.Symbol,
			int16(token.Decimals),
		)
	}
	return s.sendBatch(ctx, batch, len(tokens))
}

func (s *Store) sendBatch(ctx context.Context, batch *pgx.Batch, n int) error {
	br := s.pool.SendBatch(ctx, batch)
	defer br.Close()

	for i := 0; i < n; i++ {
		if _, err := br.Exec(); err != nil {
			return err
		}
	}
	return nil
}

// SaveState upserts the last processed block for a name. The file
// checkpoint is what resumption reads.
func (s *Store) SaveState(ctx context.Context, name string, block uint64) error {
	if name == "" {
		return fmt.Errorf("state name required")
	}
	_, err := s.pool.Exec(ctx, `
		INSERT INTO harvester_state (name, last_processed_block, updated_at)
		VALUES ($1, $2, now())
		ON CONFLICT (name) DO UPDATE
		SET last_processed_block = EXCLUDED.last_processed_block, updated_at = now()
	`, name, int64(block))
	return err
}
