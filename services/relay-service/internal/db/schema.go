package db

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
)

// Schema creates every relay table. It is idempotent.
const Schema = `
CREATE TABLE IF NOT EXISTS humans (
    id UUID PRIMARY KEY,
    email VARCHAR(255) NOT NULL,
    name VARCHAR(255) NOT NULL,
    email_verified BOOLEAN NOT NULL DEFAULT FALSE,
    created_at TIMESTAMP WITH TIME ZONE NOT NULL
);

CREATE UNIQUE INDEX IF NOT EXISTS idx_humans_email ON humans(LOWER(email));

CREATE TABLE IF NOT EXISTS agents (
    id UUID PRIMARY KEY,
    human_id UUID NOT NULL REFERENCES humans(id) ON DELETE CASCADE,
    name VARCHAR(255) NOT NULL,
    key_prefix VARCHAR(16) NOT NULL,
    key_hash TEXT NOT NULL,
    is_primary BOOLEAN NOT NULL DEFAULT FALSE,
    webhook_url TEXT,
    last_seen_at TIMESTAMP WITH TIME ZONE NOT NULL,
    created_at TIMESTAMP WITH TIME ZONE NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_agents_human_id ON agents(human_id);
CREATE INDEX IF NOT EXISTS idx_agents_key_prefix ON agents(key_prefix);

CREATE TABLE IF NOT EXISTS invites (
    id TEXT PRIMARY KEY,
    code VARCHAR(64) NOT NULL UNIQUE,
    created_by UUID NOT NULL REFERENCES humans(id) ON DELETE CASCADE,
    consumed_by UUID REFERENCES humans(id) ON DELETE SET NULL,
    used BOOLEAN NOT NULL DEFAULT FALSE,
    created_at TIMESTAMP WITH TIME ZONE NOT NULL,
    expires_at TIMESTAMP WITH TIME ZONE NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_invites_expires_at ON invites(expires_at);

CREATE TABLE IF NOT EXISTS connections (
    id TEXT PRIMARY KEY,
    human_a_id UUID NOT NULL REFERENCES humans(id) ON DELETE CASCADE,
    human_b_id UUID NOT NULL REFERENCES humans(id) ON DELETE CASCADE,
    status VARCHAR(16) NOT NULL,
    contract_type VARCHAR(32) NOT NULL,
    created_at TIMESTAMP WITH TIME ZONE NOT NULL
);

-- At most one active connection per unordered pair
CREATE UNIQUE INDEX IF NOT EXISTS idx_connections_active_pair
    ON connections(LEAST(human_a_id, human_b_id), GREATEST(human_a_id, human_b_id))
    WHERE status = 'active';

CREATE TABLE IF NOT EXISTS permissions (
    connection_id TEXT NOT NULL REFERENCES connections(id) ON DELETE CASCADE,
    human_id UUID NOT NULL REFERENCES humans(id) ON DELETE CASCADE,
    category VARCHAR(32) NOT NULL,
    outbound_level VARCHAR(8) NOT NULL,
    inbound_level VARCHAR(8) NOT NULL,
    updated_at TIMESTAMP WITH TIME ZONE NOT NULL,
    PRIMARY KEY (connection_id, human_id, category)
);

CREATE TABLE IF NOT EXISTS threads (
    id TEXT PRIMARY KEY,
    connection_id TEXT NOT NULL REFERENCES connections(id) ON DELETE CASCADE,
    subject TEXT,
    status VARCHAR(16) NOT NULL,
    created_at TIMESTAMP WITH TIME ZONE NOT NULL,
    last_activity_at TIMESTAMP WITH TIME ZONE NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_threads_connection_id ON threads(connection_id);

CREATE TABLE IF NOT EXISTS messages (
    seq BIGSERIAL UNIQUE,
    id TEXT PRIMARY KEY,
    thread_id TEXT NOT NULL REFERENCES threads(id) ON DELETE CASCADE,
    from_agent_id UUID NOT NULL REFERENCES agents(id) ON DELETE CASCADE,
    to_agent_id UUID NOT NULL REFERENCES agents(id) ON DELETE CASCADE,
    message_type VARCHAR(32) NOT NULL,
    category VARCHAR(32),
    content TEXT NOT NULL,
    status VARCHAR(16) NOT NULL,
    created_at TIMESTAMP WITH TIME ZONE NOT NULL,
    acknowledged_at TIMESTAMP WITH TIME ZONE
);

CREATE INDEX IF NOT EXISTS idx_messages_thread_id ON messages(thread_id, created_at);
CREATE INDEX IF NOT EXISTS idx_messages_pending ON messages(to_agent_id, created_at DESC) WHERE status = 'sent';

CREATE TABLE IF NOT EXISTS announcements (
    seq BIGSERIAL UNIQUE,
    id TEXT PRIMARY KEY,
    title VARCHAR(255) NOT NULL,
    content TEXT NOT NULL,
    version VARCHAR(32) NOT NULL,
    active BOOLEAN NOT NULL DEFAULT TRUE,
    created_at TIMESTAMP WITH TIME ZONE NOT NULL
);

CREATE TABLE IF NOT EXISTS announcement_reads (
    announcement_id TEXT NOT NULL REFERENCES announcements(id) ON DELETE CASCADE,
    agent_id UUID NOT NULL REFERENCES agents(id) ON DELETE CASCADE,
    read_at TIMESTAMP WITH TIME ZONE NOT NULL,
    PRIMARY KEY (announcement_id, agent_id)
);
`

// Migrate applies Schema on pool.
func Migrate(ctx context.Context, pool *pgxpool.Pool) error {
	if _, err := pool.Exec(ctx, Schema); err != nil {
		return fmt.Errorf("failed to run migrations: %w", err)
	}
	return nil
}
