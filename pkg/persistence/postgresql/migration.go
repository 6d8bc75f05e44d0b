package postgresql

// migrations returns the versioned schema for the flow engine. The
// partial unique index on (automation_id, identity) is the
// at-most-one-active-enrollment guard; Create relies on the database
// rejecting the second insert, not on a read-then-write check.
func migrations() map[int]string {
	return map[int]string{
		1: `
			CREATE TABLE IF NOT EXISTS automations (
				id VARCHAR(255) PRIMARY KEY,
				account_id VARCHAR(255) NOT NULL DEFAULT '',
				name VARCHAR(255) NOT NULL,
				trigger_type VARCHAR(64) NOT NULL,
				reentry VARCHAR(16) NOT NULL DEFAULT 'once',
				active BOOLEAN NOT NULL DEFAULT FALSE,
				nodes JSONB NOT NULL DEFAULT '[]',
				edges JSONB NOT NULL DEFAULT '[]',
				created_at TIMESTAMP WITH TIME ZONE NOT NULL DEFAULT NOW(),
				updated_at TIMESTAMP WITH TIME ZONE NOT NULL DEFAULT NOW()
			);

			CREATE INDEX IF NOT EXISTS idx_automations_trigger
				ON automations (trigger_type) WHERE active;

			CREATE TABLE IF NOT EXISTS enrollments (
				id VARCHAR(255) PRIMARY KEY,
				automation_id VARCHAR(255) NOT NULL REFERENCES automations(id),
				identity VARCHAR(255) NOT NULL,
				event_id VARCHAR(255) NOT NULL DEFAULT '',
				current_node_id VARCHAR(255) NOT NULL DEFAULT '',
				status VARCHAR(16) NOT NULL,
				wake_at TIMESTAMP WITH TIME ZONE,
				lock_token VARCHAR(64) NOT NULL DEFAULT '',
				claimed_by VARCHAR(255) NOT NULL DEFAULT '',
				claim_expires_at TIMESTAMP WITH TIME ZONE,
				claimed_from VARCHAR(16) NOT NULL DEFAULT '',
				attempt_node_id VARCHAR(255) NOT NULL DEFAULT '',
				attempt_count INTEGER NOT NULL DEFAULT 0,
				last_error TEXT NOT NULL DEFAULT '',
				goals JSONB NOT NULL DEFAULT '[]',
				version BIGINT NOT NULL DEFAULT 0,
				enrolled_at TIMESTAMP WITH TIME ZONE NOT NULL DEFAULT NOW(),
				last_advanced_at TIMESTAMP WITH TIME ZONE NOT NULL DEFAULT NOW()
			);

			CREATE UNIQUE INDEX IF NOT EXISTS idx_enrollments_one_active
				ON enrollments (automation_id, identity)
				WHERE status NOT IN ('completed', 'exited', 'failed');

			CREATE INDEX IF NOT EXISTS idx_enrollments_due
				ON enrollments (wake_at)
				WHERE status IN ('active', 'waiting');

			CREATE INDEX IF NOT EXISTS idx_enrollments_claim_expiry
				ON enrollments (claim_expires_at)
				WHERE status = 'claimed';

			CREATE INDEX IF NOT EXISTS idx_enrollments_event
				ON enrollments (automation_id, event_id);
		`,
	}
}
