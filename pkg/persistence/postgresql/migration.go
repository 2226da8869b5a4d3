package postgresql

// migrations returns the schema migrations keyed by version.
func migrations() map[int]string {
	return map[int]string{
		1: migrationV1,
	}
}

const migrationV1 = `
	CREATE TABLE IF NOT EXISTS workflows (
		id UUID PRIMARY KEY,
		name VARCHAR(255) NOT NULL,
		description TEXT,
		status VARCHAR(50) NOT NULL DEFAULT 'draft',
		tenant_schema VARCHAR(255),
		timeout_minutes INTEGER NOT NULL DEFAULT 0,
		variables JSONB,
		metadata JSONB,
		created_at TIMESTAMP WITH TIME ZONE DEFAULT NOW(),
		updated_at TIMESTAMP WITH TIME ZONE DEFAULT NOW()
	);

	CREATE TABLE IF NOT EXISTS trigger_instances (
		id UUID PRIMARY KEY,
		workflow_id UUID NOT NULL REFERENCES workflows(id) ON DELETE CASCADE,
		trigger_type VARCHAR(100) NOT NULL,
		name VARCHAR(255) NOT NULL,
		is_active BOOLEAN NOT NULL DEFAULT TRUE,
		config JSONB,
		max_executions_per_minute INTEGER NOT NULL DEFAULT 0,
		max_executions_per_hour INTEGER NOT NULL DEFAULT 0,
		max_executions_per_day INTEGER NOT NULL DEFAULT 0,
		execution_count INTEGER NOT NULL DEFAULT 0,
		failure_count INTEGER NOT NULL DEFAULT 0,
		last_triggered_at TIMESTAMP WITH TIME ZONE,
		created_at TIMESTAMP WITH TIME ZONE DEFAULT NOW(),
		updated_at TIMESTAMP WITH TIME ZONE DEFAULT NOW()
	);

	CREATE INDEX IF NOT EXISTS idx_trigger_instances_active_type
		ON trigger_instances (trigger_type) WHERE is_active;
	CREATE INDEX IF NOT EXISTS idx_trigger_instances_workflow
		ON trigger_instances (workflow_id);

	CREATE TABLE IF NOT EXISTS executions (
		id UUID PRIMARY KEY,
		workflow_id UUID NOT NULL,
		parent_execution_id UUID,
		status VARCHAR(50) NOT NULL DEFAULT 'pending',
		trigger_data JSONB,
		context_data JSONB,
		error_message TEXT,
		failed_node_id VARCHAR(255),
		triggered_by_id VARCHAR(255),
		started_at TIMESTAMP WITH TIME ZONE DEFAULT NOW(),
		completed_at TIMESTAMP WITH TIME ZONE
	);

	CREATE INDEX IF NOT EXISTS idx_executions_workflow_started
		ON executions (workflow_id, started_at DESC);
	CREATE INDEX IF NOT EXISTS idx_executions_failed
		ON executions (workflow_id, started_at DESC) WHERE status = 'failed';

	CREATE TABLE IF NOT EXISTS execution_logs (
		id UUID PRIMARY KEY,
		execution_id UUID NOT NULL,
		node_id VARCHAR(255) NOT NULL,
		node_name VARCHAR(255),
		node_type VARCHAR(100),
		status VARCHAR(50) NOT NULL,
		output JSONB,
		error_message TEXT,
		started_at TIMESTAMP WITH TIME ZONE DEFAULT NOW(),
		completed_at TIMESTAMP WITH TIME ZONE,
		duration_ms BIGINT NOT NULL DEFAULT 0
	);

	CREATE INDEX IF NOT EXISTS idx_execution_logs_execution
		ON execution_logs (execution_id, started_at);

	CREATE TABLE IF NOT EXISTS checkpoints (
		id UUID PRIMARY KEY,
		workflow_id UUID,
		execution_id UUID NOT NULL,
		checkpoint_type VARCHAR(50) NOT NULL,
		node_id VARCHAR(255),
		sequence_number INTEGER NOT NULL,
		execution_state JSONB,
		context_data JSONB,
		node_outputs JSONB,
		description TEXT,
		is_recoverable BOOLEAN NOT NULL DEFAULT TRUE,
		is_milestone BOOLEAN NOT NULL DEFAULT FALSE,
		checkpoint_size_bytes INTEGER NOT NULL DEFAULT 0,
		created_at TIMESTAMP WITH TIME ZONE DEFAULT NOW(),
		expires_at TIMESTAMP WITH TIME ZONE,
		UNIQUE (execution_id, sequence_number)
	);

	CREATE INDEX IF NOT EXISTS idx_checkpoints_recoverable
		ON checkpoints (execution_id, sequence_number DESC) WHERE is_recoverable;
	CREATE INDEX IF NOT EXISTS idx_checkpoints_expiry
		ON checkpoints (expires_at);

	CREATE TABLE IF NOT EXISTS recovery_strategies (
		id UUID PRIMARY KEY,
		name VARCHAR(255) NOT NULL,
		strategy_type VARCHAR(50) NOT NULL,
		workflow_id UUID,
		node_type VARCHAR(100),
		error_patterns JSONB,
		max_retry_attempts INTEGER NOT NULL DEFAULT 0,
		retry_delay_seconds INTEGER NOT NULL DEFAULT 0,
		backoff_multiplier DOUBLE PRECISION NOT NULL DEFAULT 1,
		recovery_actions JSONB,
		is_active BOOLEAN NOT NULL DEFAULT TRUE,
		priority INTEGER NOT NULL DEFAULT 0,
		usage_count INTEGER NOT NULL DEFAULT 0,
		success_count INTEGER NOT NULL DEFAULT 0,
		last_used_at TIMESTAMP WITH TIME ZONE,
		created_at TIMESTAMP WITH TIME ZONE DEFAULT NOW(),
		updated_at TIMESTAMP WITH TIME ZONE DEFAULT NOW()
	);

	CREATE INDEX IF NOT EXISTS idx_recovery_strategies_active
		ON recovery_strategies (priority DESC) WHERE is_active;

	CREATE TABLE IF NOT EXISTS recovery_logs (
		id UUID PRIMARY KEY,
		workflow_id UUID,
		execution_id UUID NOT NULL,
		checkpoint_id UUID,
		strategy_id UUID,
		recovery_type VARCHAR(50) NOT NULL,
		trigger_reason VARCHAR(50) NOT NULL,
		original_error TEXT,
		failed_node_id VARCHAR(255),
		failed_node_name VARCHAR(255),
		status VARCHAR(50) NOT NULL DEFAULT 'pending',
		attempt_number INTEGER NOT NULL DEFAULT 1,
		recovery_error TEXT,
		recovery_actions_taken JSONB,
		started_at TIMESTAMP WITH TIME ZONE DEFAULT NOW(),
		completed_at TIMESTAMP WITH TIME ZONE,
		duration_seconds DOUBLE PRECISION NOT NULL DEFAULT 0,
		was_successful BOOLEAN,
		new_execution_id UUID
	);

	CREATE INDEX IF NOT EXISTS idx_recovery_logs_execution
		ON recovery_logs (execution_id, started_at DESC);
	CREATE INDEX IF NOT EXISTS idx_recovery_logs_workflow_started
		ON recovery_logs (workflow_id, started_at DESC);

	CREATE TABLE IF NOT EXISTS replay_sessions (
		id UUID PRIMARY KEY,
		workflow_id UUID,
		original_execution_id UUID NOT NULL,
		replay_from_checkpoint_id UUID,
		replay_type VARCHAR(50) NOT NULL DEFAULT 'full',
		modified_inputs JSONB,
		modified_context JSONB,
		skip_nodes JSONB,
		debug_mode BOOLEAN NOT NULL DEFAULT FALSE,
		status VARCHAR(50) NOT NULL DEFAULT 'created',
		replay_execution_id UUID,
		created_at TIMESTAMP WITH TIME ZONE DEFAULT NOW(),
		started_at TIMESTAMP WITH TIME ZONE,
		completed_at TIMESTAMP WITH TIME ZONE
	);
`
