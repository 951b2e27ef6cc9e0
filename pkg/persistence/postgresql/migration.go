package postgresql

func migrations() map[int]string {
	return map[int]string{
		1: `
			CREATE TABLE stories (
				story_id VARCHAR(64) PRIMARY KEY,
				schema INT NOT NULL DEFAULT 1,
				feature_id VARCHAR(255) NOT NULL,
				type VARCHAR(32) NOT NULL CHECK (type IN ('feature', 'enhancement', 'bug', 'tech-debt', 'spike', 'infrastructure', 'documentation')),
				state VARCHAR(32) NOT NULL CHECK (state IN ('draft', 'backlog', 'ready-to-work', 'in-progress', 'ready-for-qa', 'uat', 'done', 'cancelled')),
				title TEXT NOT NULL,
				goal TEXT NOT NULL DEFAULT '',
				points INT,
				priority VARCHAR(16) NOT NULL DEFAULT 'medium' CHECK (priority IN ('critical', 'high', 'medium', 'low')),
				blocked_by VARCHAR(64),
				depends_on JSONB NOT NULL DEFAULT '[]',
				follow_up_from VARCHAR(64),
				packages JSONB NOT NULL DEFAULT '[]',
				surfaces JSONB NOT NULL DEFAULT '[]',
				non_goals JSONB NOT NULL DEFAULT '[]',
				acs JSONB NOT NULL DEFAULT '[]',
				risks JSONB NOT NULL DEFAULT '[]',
				created_at TIMESTAMP WITH TIME ZONE NOT NULL,
				updated_at TIMESTAMP WITH TIME ZONE NOT NULL
			);

			CREATE INDEX idx_stories_state ON stories(state);
			CREATE INDEX idx_stories_feature ON stories(feature_id);

			CREATE TABLE story_state_transitions (
				id BIGSERIAL PRIMARY KEY,
				story_id VARCHAR(64) NOT NULL REFERENCES stories(story_id),
				from_state VARCHAR(32),
				to_state VARCHAR(32) NOT NULL,
				actor VARCHAR(255) NOT NULL,
				reason TEXT NOT NULL DEFAULT '',
				created_at TIMESTAMP WITH TIME ZONE NOT NULL DEFAULT NOW()
			);

			CREATE INDEX idx_story_state_transitions_story ON story_state_transitions(story_id);

			CREATE TABLE story_dependencies (
				story_id VARCHAR(64) NOT NULL REFERENCES stories(story_id),
				depends_on VARCHAR(64) NOT NULL,
				PRIMARY KEY (story_id, depends_on)
			);
		`,
		2: `
			CREATE TABLE elaborations (
				id BIGSERIAL PRIMARY KEY,
				story_id VARCHAR(64) NOT NULL REFERENCES stories(story_id),
				version INT NOT NULL,
				content JSONB NOT NULL,
				readiness_score INT,
				gaps_count INT NOT NULL DEFAULT 0,
				created_by VARCHAR(255) NOT NULL,
				created_at TIMESTAMP WITH TIME ZONE NOT NULL DEFAULT NOW(),
				UNIQUE (story_id, version)
			);

			CREATE TABLE implementation_plans (
				id BIGSERIAL PRIMARY KEY,
				story_id VARCHAR(64) NOT NULL REFERENCES stories(story_id),
				version INT NOT NULL,
				content JSONB NOT NULL,
				created_by VARCHAR(255) NOT NULL,
				created_at TIMESTAMP WITH TIME ZONE NOT NULL DEFAULT NOW(),
				UNIQUE (story_id, version)
			);

			CREATE TABLE verifications (
				id BIGSERIAL PRIMARY KEY,
				story_id VARCHAR(64) NOT NULL REFERENCES stories(story_id),
				version INT NOT NULL,
				type VARCHAR(32) NOT NULL CHECK (type IN ('qa_verify', 'review', 'uat')),
				content JSONB NOT NULL,
				verdict VARCHAR(32) NOT NULL DEFAULT '',
				issues_count INT NOT NULL DEFAULT 0,
				created_by VARCHAR(255) NOT NULL,
				created_at TIMESTAMP WITH TIME ZONE NOT NULL DEFAULT NOW(),
				UNIQUE (story_id, type, version)
			);

			CREATE TABLE proofs (
				id BIGSERIAL PRIMARY KEY,
				story_id VARCHAR(64) NOT NULL REFERENCES stories(story_id),
				version INT NOT NULL,
				content JSONB NOT NULL,
				acs_passing INT NOT NULL DEFAULT 0,
				acs_total INT NOT NULL DEFAULT 0,
				files_touched INT NOT NULL DEFAULT 0,
				all_acs_verified BOOLEAN NOT NULL DEFAULT FALSE,
				created_by VARCHAR(255) NOT NULL,
				created_at TIMESTAMP WITH TIME ZONE NOT NULL DEFAULT NOW(),
				UNIQUE (story_id, version)
			);

			CREATE TABLE token_usage (
				id BIGSERIAL PRIMARY KEY,
				story_id VARCHAR(64) NOT NULL REFERENCES stories(story_id),
				phase VARCHAR(32) NOT NULL,
				tokens_input BIGINT NOT NULL DEFAULT 0,
				tokens_output BIGINT NOT NULL DEFAULT 0,
				model VARCHAR(255) NOT NULL DEFAULT '',
				agent_name VARCHAR(255) NOT NULL DEFAULT '',
				created_at TIMESTAMP WITH TIME ZONE NOT NULL DEFAULT NOW()
			);

			CREATE INDEX idx_token_usage_story_phase ON token_usage(story_id, phase);
		`,
		3: `
			CREATE TABLE graph_checkpoints (
				id BIGSERIAL PRIMARY KEY,
				story_id VARCHAR(64) NOT NULL REFERENCES stories(story_id),
				version INT NOT NULL,
				state JSONB NOT NULL,
				created_by VARCHAR(255) NOT NULL,
				created_at TIMESTAMP WITH TIME ZONE NOT NULL DEFAULT NOW(),
				UNIQUE (story_id, version)
			);

			CREATE INDEX idx_graph_checkpoints_story ON graph_checkpoints(story_id);
		`,
	}
}
