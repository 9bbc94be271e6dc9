package postgresql

func migrations() map[int]string {
	return map[int]string{
		1: `
			-- Template aggregate: templates own nodes, nodes own answer options.
			CREATE TABLE workflow_templates (
				id UUID PRIMARY KEY,
				surgery_id VARCHAR(255),              -- NULL = global scope
				name VARCHAR(255) NOT NULL,
				description TEXT NOT NULL DEFAULT '',
				icon VARCHAR(255),
				colour VARCHAR(64),
				workflow_type VARCHAR(50) NOT NULL CHECK (workflow_type IN ('PRIMARY', 'SUPPORTING', 'MODULE')),
				is_active BOOLEAN NOT NULL DEFAULT true,
				approval_status VARCHAR(50) NOT NULL CHECK (approval_status IN ('DRAFT', 'APPROVED', 'SUPERSEDED')),
				approved_by VARCHAR(255),
				approved_at TIMESTAMP WITH TIME ZONE,
				last_edited_by VARCHAR(255),
				last_edited_at TIMESTAMP WITH TIME ZONE,
				source_template_id UUID,
				created_at TIMESTAMP WITH TIME ZONE NOT NULL,
				updated_at TIMESTAMP WITH TIME ZONE NOT NULL,
				deleted_at TIMESTAMP WITH TIME ZONE
			);

			CREATE INDEX idx_workflow_templates_surgery_id ON workflow_templates(surgery_id);
			CREATE INDEX idx_workflow_templates_source_template_id ON workflow_templates(source_template_id);
			CREATE INDEX idx_workflow_templates_approval_status ON workflow_templates(approval_status);
			CREATE INDEX idx_workflow_templates_deleted_at ON workflow_templates(deleted_at);

			CREATE TABLE workflow_nodes (
				template_id UUID NOT NULL REFERENCES workflow_templates(id) ON DELETE CASCADE,
				id UUID NOT NULL,
				node_type VARCHAR(50) NOT NULL CHECK (node_type IN ('INSTRUCTION', 'QUESTION', 'END')),
				title VARCHAR(255) NOT NULL,
				body TEXT NOT NULL DEFAULT '',
				sort_order INT NOT NULL DEFAULT 0,
				is_start BOOLEAN NOT NULL DEFAULT false,
				action_key VARCHAR(50) NOT NULL DEFAULT '',
				default_next_node_id UUID,
				position_x INT NOT NULL DEFAULT 0,
				position_y INT NOT NULL DEFAULT 0,
				created_at TIMESTAMP WITH TIME ZONE NOT NULL DEFAULT NOW(),
				PRIMARY KEY (template_id, id)
			);

			CREATE INDEX idx_workflow_nodes_template_id ON workflow_nodes(template_id);
			CREATE INDEX idx_workflow_nodes_is_start ON workflow_nodes(template_id, is_start);

			CREATE TABLE workflow_answer_options (
				template_id UUID NOT NULL,
				node_id UUID NOT NULL,
				id UUID NOT NULL,
				label VARCHAR(255) NOT NULL,
				value_key VARCHAR(255) NOT NULL,
				description TEXT NOT NULL DEFAULT '',
				next_node_id UUID,
				action_key VARCHAR(50) NOT NULL DEFAULT '',
				created_at TIMESTAMP WITH TIME ZONE NOT NULL DEFAULT NOW(),
				PRIMARY KEY (template_id, id),
				FOREIGN KEY (template_id, node_id) REFERENCES workflow_nodes(template_id, id) ON DELETE CASCADE
			);

			CREATE INDEX idx_workflow_answer_options_node ON workflow_answer_options(template_id, node_id);
		`,
		2: `
			-- Instances carry a by-value snapshot of the graph they execute,
			-- so template edits cannot break a walk already in progress.
			CREATE TABLE workflow_instances (
				id UUID PRIMARY KEY,
				template_id UUID NOT NULL,
				surgery_id VARCHAR(255) NOT NULL,
				started_by VARCHAR(255) NOT NULL,
				status VARCHAR(50) NOT NULL CHECK (status IN ('ACTIVE', 'COMPLETED', 'CANCELLED')),
				reference TEXT NOT NULL DEFAULT '',
				current_node_id UUID,
				result_action_key VARCHAR(50) NOT NULL DEFAULT '',
				version BIGINT NOT NULL DEFAULT 1,
				snapshot JSONB NOT NULL,
				created_at TIMESTAMP WITH TIME ZONE NOT NULL,
				updated_at TIMESTAMP WITH TIME ZONE NOT NULL,
				completed_at TIMESTAMP WITH TIME ZONE
			);

			CREATE INDEX idx_workflow_instances_template_id ON workflow_instances(template_id);
			CREATE INDEX idx_workflow_instances_surgery_id ON workflow_instances(surgery_id);
			CREATE INDEX idx_workflow_instances_status ON workflow_instances(status);
			CREATE INDEX idx_workflow_instances_created_at ON workflow_instances(created_at);

			CREATE TABLE workflow_instance_history (
				id UUID PRIMARY KEY,
				instance_id UUID NOT NULL REFERENCES workflow_instances(id) ON DELETE CASCADE,
				node_id UUID NOT NULL,
				option_id UUID,
				value_key VARCHAR(255) NOT NULL DEFAULT '',
				actor VARCHAR(255) NOT NULL,
				created_at TIMESTAMP WITH TIME ZONE NOT NULL
			);

			CREATE INDEX idx_workflow_instance_history_instance_id ON workflow_instance_history(instance_id);
		`,
	}
}
