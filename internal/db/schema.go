package db

import "fmt"

// Schema returns the database schema initialization SQL. The embedding
// dimension must match the configured embedding model because HNSW index
// dimensions cannot be parameterized.
func Schema(embedDimension int) string {
	return fmt.Sprintf(`
    -- ==========================================================================
    -- ITEM TABLE (scoped knowledge base content, written by the ingestion side)
    -- ==========================================================================
    DEFINE TABLE IF NOT EXISTS item SCHEMAFULL;
    DEFINE FIELD IF NOT EXISTS user_id ON item TYPE string;
    DEFINE FIELD IF NOT EXISTS scope_id ON item TYPE string;
    DEFINE FIELD IF NOT EXISTS title ON item TYPE string;
    DEFINE FIELD IF NOT EXISTS source_url ON item TYPE option<string>;
    DEFINE FIELD IF NOT EXISTS kind ON item TYPE string DEFAULT "document";
    DEFINE FIELD IF NOT EXISTS metadata ON item TYPE option<object> FLEXIBLE;
    DEFINE FIELD IF NOT EXISTS created_at ON item TYPE datetime DEFAULT time::now();

    DEFINE INDEX IF NOT EXISTS item_user ON item FIELDS user_id;
    DEFINE INDEX IF NOT EXISTS item_scope ON item FIELDS scope_id;

    -- ==========================================================================
    -- CHUNK TABLE (embedded sub-pieces of items)
    -- ==========================================================================
    DEFINE TABLE IF NOT EXISTS chunk SCHEMAFULL;
    DEFINE FIELD IF NOT EXISTS item ON chunk TYPE record<item>;
    DEFINE FIELD IF NOT EXISTS position ON chunk TYPE int;
    DEFINE FIELD IF NOT EXISTS preview ON chunk TYPE string;
    DEFINE FIELD IF NOT EXISTS embedding ON chunk TYPE array<float>;
    DEFINE FIELD IF NOT EXISTS created_at ON chunk TYPE datetime DEFAULT time::now();

    DEFINE INDEX IF NOT EXISTS chunk_item ON chunk FIELDS item;
    DEFINE INDEX IF NOT EXISTS chunk_embedding ON chunk FIELDS embedding HNSW DIMENSION %d DIST COSINE TYPE F32;

    -- ==========================================================================
    -- JOB TABLE (async map-reduce query jobs)
    -- ==========================================================================
    DEFINE TABLE IF NOT EXISTS job SCHEMAFULL;
    DEFINE FIELD IF NOT EXISTS user_id ON job TYPE string;
    DEFINE FIELD IF NOT EXISTS conversation_id ON job TYPE string;
    DEFINE FIELD IF NOT EXISTS message_id ON job TYPE option<string>;
    DEFINE FIELD IF NOT EXISTS job_type ON job TYPE string;
    DEFINE FIELD IF NOT EXISTS intent ON job TYPE option<object> FLEXIBLE;
    DEFINE FIELD IF NOT EXISTS query ON job TYPE string;
    DEFINE FIELD IF NOT EXISTS scope_ids ON job TYPE array<string> DEFAULT [];
    DEFINE FIELD IF NOT EXISTS status ON job TYPE string DEFAULT "queued";
    DEFINE FIELD IF NOT EXISTS phase ON job TYPE string DEFAULT "initialization";
    DEFINE FIELD IF NOT EXISTS progress ON job TYPE float DEFAULT 0.0;
    DEFINE FIELD IF NOT EXISTS total_batches ON job TYPE int DEFAULT 0;
    DEFINE FIELD IF NOT EXISTS processed_batches ON job TYPE int DEFAULT 0;
    DEFINE FIELD IF NOT EXISTS failed_batches ON job TYPE int DEFAULT 0;
    DEFINE FIELD IF NOT EXISTS total_items ON job TYPE int DEFAULT 0;
    DEFINE FIELD IF NOT EXISTS processed_items ON job TYPE int DEFAULT 0;
    DEFINE FIELD IF NOT EXISTS result ON job TYPE option<object> FLEXIBLE;
    DEFINE FIELD IF NOT EXISTS aggregation_details ON job TYPE option<object> FLEXIBLE;
    DEFINE FIELD IF NOT EXISTS map_results ON job TYPE option<array<object>>;
    -- Note: Must REMOVE then DEFINE to ensure FLEXIBLE is set (IF NOT EXISTS won't update existing field)
    REMOVE FIELD IF EXISTS map_results.* ON job;
    DEFINE FIELD map_results.* ON job TYPE object FLEXIBLE;
    DEFINE FIELD IF NOT EXISTS error_kind ON job TYPE option<string>;
    DEFINE FIELD IF NOT EXISTS error_message ON job TYPE option<string>;
    DEFINE FIELD IF NOT EXISTS started_at ON job TYPE datetime DEFAULT time::now();
    DEFINE FIELD IF NOT EXISTS completed_at ON job TYPE option<datetime>;
    DEFINE FIELD IF NOT EXISTS estimated_seconds ON job TYPE float DEFAULT 0.0;
    DEFINE FIELD IF NOT EXISTS actual_seconds ON job TYPE option<float>;

    DEFINE INDEX IF NOT EXISTS job_user ON job FIELDS user_id;
    DEFINE INDEX IF NOT EXISTS job_conversation ON job FIELDS conversation_id;
    DEFINE INDEX IF NOT EXISTS job_status ON job FIELDS status;

    -- ==========================================================================
    -- CONVERSATION TABLE
    -- ==========================================================================
    DEFINE TABLE IF NOT EXISTS conversation SCHEMAFULL;
    DEFINE FIELD IF NOT EXISTS user_id ON conversation TYPE string;
    DEFINE FIELD IF NOT EXISTS title ON conversation TYPE string DEFAULT "";
    DEFINE FIELD IF NOT EXISTS created_at ON conversation TYPE datetime DEFAULT time::now();
    DEFINE FIELD IF NOT EXISTS updated_at ON conversation TYPE datetime DEFAULT time::now();

    DEFINE INDEX IF NOT EXISTS conversation_user ON conversation FIELDS user_id;

    -- ==========================================================================
    -- MESSAGE TABLE
    -- ==========================================================================
    DEFINE TABLE IF NOT EXISTS message SCHEMAFULL;
    DEFINE FIELD IF NOT EXISTS conversation ON message TYPE record<conversation>;
    DEFINE FIELD IF NOT EXISTS user_id ON message TYPE string;
    DEFINE FIELD IF NOT EXISTS role ON message TYPE string ASSERT $value IN ["user", "assistant"];
    DEFINE FIELD IF NOT EXISTS content ON message TYPE string;
    DEFINE FIELD IF NOT EXISTS metadata ON message TYPE option<object> FLEXIBLE;
    DEFINE FIELD IF NOT EXISTS job_id ON message TYPE option<string>;
    DEFINE FIELD IF NOT EXISTS created_at ON message TYPE datetime DEFAULT time::now();

    DEFINE INDEX IF NOT EXISTS message_conversation ON message FIELDS conversation;
`, embedDimension)
}
