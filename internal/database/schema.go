package database

// Statements are applied one by one; the driver is not opened with multiStatements.
var schema = []string{
	`CREATE TABLE IF NOT EXISTS users (
    user_id VARCHAR(191) NOT NULL PRIMARY KEY,
    credits INT NULL,
    email VARCHAR(255),
    name VARCHAR(255),
    picture VARCHAR(1024),
    created_at TIMESTAMP(6) DEFAULT CURRENT_TIMESTAMP(6),
    updated_at TIMESTAMP(6) DEFAULT CURRENT_TIMESTAMP(6) ON UPDATE CURRENT_TIMESTAMP(6),
    CONSTRAINT chk_users_credits CHECK (credits IS NULL OR credits >= 0)
)`,
	`CREATE TABLE IF NOT EXISTS credit_keys (
    idempotency_key VARCHAR(191) NOT NULL PRIMARY KEY,
    user_id VARCHAR(191) NOT NULL,
    amount INT NOT NULL,
    created_at TIMESTAMP(6) DEFAULT CURRENT_TIMESTAMP(6),
    KEY idx_credit_keys_user (user_id),
    FOREIGN KEY (user_id) REFERENCES users(user_id)
)`,
	`CREATE TABLE IF NOT EXISTS user_images (
    id VARCHAR(64) NOT NULL PRIMARY KEY,
    user_id VARCHAR(191) NOT NULL,
    name VARCHAR(255) NOT NULL,
    url VARCHAR(1024) NOT NULL,
    object_key VARCHAR(1024) NOT NULL,
    created_at TIMESTAMP(6) DEFAULT CURRENT_TIMESTAMP(6),
    KEY idx_user_images_user (user_id),
    FOREIGN KEY (user_id) REFERENCES users(user_id)
)`,
	`CREATE TABLE IF NOT EXISTS jobs (
    job_id CHAR(36) NOT NULL PRIMARY KEY,
    user_id VARCHAR(191) NOT NULL,
    status VARCHAR(16) NOT NULL,
    result_ref VARCHAR(1024),
    error_detail TEXT,
    created_at TIMESTAMP(6) NOT NULL,
    updated_at TIMESTAMP(6) NOT NULL,
    KEY idx_jobs_user (user_id)
)`,
	`CREATE TABLE IF NOT EXISTS generation_history (
    user_id VARCHAR(191) NOT NULL,
    created_at TIMESTAMP(6) NOT NULL,
    job_id CHAR(36) NOT NULL,
    result_ref VARCHAR(1024) NOT NULL,
    item_url VARCHAR(2048) NOT NULL,
    selfie_url VARCHAR(2048) NOT NULL,
    site_url VARCHAR(2048),
    site_title VARCHAR(512),
    PRIMARY KEY (user_id, created_at, job_id),
    UNIQUE KEY uniq_history_job (job_id)
)`,
}
