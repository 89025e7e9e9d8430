package db

const installScript = `
BEGIN;

CREATE TABLE IF NOT EXISTS servers (
	id VARCHAR(14) PRIMARY KEY CHECK (id <> ''),
	owner_id VARCHAR(32) NOT NULL,
	name VARCHAR(64) NOT NULL,
	monthly_cost_cents BIGINT NOT NULL CHECK (monthly_cost_cents > 0),
	billing_day INT NOT NULL CHECK (billing_day BETWEEN 1 AND 31),
	min_charge_cents BIGINT NOT NULL DEFAULT 200,
	pledge_count INT NOT NULL DEFAULT 0,
	is_active BOOLEAN NOT NULL DEFAULT TRUE,
	payout_account_id VARCHAR(64) NULL,
	created_at TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS pledges (
	id VARCHAR(14) PRIMARY KEY CHECK (id <> ''),
	payer_id VARCHAR(32) NOT NULL,
	server_id VARCHAR(14) NOT NULL REFERENCES servers (id),
	amount_cents BIGINT NOT NULL CHECK (amount_cents > 0),
	status VARCHAR(8) NOT NULL DEFAULT 'active',
	created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
	UNIQUE (payer_id, server_id)
);

CREATE TABLE IF NOT EXISTS settlements (
	id VARCHAR(14) PRIMARY KEY CHECK (id <> ''),
	server_id VARCHAR(14) NOT NULL REFERENCES servers (id),
	period VARCHAR(7) NOT NULL,
	scheduled_date TIMESTAMPTZ NOT NULL,
	status VARCHAR(10) NOT NULL DEFAULT 'pending',
	requested_cents BIGINT NOT NULL DEFAULT 0,
	actual_cents BIGINT NOT NULL DEFAULT 0,
	created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
	completed_at TIMESTAMPTZ NULL,
	UNIQUE (server_id, period)
);

CREATE TABLE IF NOT EXISTS payer_accounts (
	id VARCHAR(32) PRIMARY KEY CHECK (id <> ''),
	failure_count INT NOT NULL DEFAULT 0,
	is_payment_suspended BOOLEAN NOT NULL DEFAULT FALSE,
	payment_suspended_at TIMESTAMPTZ NULL,
	last_payment_failure TIMESTAMPTZ NULL
);

CREATE TABLE IF NOT EXISTS credentials (
	payer_id VARCHAR(32) PRIMARY KEY CHECK (payer_id <> ''),
	token VARCHAR(128) NOT NULL CHECK (token <> '')
);

COMMIT;
`
