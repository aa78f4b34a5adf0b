package db

const apiUsageDefaultsV2 = `
INSERT OR IGNORE INTO api_usage (service, endpoint, calls_count, daily_limit, last_reset, created)
VALUES
    ('platform', 'general', 0, 1000, strftime('%Y-%m-%dT%H:%M:%S.000000000Z', 'now'), strftime('%Y-%m-%dT%H:%M:%S.000000000Z', 'now')),
    ('llm',      'general', 0, 100,  strftime('%Y-%m-%dT%H:%M:%S.000000000Z', 'now'), strftime('%Y-%m-%dT%H:%M:%S.000000000Z', 'now'));
`
