package database

import (
	"context"
	"fmt"
	"strings"

	"cloud.google.com/go/spanner"
	"google.golang.org/api/iterator"
	"google.golang.org/grpc/codes"
)

// mutationBatch keeps each commit well under the Spanner mutation limit.
const mutationBatch = 500

// Client is the Spanner warehouse.
type Client struct {
	client *spanner.Client
}

// NewClient connects to projects/{projectID}/instances/{instance}/databases/{database}.
func NewClient(ctx context.Context, projectID, instance, database string) (*Client, error) {
	db := fmt.Sprintf("projects/%s/instances/%s/databases/%s", projectID, instance, database)
	client, err := spanner.NewClient(ctx, db)
	if err != nil {
		return nil, fmt.Errorf("failed to create spanner client: %w", err)
	}
	return &Client{client: client}, nil
}

// Close closes the Spanner client.
func (c *Client) Close() error {
	c.client.Close()
	return nil
}

// InsertRecords upserts job status records in batches.
func (c *Client) InsertRecords(ctx context.Context, records []StoredRecord) (int, error) {
	written := 0
	for start := 0; start < len(records); start += mutationBatch {
		end := min(start+mutationBatch, len(records))
		mutations := make([]*spanner.Mutation, 0, end-start)
		for _, r := range records[start:end] {
			vals := r.values()
			vals[len(vals)-1] = spanner.CommitTimestamp
			mutations = append(mutations, spanner.InsertOrUpdate(TableRecords, recordColumns, vals))
		}
		if _, err := c.client.Apply(ctx, mutations); err != nil {
			return written, fmt.Errorf("failed to insert records: %w", err)
		}
		written += end - start
	}
	return written, nil
}

// InsertSession creates a monitoring session row.
func (c *Client) InsertSession(ctx context.Context, s Session) (string, error) {
	_, err := c.client.Apply(ctx, []*spanner.Mutation{
		spanner.Insert(TableSessions, sessionColumns,
			[]interface{}{
				s.MonitoringID, s.StartedAt, s.CompletedAt, s.TotalJobs, s.SuccessfulJobs, s.FailedJobs,
				s.PlatformsMonitored, s.RiskLevel, s.OverallHealth, s.RequiresNotification,
				s.AssessmentJSON, s.SummariesJSON, s.ErrorsJSON, spanner.CommitTimestamp,
			},
		),
	})
	if spanner.ErrCode(err) == codes.AlreadyExists {
		return "", fmt.Errorf("%w: %s", ErrDuplicateSession, s.MonitoringID)
	}
	if err != nil {
		return "", fmt.Errorf("failed to insert session: %w", err)
	}
	return s.MonitoringID, nil
}

// InsertSummaries upserts per-platform summaries.
func (c *Client) InsertSummaries(ctx context.Context, summaries []StoredSummary) (int, error) {
	if len(summaries) == 0 {
		return 0, nil
	}
	mutations := make([]*spanner.Mutation, 0, len(summaries))
	for _, s := range summaries {
		mutations = append(mutations, spanner.InsertOrUpdate(TableSummaries, summaryColumns, s.values()))
	}
	if _, err := c.client.Apply(ctx, mutations); err != nil {
		return 0, fmt.Errorf("failed to insert summaries: %w", err)
	}
	return len(summaries), nil
}

// RecentStatement builds the QueryRecent statement.
func RecentStatement(f RecordFilter) spanner.Statement {
	var where []string
	params := map[string]interface{}{"limit": int64(f.EffectiveLimit())}
	if f.Platform != "" {
		where = append(where, "Platform = @platform")
		params["platform"] = f.Platform
	}
	if f.Status != "" {
		where = append(where, "Status = @status")
		params["status"] = f.Status
	}
	if !f.Since.IsZero() {
		where = append(where, "CheckedAt >= @since")
		params["since"] = f.Since
	}

	sql := "SELECT " + strings.Join(recordColumns, ", ") + " FROM " + TableRecords
	if len(where) > 0 {
		sql += " WHERE " + strings.Join(where, " AND ")
	}
	sql += " ORDER BY CheckedAt DESC LIMIT @limit"
	return spanner.Statement{SQL: sql, Params: params}
}

// QueryRecent lists recent records newest first.
func (c *Client) QueryRecent(ctx context.Context, f RecordFilter) ([]StoredRecord, error) {
	iter := c.client.Single().Query(ctx, RecentStatement(f))
	defer iter.Stop()

	var records []StoredRecord
	for {
		row, err := iter.Next()
		if err == iterator.Done {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("failed to iterate records: %w", err)
		}

		var r StoredRecord
		if err := row.ToStruct(&r); err != nil {
			return nil, fmt.Errorf("failed to parse record: %w", err)
		}
		records = append(records, r)
	}

	return records, nil
}
