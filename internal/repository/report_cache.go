package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/campuskit/attendance-api/internal/models"
)

// ReportCache keeps rendered eligibility reports in redis for a short TTL.
// Writes that change attendance state invalidate the course key, so a cache
// hit always reflects committed data.
type ReportCache struct {
	client *redis.Client
}

// NewReportCache constructs the cache.
func NewReportCache(client *redis.Client) *ReportCache {
	return &ReportCache{client: client}
}

func eligibilityKey(courseID string) string {
	return fmt.Sprintf("reports:eligibility:%s", courseID)
}

// GetEligibility returns a cached report, or nil on miss.
func (c *ReportCache) GetEligibility(ctx context.Context, courseID string) (*models.CourseEligibilityReport, error) {
	raw, err := c.client.Get(ctx, eligibilityKey(courseID)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, nil
		}
		return nil, fmt.Errorf("get cached report: %w", err)
	}
	var report models.CourseEligibilityReport
	if err := json.Unmarshal(raw, &report); err != nil {
		return nil, fmt.Errorf("decode cached report: %w", err)
	}
	return &report, nil
}

// SetEligibility stores a report for the given TTL.
func (c *ReportCache) SetEligibility(ctx context.Context, courseID string, report *models.CourseEligibilityReport, ttl time.Duration) error {
	raw, err := json.Marshal(report)
	if err != nil {
		return fmt.Errorf("encode report: %w", err)
	}
	if err := c.client.Set(ctx, eligibilityKey(courseID), raw, ttl).Err(); err != nil {
		return fmt.Errorf("cache report: %w", err)
	}
	return nil
}

// Invalidate drops the cached report for a course.
func (c *ReportCache) Invalidate(ctx context.Context, courseID string) error {
	if err := c.client.Del(ctx, eligibilityKey(courseID)).Err(); err != nil {
		return fmt.Errorf("invalidate report cache: %w", err)
	}
	return nil
}
