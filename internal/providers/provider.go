package providers

import (
	"context"

	"github.com/rs/zerolog"
)

// LabelClient adds and removes labels on a review request (a GitHub pull
// request or a GitLab merge request). Both operations are idempotent: adding
// a label that is already present and removing one that is absent succeed.
type LabelClient interface {
	AddLabel(ctx context.Context, requestID int, name string) error
	RemoveLabel(ctx context.Context, requestID int, name string) error
	Name() string
}

// DryRunClient logs label mutations instead of performing them.
type DryRunClient struct {
	Logger zerolog.Logger
}

func (d DryRunClient) AddLabel(_ context.Context, requestID int, name string) error {
	d.Logger.Info().Int("request_id", requestID).Str("label", name).Msg("Dry run: would add label")
	return nil
}

func (d DryRunClient) RemoveLabel(_ context.Context, requestID int, name string) error {
	d.Logger.Info().Int("request_id", requestID).Str("label", name).Msg("Dry run: would remove label")
	return nil
}

func (d DryRunClient) Name() string {
	return "dry-run"
}
