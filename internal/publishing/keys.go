package publishing

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"fmt"

	"github.com/JakeFAU/rankyak-pipeline/internal/content"
)

// IntegrationKeyPrefix marks keys issued by this service.
const IntegrationKeyPrefix = "rk_"

// NewIntegrationKey returns "rk_" followed by 48 random hex characters.
func NewIntegrationKey() (string, error) {
	buf := make([]byte, 24)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("read random: %w", err)
	}
	return IntegrationKeyPrefix + hex.EncodeToString(buf), nil
}

// IssueKey generates a key for (projectID, platform) and stores it, replacing
// any previous key at once.
func (s *Service) IssueKey(ctx context.Context, projectID string, platform content.Platform) (content.Integration, string, error) {
	if !platform.Valid() {
		return content.Integration{}, "", content.Errorf(content.CodeValidationFailed, "issue key",
			"unsupported platform %q", platform)
	}
	key, err := NewIntegrationKey()
	if err != nil {
		return content.Integration{}, "", content.Wrap(content.CodeInternal, "issue key", err)
	}
	integ, err := s.store.SetIntegrationKey(ctx, projectID, platform, key)
	if err != nil {
		return content.Integration{}, "", fmt.Errorf("store integration key: %w", err)
	}
	return integ, key, nil
}
