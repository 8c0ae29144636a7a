package types

import (
	"errors"
	"fmt"
	"regexp"
	"strings"
)

// CanonicalIDSeparator joins the four segments of a canonical object ID
const CanonicalIDSeparator = "|"

// PlatformUser is the platform segment used by user references
const PlatformUser = "user"

var identPattern = regexp.MustCompile(`^[a-z_][a-z0-9_]*$`)

// CanonicalID holds the four parsed segments of a canonical object ID
type CanonicalID struct {
	Platform   string `json:"platform"`
	Workspace  string `json:"workspace"`
	ObjectType string `json:"object_type"`
	PlatformID string `json:"platform_id"`
}

// String reassembles the pipe-separated ID
func (c CanonicalID) String() string {
	return strings.Join([]string{c.Platform, c.Workspace, c.ObjectType, c.PlatformID}, CanonicalIDSeparator)
}

// GenerateCanonicalID assembles `platform|workspace|object_type|platform_id`.
// platform and object_type must match [a-z_][a-z0-9_]*; workspace and
// platform_id must be non-empty and free of the separator.
func GenerateCanonicalID(platform, workspace, objectType, platformID string) (string, error) {
	if !identPattern.MatchString(platform) {
		return "", fmt.Errorf("invalid platform %q: must match [a-z_][a-z0-9_]*", platform)
	}
	if !identPattern.MatchString(objectType) {
		return "", fmt.Errorf("invalid object_type %q: must match [a-z_][a-z0-9_]*", objectType)
	}
	if workspace == "" || strings.Contains(workspace, CanonicalIDSeparator) {
		return "", fmt.Errorf("invalid workspace %q: must be non-empty without %q", workspace, CanonicalIDSeparator)
	}
	if platformID == "" || strings.Contains(platformID, CanonicalIDSeparator) {
		return "", fmt.Errorf("invalid platform_id %q: must be non-empty without %q", platformID, CanonicalIDSeparator)
	}
	return CanonicalID{Platform: platform, Workspace: workspace, ObjectType: objectType, PlatformID: platformID}.String(), nil
}

// ParseCanonicalID splits an ID back into its four segments, validating the
// same grammar GenerateCanonicalID enforces.
func ParseCanonicalID(id string) (CanonicalID, error) {
	if id == "" {
		return CanonicalID{}, errors.New("canonical id cannot be empty")
	}
	parts := strings.Split(id, CanonicalIDSeparator)
	if len(parts) != 4 {
		return CanonicalID{}, fmt.Errorf("canonical id %q must have exactly 4 segments, got %d", id, len(parts))
	}
	if _, err := GenerateCanonicalID(parts[0], parts[1], parts[2], parts[3]); err != nil {
		return CanonicalID{}, err
	}
	return CanonicalID{Platform: parts[0], Workspace: parts[1], ObjectType: parts[2], PlatformID: parts[3]}, nil
}

// ValidCanonicalID reports whether id parses under the ID grammar
func ValidCanonicalID(id string) bool {
	_, err := ParseCanonicalID(id)
	return err == nil
}

// IsUserReference reports whether id refers to a user object
func IsUserReference(id string) bool {
	parsed, err := ParseCanonicalID(id)
	if err != nil {
		return false
	}
	return parsed.Platform == PlatformUser
}
