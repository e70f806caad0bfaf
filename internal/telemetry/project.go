package telemetry

import (
	"crypto/sha256"
	"encoding/hex"

	"github.com/go-git/go-git/v5"
)

// ProjectID returns an anonymized identifier for the repository containing
// dir: the sha256 of its origin remote URL. Outside a repository, or without
// an origin, it returns "".
func ProjectID(dir string) string {
	repo, err := git.PlainOpenWithOptions(dir, &git.PlainOpenOptions{DetectDotGit: true})
	if err != nil {
		return ""
	}
	remote, err := repo.Remote("origin")
	if err != nil {
		return ""
	}
	urls := remote.Config().URLs
	if len(urls) == 0 || urls[0] == "" {
		return ""
	}
	sum := sha256.Sum256([]byte(urls[0]))
	return hex.EncodeToString(sum[:])
}
