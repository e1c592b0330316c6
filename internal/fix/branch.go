package fix

import (
	"strings"

	"bugbot.app/relay/common"
	"bugbot.app/relay/common/id"
)

const maxSlugLength = 40

// branchName is "<prefix>/<identifier>-<title slug>-<unique suffix>".
func branchName(prefix string, issue string, title string) string {
	// The non-empty fallback means Slugify cannot fail here.
	slug, _ := common.Slugify(issue+" "+title, "fix")
	if len(slug) > maxSlugLength {
		slug = strings.TrimRight(slug[:maxSlugLength], "-")
	}
	return prefix + "/" + slug + "-" + id.Short()
}
