package diff

import (
	"fmt"
	"net/url"
	"sort"
	"strings"
)

// FailureMessage renders the markdown summary posted as a review comment when
// a build fails: one section per browser with an inline link for every
// differing image, addressed under project/build/browser/image.
func FailureMessage(baseURL, project, build string, diffs map[string][]string) string {
	browsers := make([]string, 0, len(diffs))
	for browser := range diffs {
		browsers = append(browsers, browser)
	}
	sort.Strings(browsers)

	lines := []string{
		fmt.Sprintf("Diffs found in %d browser(s): %s", len(browsers), strings.Join(browsers, ", ")),
	}

	groups := make([]string, 0, len(browsers))
	for _, browser := range browsers {
		section := []string{"<h3>" + browser + "</h3>"}
		for _, image := range diffs[browser] {
			u := diffURL(baseURL, project, build, browser, image)
			section = append(section, fmt.Sprintf("![%s](%s)", u, u))
		}
		groups = append(groups, strings.Join(section, "\n"))
	}

	lines = append(lines, strings.Join(groups, "\n\n"))
	return strings.Join(lines, "\n")
}

func diffURL(baseURL, project, build, browser, image string) string {
	segments := []string{project, build, browser}
	// image names may be nested paths; escape each segment separately
	segments = append(segments, strings.Split(image, "/")...)
	for i, s := range segments {
		segments[i] = url.PathEscape(s)
	}
	return strings.TrimSuffix(baseURL, "/") + "/api/v1/diff/" + strings.Join(segments, "/")
}
