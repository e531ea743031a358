// Package platform catalogs the upstream operations the service can run:
// trending, user profile, hashtag, search, and video detail. Each operation
// is a URL recipe plus the top-level field a successful response must carry.
package platform

import (
	"context"
	"fmt"
	"net/url"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/korvuslabs/prowl/internal/classify"
	"github.com/korvuslabs/prowl/internal/config"
	"github.com/korvuslabs/prowl/internal/session"
)

// Catalog builds operations against a configured upstream base URL.
type Catalog struct {
	base    string
	timeout time.Duration
}

// NewCatalog builds the operation catalog from platform configuration.
func NewCatalog(cfg config.PlatformConfig) *Catalog {
	return &Catalog{
		base:    strings.TrimRight(cfg.BaseURL, "/"),
		timeout: cfg.RequestTimeout,
	}
}

// Operation is one URL-recipe request executed through a pooled session.
type Operation struct {
	name          string
	requiredField string
	path          string
	query         url.Values
	timeout       time.Duration
}

func (o Operation) Name() string          { return o.name }
func (o Operation) RequiredField() string { return o.requiredField }

// Do fetches the operation's URL through the session's browser runtime. The
// session's access token rides along as the msToken query parameter, which
// is how the platform correlates the API call with the browser identity
// that earned the token.
func (o Operation) Do(ctx context.Context, s *session.Session) (classify.RawResult, error) {
	ctx, cancel := context.WithTimeout(ctx, o.timeout)
	defer cancel()

	q := url.Values{}
	for k, vs := range o.query {
		for _, v := range vs {
			q.Add(k, v)
		}
	}
	if tok := s.AccessToken(); tok != "" {
		q.Set("msToken", tok)
	}
	return s.Runtime().Fetch(ctx, o.path+"?"+q.Encode())
}

func (c *Catalog) op(name, requiredField, path string, query url.Values) Operation {
	return Operation{
		name:          name,
		requiredField: requiredField,
		path:          c.base + path,
		query:         query,
		timeout:       c.timeout,
	}
}

// Trending fetches up to count videos from the recommendation feed.
func (c *Catalog) Trending(count int) Operation {
	return c.op("trending", "itemList", "/api/recommend/item_list/", url.Values{
		"count":     {strconv.Itoa(count)},
		"from_page": {"fyp"},
	})
}

// User fetches a user's profile. A leading @ on the username is accepted
// and stripped.
func (c *Catalog) User(username string) Operation {
	return c.op("user", "userInfo", "/api/user/detail/", url.Values{
		"uniqueId": {strings.TrimPrefix(username, "@")},
	})
}

// Hashtag fetches up to count videos tagged with the given challenge name.
func (c *Catalog) Hashtag(name string, count int) Operation {
	return c.op("hashtag", "itemList", "/api/challenge/item_list/", url.Values{
		"challengeName": {strings.TrimPrefix(name, "#")},
		"count":         {strconv.Itoa(count)},
	})
}

// Search fetches up to count videos matching the query.
func (c *Catalog) Search(query string, count int) Operation {
	return c.op("search", "data", "/api/search/general/full/", url.Values{
		"keyword": {query},
		"count":   {strconv.Itoa(count)},
	})
}

// Video fetches detail for a single video by ID or URL.
func (c *Catalog) Video(idOrURL string) (Operation, error) {
	id, ok := ExtractVideoID(idOrURL)
	if !ok {
		return Operation{}, classify.ConfigurationErrorf(
			"cannot extract a video id from %q", idOrURL)
	}
	return c.op("video", "itemInfo", "/api/item/detail/", url.Values{
		"itemId": {id},
	}), nil
}

var videoURLPatterns = []*regexp.Regexp{
	regexp.MustCompile(`tiktok\.com/@[\w.-]+/video/(\d+)`),
	regexp.MustCompile(`tiktok\.com/v/(\d+)`),
	regexp.MustCompile(`vm\.tiktok\.com/(\w+)`),
	regexp.MustCompile(`vt\.tiktok\.com/(\w+)`),
}

// ExtractVideoID pulls the video ID out of a share URL, or passes a bare
// numeric ID through unchanged.
func ExtractVideoID(idOrURL string) (string, bool) {
	if idOrURL == "" {
		return "", false
	}
	if isDigits(idOrURL) {
		return idOrURL, true
	}
	for _, re := range videoURLPatterns {
		if m := re.FindStringSubmatch(idOrURL); m != nil {
			return m[1], true
		}
	}
	return "", false
}

func isDigits(s string) bool {
	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}
	return len(s) > 0
}

// VideoURL reconstructs the canonical share URL for a video.
func VideoURL(username, id string) string {
	return fmt.Sprintf("https://www.tiktok.com/@%s/video/%s", username, id)
}
