package social

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"regexp"
	"strings"
	"time"

	"go.uber.org/zap"
)

const (
	// DefaultBaseURL is the web origin the GraphQL endpoints live under.
	DefaultBaseURL = "https://x.com"

	userByScreenNamePath = "/i/api/graphql/gEyDv8Fmv2BVTYIAf32nbA/UserByScreenName"
	tweetByRestIDPath    = "/i/api/graphql/Vg2Akr5FzUmF0sTplA5k6g/TweetResultByRestId"

	defaultHTTPTimeout = 10 * time.Second
	maxResponseBytes   = 4 << 20
	avatarNormalSuffix = "_normal"
	avatarLargeSuffix  = "_400x400"
	mediaTypePhoto     = "photo"
)

var (
	handlePattern = regexp.MustCompile(`^[A-Za-z0-9_]{1,15}$`)
	postIDPattern = regexp.MustCompile(`^\d{1,25}$`)

	profileFeatures = map[string]bool{
		"hidden_profile_subscriptions_enabled":                              true,
		"payments_enabled":                                                  false,
		"rweb_xchat_enabled":                                                false,
		"profile_label_improvements_pcf_label_in_post_enabled":              true,
		"rweb_tipjar_consumption_enabled":                                   true,
		"verified_phone_label_enabled":                                      false,
		"subscriptions_verification_info_is_identity_verified_enabled":      true,
		"subscriptions_verification_info_verified_since_enabled":            true,
		"highlights_tweets_tab_ui_enabled":                                  true,
		"responsive_web_twitter_article_notes_tab_enabled":                  true,
		"subscriptions_feature_can_gift_premium":                            true,
		"creator_subscriptions_tweet_preview_api_enabled":                   true,
		"responsive_web_graphql_skip_user_profile_image_extensions_enabled": false,
		"responsive_web_graphql_timeline_navigation_enabled":                true,
	}
	tweetFeatures = map[string]bool{
		"creator_subscriptions_tweet_preview_api_enabled":                         true,
		"responsive_web_graphql_timeline_navigation_enabled":                      true,
		"responsive_web_graphql_skip_user_profile_image_extensions_enabled":       false,
		"responsive_web_edit_tweet_api_enabled":                                   true,
		"longform_notetweets_consumption_enabled":                                 true,
		"responsive_web_enhance_cards_enabled":                                    false,
		"tweet_awards_web_tipping_enabled":                                        false,
		"freedom_of_speech_not_reach_fetch_enabled":                               true,
		"standardized_nudges_misinfo":                                             true,
		"tweet_with_visibility_results_prefer_gql_limited_actions_policy_enabled": true,
	}
)

// Config carries the session credentials of the scraping account.
type Config struct {
	BaseURL     string
	BearerToken string
	CSRFToken   string
	Cookie      string
	HTTPClient  *http.Client
	Logger      *zap.Logger
}

// Client calls the X web GraphQL API with a browser session.
type Client struct {
	baseURL     string
	bearerToken string
	csrfToken   string
	cookie      string
	httpClient  *http.Client
	logger      *zap.Logger
}

// NewClient builds a Client. Missing credentials are reported per call, not here,
// so a deployment without a scraping account still starts.
func NewClient(cfg Config) *Client {
	baseURL := strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/")
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	httpClient := cfg.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: defaultHTTPTimeout}
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Client{
		baseURL:     baseURL,
		bearerToken: strings.TrimSpace(cfg.BearerToken),
		csrfToken:   strings.TrimSpace(cfg.CSRFToken),
		cookie:      strings.TrimSpace(cfg.Cookie),
		httpClient:  httpClient,
		logger:      logger,
	}
}

// Configured reports whether all three credentials are present.
func (c *Client) Configured() bool {
	return c.bearerToken != "" && c.csrfToken != "" && c.cookie != ""
}

type userResponse struct {
	Data struct {
		User struct {
			Result *struct {
				Avatar struct {
					ImageURL URLRef `json:"image_url"`
				} `json:"avatar"`
				Core struct {
					Name       string `json:"name"`
					ScreenName string `json:"screen_name"`
				} `json:"core"`
				IsBlueVerified bool `json:"is_blue_verified"`
				Legacy         *struct {
					Name                 string `json:"name"`
					ScreenName           string `json:"screen_name"`
					Description          string `json:"description"`
					ProfileImageURLHTTPS URLRef `json:"profile_image_url_https"`
					FollowersCount       int    `json:"followers_count"`
					FriendsCount         int    `json:"friends_count"`
					Verified             bool   `json:"verified"`
				} `json:"legacy"`
			} `json:"result"`
		} `json:"user"`
	} `json:"data"`
}

type tweetMedia struct {
	Type          string `json:"type"`
	MediaURLHTTPS URLRef `json:"media_url_https"`
}

type tweetResponse struct {
	Data struct {
		TweetResult struct {
			Result *struct {
				Legacy *struct {
					ExtendedEntities struct {
						Media []tweetMedia `json:"media"`
					} `json:"extended_entities"`
					Entities struct {
						Media []tweetMedia `json:"media"`
					} `json:"entities"`
				} `json:"legacy"`
			} `json:"result"`
		} `json:"tweetResult"`
	} `json:"data"`
}

// FetchProfile looks a handle up through UserByScreenName.
func (c *Client) FetchProfile(ctx context.Context, handle string) (Profile, error) {
	cleanHandle := strings.TrimPrefix(strings.TrimSpace(handle), "@")
	if !handlePattern.MatchString(cleanHandle) {
		return Profile{}, fmt.Errorf("%w: %q", ErrInvalidHandle, handle)
	}
	variables := map[string]any{"screen_name": cleanHandle, "withGrokTranslatedBio": false}
	fieldToggles := map[string]bool{"withAuxiliaryUserLabels": true}

	var decoded userResponse
	if err := c.query(ctx, userByScreenNamePath, variables, profileFeatures, fieldToggles, c.baseURL+"/"+cleanHandle, &decoded); err != nil {
		return Profile{}, err
	}
	result := decoded.Data.User.Result
	if result == nil || result.Legacy == nil {
		return Profile{}, fmt.Errorf("%w: %s", ErrProfileNotFound, cleanHandle)
	}

	avatar := firstNonEmpty(result.Avatar.ImageURL.URL(), result.Legacy.ProfileImageURLHTTPS.URL())
	profile := Profile{
		Handle:    firstNonEmpty(result.Core.ScreenName, result.Legacy.ScreenName, cleanHandle),
		Name:      strings.TrimSpace(firstNonEmpty(result.Core.Name, result.Legacy.Name)),
		AvatarURL: UpgradeAvatarURL(avatar),
		Bio:       result.Legacy.Description,
		Verified:  result.Legacy.Verified || result.IsBlueVerified,
		Followers: result.Legacy.FollowersCount,
		Following: result.Legacy.FriendsCount,
	}
	return profile, nil
}

// FetchPostImageURLs returns the photo URLs of a post through TweetResultByRestId.
func (c *Client) FetchPostImageURLs(ctx context.Context, postID string) ([]string, error) {
	id := strings.TrimSpace(postID)
	if !postIDPattern.MatchString(id) {
		return nil, fmt.Errorf("social: invalid post id %q", postID)
	}
	variables := map[string]any{
		"tweetId":                id,
		"withCommunity":          false,
		"includePromotedContent": false,
		"withVoice":              false,
	}
	var decoded tweetResponse
	if err := c.query(ctx, tweetByRestIDPath, variables, tweetFeatures, nil, c.baseURL, &decoded); err != nil {
		return nil, err
	}
	result := decoded.Data.TweetResult.Result
	if result == nil || result.Legacy == nil {
		return []string{}, nil
	}
	media := result.Legacy.ExtendedEntities.Media
	if len(media) == 0 {
		media = result.Legacy.Entities.Media
	}
	seen := make(map[string]struct{}, len(media))
	urls := make([]string, 0, len(media))
	for _, item := range media {
		if item.Type != mediaTypePhoto {
			continue
		}
		mediaURL := item.MediaURLHTTPS.URL()
		if mediaURL == "" {
			continue
		}
		if _, ok := seen[mediaURL]; ok {
			continue
		}
		seen[mediaURL] = struct{}{}
		urls = append(urls, mediaURL)
	}
	return urls, nil
}

func (c *Client) query(ctx context.Context, path string, variables map[string]any, features, fieldToggles map[string]bool, referer string, target any) error {
	if !c.Configured() {
		return ErrMissingCredentials
	}
	params := url.Values{}
	if err := setJSONParam(params, "variables", variables); err != nil {
		return err
	}
	if err := setJSONParam(params, "features", features); err != nil {
		return err
	}
	if len(fieldToggles) > 0 {
		if err := setJSONParam(params, "fieldToggles", fieldToggles); err != nil {
			return err
		}
	}

	request, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path+"?"+params.Encode(), nil)
	if err != nil {
		return fmt.Errorf("social: build request: %w", err)
	}
	request.Header.Set("Accept", "*/*")
	request.Header.Set("Accept-Language", "en-US,en;q=0.5")
	request.Header.Set("Authorization", "Bearer "+c.bearerToken)
	request.Header.Set("Content-Type", "application/json")
	request.Header.Set("X-Csrf-Token", c.csrfToken)
	request.Header.Set("X-Twitter-Active-User", "yes")
	request.Header.Set("X-Twitter-Auth-Type", "OAuth2Session")
	request.Header.Set("X-Twitter-Client-Language", "en")
	request.Header.Set("Cookie", c.cookie)
	request.Header.Set("Referer", referer)

	response, err := c.httpClient.Do(request)
	if err != nil {
		return fmt.Errorf("social: request failed: %w", err)
	}
	defer response.Body.Close()

	if response.StatusCode != http.StatusOK {
		c.logger.Warn("social api returned non-200",
			zap.String("path", path),
			zap.Int("status", response.StatusCode))
		return fmt.Errorf("social: unexpected status %d", response.StatusCode)
	}
	if err := json.NewDecoder(io.LimitReader(response.Body, maxResponseBytes)).Decode(target); err != nil {
		return fmt.Errorf("social: decode response: %w", err)
	}
	return nil
}

func setJSONParam(params url.Values, key string, value any) error {
	encoded, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("social: encode %s: %w", key, err)
	}
	params.Set(key, string(encoded))
	return nil
}

// UpgradeAvatarURL swaps the 48px "_normal" avatar variant for the 400px one.
func UpgradeAvatarURL(avatarURL string) string {
	return strings.Replace(avatarURL, avatarNormalSuffix, avatarLargeSuffix, 1)
}
