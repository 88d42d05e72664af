package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"
)

const youtubeSearchURL = "https://www.googleapis.com/youtube/v3/search"

type Video struct {
	ID      string
	Title   string
	Channel string
}

// Searcher looks up videos on a video platform.
type Searcher interface {
	Search(ctx context.Context, query string, maxResults int) ([]Video, error)
}

// YouTubeClient calls the YouTube Data API v3 search endpoint.
type YouTubeClient struct {
	apiKey     string
	endpoint   string
	httpClient *http.Client
}

func NewYouTubeClient(apiKey string, httpClient *http.Client) *YouTubeClient {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 15 * time.Second}
	}
	return &YouTubeClient{
		apiKey:     apiKey,
		endpoint:   youtubeSearchURL,
		httpClient: httpClient,
	}
}

type youtubeSearchResponse struct {
	Items []struct {
		ID struct {
			VideoID string `json:"videoId"`
		} `json:"id"`
		Snippet struct {
			Title        string `json:"title"`
			ChannelTitle string `json:"channelTitle"`
		} `json:"snippet"`
	} `json:"items"`
	Error *struct {
		Message string `json:"message"`
	} `json:"error"`
}

func (c *YouTubeClient) Search(ctx context.Context, query string, maxResults int) ([]Video, error) {
	if c.apiKey == "" {
		return nil, fmt.Errorf("youtube api key is not configured")
	}

	params := url.Values{}
	params.Set("part", "snippet")
	params.Set("type", "video")
	params.Set("q", query)
	params.Set("maxResults", strconv.Itoa(maxResults))
	params.Set("key", c.apiKey)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.endpoint+"?"+params.Encode(), nil)
	if err != nil {
		return nil, fmt.Errorf("build youtube request: %w", err)
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("youtube request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		var failure youtubeSearchResponse
		if json.NewDecoder(resp.Body).Decode(&failure) == nil && failure.Error != nil && failure.Error.Message != "" {
			return nil, fmt.Errorf("youtube: %s", failure.Error.Message)
		}
		return nil, fmt.Errorf("youtube: unexpected status %d", resp.StatusCode)
	}

	var decoded youtubeSearchResponse
	if err := json.NewDecoder(resp.Body).Decode(&decoded); err != nil {
		return nil, fmt.Errorf("decode youtube response: %w", err)
	}

	videos := make([]Video, 0, len(decoded.Items))
	for _, item := range decoded.Items {
		videos = append(videos, Video{
			ID:      item.ID.VideoID,
			Title:   item.Snippet.Title,
			Channel: item.Snippet.ChannelTitle,
		})
	}
	return videos, nil
}

// FormatVideos renders search results as the compact text handed back to the model.
func FormatVideos(videos []Video) string {
	if len(videos) == 0 {
		return "No videos found."
	}
	var b strings.Builder
	for i, v := range videos {
		fmt.Fprintf(&b, "%d. %s (channel: %s, id: %s)\n", i+1, v.Title, v.Channel, v.ID)
	}
	return strings.TrimRight(b.String(), "\n")
}
