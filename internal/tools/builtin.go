package tools

import (
	"context"
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/xaenox/creator-crew/internal/models"
)

var YouTubeSearchSpec = models.ToolSpec{
	Name:        "youtubeSearch",
	Description: "Search YouTube for videos matching a query. Use it to ground ideas in what is currently published.",
	Parameters: map[string]any{
		"type": "object",
		"properties": map[string]any{
			"query": map[string]any{
				"type":        "string",
				"description": "Search terms",
			},
			"maxResults": map[string]any{
				"type":        "integer",
				"description": "Number of videos to return (1-10, default 5)",
			},
		},
		"required": []string{"query"},
	},
}

var EngagementRateSpec = models.ToolSpec{
	Name:        "engagementRate",
	Description: "Compute the engagement rate of a video as (likes + comments) / views, in percent.",
	Parameters: map[string]any{
		"type": "object",
		"properties": map[string]any{
			"views":    map[string]any{"type": "number"},
			"likes":    map[string]any{"type": "number"},
			"comments": map[string]any{"type": "number"},
		},
		"required": []string{"views", "likes", "comments"},
	},
}

var CurrentDateSpec = models.ToolSpec{
	Name:        "currentDate",
	Description: "Return today's date (YYYY-MM-DD).",
	Parameters: map[string]any{
		"type":       "object",
		"properties": map[string]any{},
	},
}

// RegisterBuiltins installs the standard creator tools.
func RegisterBuiltins(r *Registry, searcher Searcher, now func() time.Time) {
	if now == nil {
		now = time.Now
	}
	r.Register(YouTubeSearchSpec, youtubeSearchHandler(searcher))
	r.Register(EngagementRateSpec, engagementRate)
	r.Register(CurrentDateSpec, func(ctx context.Context, args map[string]any) (string, error) {
		return now().Format("2006-01-02"), nil
	})
}

func youtubeSearchHandler(searcher Searcher) Handler {
	return func(ctx context.Context, args map[string]any) (string, error) {
		query, _ := args["query"].(string)
		if query == "" {
			return "", errors.New("query is required")
		}
		maxResults := 5
		if n, ok := number(args["maxResults"]); ok && n >= 1 && n <= 10 {
			maxResults = int(n)
		}
		if searcher == nil {
			return "", errors.New("search is not configured")
		}
		videos, err := searcher.Search(ctx, query, maxResults)
		if err != nil {
			return "", err
		}
		return FormatVideos(videos), nil
	}
}

func engagementRate(ctx context.Context, args map[string]any) (string, error) {
	views, ok := number(args["views"])
	if !ok {
		return "", errors.New("views must be a number")
	}
	likes, ok := number(args["likes"])
	if !ok {
		return "", errors.New("likes must be a number")
	}
	comments, ok := number(args["comments"])
	if !ok {
		return "", errors.New("comments must be a number")
	}
	if views <= 0 {
		return "", errors.New("views must be positive")
	}
	rate := (likes + comments) / views * 100
	return fmt.Sprintf("%.2f%%", math.Round(rate*100)/100), nil
}

// number accepts the numeric shapes JSON decoding produces.
func number(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	default:
		return 0, false
	}
}
