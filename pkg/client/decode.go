package client

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/Sternrassler/latest-games/pkg/game"
)

// finderResponse is the aggregator's listing envelope.
type finderResponse struct {
	Data struct {
		TotalResults int          `json:"totalResults"`
		Items        []finderItem `json:"items"`
	} `json:"data"`
}

type finderItem struct {
	Slug        string `json:"slug"`
	Title       string `json:"title"`
	Description string `json:"description"`
	ReleaseDate string `json:"releaseDate"`
	Image       *struct {
		BucketType string `json:"bucketType"`
		BucketPath string `json:"bucketPath"`
	} `json:"image"`
	CriticScoreSummary *struct {
		Score game.Score `json:"score"`
	} `json:"criticScoreSummary"`
}

// decodeGames turns a listing body into games. Items with neither slug nor
// title are skipped and counted in dropped.
func decodeGames(body []byte, imageBaseURL string) (games []game.Game, dropped int, err error) {
	var resp finderResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, 0, fmt.Errorf("%w: %v", ErrDecode, err)
	}

	games = make([]game.Game, 0, len(resp.Data.Items))
	for _, item := range resp.Data.Items {
		g := game.Game{
			Slug:        item.Slug,
			Title:       strings.TrimSpace(item.Title),
			Description: item.Description,
			ReleaseDate: item.ReleaseDate,
			Image:       imageURL(imageBaseURL, item),
		}
		if item.CriticScoreSummary != nil {
			g.Score = item.CriticScoreSummary.Score
		}

		g, ok := game.Normalize(g)
		if !ok {
			dropped++
			continue
		}
		games = append(games, g)
	}

	return games, dropped, nil
}

func imageURL(base string, item finderItem) string {
	if item.Image == nil || item.Image.BucketPath == "" {
		return ""
	}
	path := item.Image.BucketPath
	if !strings.HasPrefix(path, "/") {
		path = "/" + path
	}
	return strings.TrimRight(base, "/") + "/" + strings.Trim(item.Image.BucketType, "/") + path
}
