package platform

import (
	"encoding/json"

	"github.com/korvuslabs/prowl/api/schemas"
)

// Raw upstream shapes, decoded only as deeply as the normalized types need.
// Unknown fields are ignored so upstream additions never break decoding.

type rawVideo struct {
	ID         string `json:"id"`
	Desc       string `json:"desc"`
	CreateTime int64  `json:"createTime"`
	Author     struct {
		UniqueID      string `json:"uniqueId"`
		Nickname      string `json:"nickname"`
		Verified      bool   `json:"verified"`
		FollowerCount int64  `json:"followerCount"`
	} `json:"author"`
	Stats struct {
		PlayCount    int64 `json:"playCount"`
		DiggCount    int64 `json:"diggCount"`
		CommentCount int64 `json:"commentCount"`
		ShareCount   int64 `json:"shareCount"`
		CollectCount int64 `json:"collectCount"`
	} `json:"stats"`
	Music struct {
		Title      string `json:"title"`
		AuthorName string `json:"authorName"`
		Original   bool   `json:"original"`
	} `json:"music"`
	Challenges []struct {
		Name string `json:"name"`
	} `json:"challenges"`
}

func (v rawVideo) normalize() schemas.Video {
	out := schemas.Video{
		ID:          v.ID,
		Description: v.Desc,
		CreateTime:  v.CreateTime,
		Author: schemas.Author{
			Username:      v.Author.UniqueID,
			Nickname:      v.Author.Nickname,
			Verified:      v.Author.Verified,
			FollowerCount: v.Author.FollowerCount,
		},
		Stats: schemas.VideoStats{
			Views:    v.Stats.PlayCount,
			Likes:    v.Stats.DiggCount,
			Comments: v.Stats.CommentCount,
			Shares:   v.Stats.ShareCount,
			Saves:    v.Stats.CollectCount,
		},
		Music: schemas.Music{
			Title:    v.Music.Title,
			Author:   v.Music.AuthorName,
			Original: v.Music.Original,
		},
		URL: VideoURL(v.Author.UniqueID, v.ID),
	}
	for _, c := range v.Challenges {
		if c.Name != "" {
			out.Hashtags = append(out.Hashtags, c.Name)
		}
	}
	return out
}

// ParseVideoList normalizes an itemList response (trending, hashtag).
func ParseVideoList(body string) ([]schemas.Video, error) {
	var payload struct {
		ItemList []rawVideo `json:"itemList"`
	}
	if err := json.Unmarshal([]byte(body), &payload); err != nil {
		return nil, err
	}
	videos := make([]schemas.Video, 0, len(payload.ItemList))
	for _, v := range payload.ItemList {
		videos = append(videos, v.normalize())
	}
	return videos, nil
}

// ParseSearchResults normalizes a general-search response. Non-video
// entries in the result stream are skipped.
func ParseSearchResults(body string) ([]schemas.Video, error) {
	var payload struct {
		Data []struct {
			Item *rawVideo `json:"item"`
		} `json:"data"`
	}
	if err := json.Unmarshal([]byte(body), &payload); err != nil {
		return nil, err
	}
	var videos []schemas.Video
	for _, entry := range payload.Data {
		if entry.Item == nil || entry.Item.ID == "" {
			continue
		}
		videos = append(videos, entry.Item.normalize())
	}
	return videos, nil
}

// ParseUserProfile normalizes a user-detail response.
func ParseUserProfile(body string) (schemas.UserProfile, error) {
	var payload struct {
		UserInfo struct {
			User struct {
				ID        string `json:"id"`
				UniqueID  string `json:"uniqueId"`
				Nickname  string `json:"nickname"`
				Verified  bool   `json:"verified"`
				Signature string `json:"signature"`
			} `json:"user"`
			Stats struct {
				FollowerCount  int64 `json:"followerCount"`
				FollowingCount int64 `json:"followingCount"`
				VideoCount     int64 `json:"videoCount"`
				HeartCount     int64 `json:"heartCount"`
			} `json:"stats"`
		} `json:"userInfo"`
	}
	if err := json.Unmarshal([]byte(body), &payload); err != nil {
		return schemas.UserProfile{}, err
	}
	u := payload.UserInfo
	return schemas.UserProfile{
		ID:       u.User.ID,
		Username: u.User.UniqueID,
		Nickname: u.User.Nickname,
		Verified: u.User.Verified,
		Bio:      u.User.Signature,
		Stats: schemas.UserStats{
			FollowerCount:  u.Stats.FollowerCount,
			FollowingCount: u.Stats.FollowingCount,
			VideoCount:     u.Stats.VideoCount,
			HeartCount:     u.Stats.HeartCount,
		},
	}, nil
}

// ParseVideoDetail normalizes an item-detail response.
func ParseVideoDetail(body string) (schemas.Video, error) {
	var payload struct {
		ItemInfo struct {
			ItemStruct rawVideo `json:"itemStruct"`
		} `json:"itemInfo"`
	}
	if err := json.Unmarshal([]byte(body), &payload); err != nil {
		return schemas.Video{}, err
	}
	return payload.ItemInfo.ItemStruct.normalize(), nil
}
