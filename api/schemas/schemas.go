// Package schemas defines the wire-level types shared between the core and
// its external collaborators (the HTTP surface and the audit store). The
// error envelope shape is a compatibility contract and must not change.
package schemas

// ErrorKind is the closed taxonomy of classified failure kinds.
type ErrorKind string

const (
	KindNotFound           ErrorKind = "NotFound"
	KindAuthError          ErrorKind = "AuthError"
	KindRateLimited        ErrorKind = "RateLimited"
	KindBotDetected        ErrorKind = "BotDetected"
	KindDataError          ErrorKind = "DataError"
	KindUpstreamError      ErrorKind = "UpstreamError"
	KindCapacityError      ErrorKind = "CapacityError"
	KindInvariantViolation ErrorKind = "InvariantViolation"
	KindConfigurationError ErrorKind = "ConfigurationError"
)

// ErrorEnvelope is the externally observed error contract. Field names and
// shape are fixed for compatibility with existing consumers.
type ErrorEnvelope struct {
	Success        bool      `json:"success"`
	Error          ErrorKind `json:"error"`
	Message        string    `json:"message"`
	RawError       string    `json:"raw_error,omitempty"`
	StatusCode     int       `json:"status_code,omitempty"`
	PossibleCauses []string  `json:"possible_causes,omitempty"`
	Suggestions    []string  `json:"suggestions,omitempty"`
}

// Video is the normalized representation of one platform video.
type Video struct {
	ID          string     `json:"id"`
	Description string     `json:"description"`
	CreateTime  int64      `json:"create_time"`
	Author      Author     `json:"author"`
	Stats       VideoStats `json:"stats"`
	Music       Music      `json:"music"`
	Hashtags    []string   `json:"hashtags"`
	URL         string     `json:"url"`
}

// Author identifies the creator of a video.
type Author struct {
	Username      string `json:"username"`
	Nickname      string `json:"nickname"`
	Verified      bool   `json:"verified"`
	FollowerCount int64  `json:"follower_count"`
}

// VideoStats holds the engagement counters for a video.
type VideoStats struct {
	Views    int64 `json:"views"`
	Likes    int64 `json:"likes"`
	Comments int64 `json:"comments"`
	Shares   int64 `json:"shares"`
	Saves    int64 `json:"saves"`
}

// Music describes the audio track attached to a video.
type Music struct {
	Title    string `json:"title"`
	Author   string `json:"author"`
	Original bool   `json:"original"`
}

// UserProfile is the normalized representation of a platform user.
type UserProfile struct {
	ID       string    `json:"id"`
	Username string    `json:"username"`
	Nickname string    `json:"nickname"`
	Verified bool      `json:"verified"`
	Bio      string    `json:"bio"`
	Stats    UserStats `json:"stats"`
}

// UserStats holds the aggregate counters for a user profile.
type UserStats struct {
	FollowerCount  int64 `json:"follower_count"`
	FollowingCount int64 `json:"following_count"`
	VideoCount     int64 `json:"video_count"`
	HeartCount     int64 `json:"heart_count"`
}

// OwnerSessionStats breaks down one owner's sessions by lifecycle state.
type OwnerSessionStats struct {
	Owner    string `json:"owner"`
	Idle     int    `json:"idle"`
	InUse    int    `json:"in_use"`
	Degraded int    `json:"degraded"`
}

// HealthStatus is the health-check payload. Memory is an estimate from
// session counts, not a measurement.
type HealthStatus struct {
	Status            string `json:"status"`
	TotalSessions     int    `json:"total_sessions"`
	EstimatedMemoryMB int    `json:"estimated_memory_mb"`
	SweepAlive        bool   `json:"sweep_alive"`
}

// PoolStats is the session-stats query payload, for operational monitoring.
type PoolStats struct {
	TotalSessions  int                 `json:"total_sessions"`
	Owners         []OwnerSessionStats `json:"owners"`
	FailuresByKind map[ErrorKind]int64 `json:"failures_by_kind"`
	MaxPerOwner    int                 `json:"max_sessions_per_owner"`
	IdleTimeoutSec int                 `json:"session_idle_timeout_seconds"`
	Proxy          map[string]any      `json:"proxy_stats,omitempty"`
}
