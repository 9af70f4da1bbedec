package authapi

import (
	"time"

	"vigil/cmd/account"
	"vigil/cmd/internal/auth/ledger"
)

type loginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

type createAccountRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
	Enabled  *bool  `json:"enabled"`
	Admin    bool   `json:"admin"`
}

type partnerLogoutRequest struct {
	RevocationToken string `json:"revocation_token"`
	Username        string `json:"username"`
}

type userResponse struct {
	Username  string     `json:"username"`
	Enabled   bool       `json:"enabled"`
	Admin     bool       `json:"admin"`
	LastLogin *time.Time `json:"last_login"`
}

type sessionResponse struct {
	Handle          string    `json:"handle"`
	SessionID       string    `json:"session_id"`
	ExpiresAt       time.Time `json:"expires_at"`
	RevocationToken string    `json:"revocation_token,omitempty"`
}

type appLoginResponse struct {
	Success bool            `json:"success"`
	Message string          `json:"message"`
	User    userResponse    `json:"user"`
	Session sessionResponse `json:"session"`
}

type appStatusResponse struct {
	Success       bool          `json:"success"`
	Authenticated bool          `json:"authenticated"`
	User          *userResponse `json:"user,omitempty"`
	Message       string        `json:"message,omitempty"`
}

type appMessageResponse struct {
	Success bool   `json:"success"`
	Message string `json:"message"`
}

type appHealthResponse struct {
	Success   bool      `json:"success"`
	Status    string    `json:"status"`
	Database  string    `json:"database"`
	UserCount int       `json:"user_count"`
	Timestamp time.Time `json:"timestamp"`
	Error     string    `json:"error,omitempty"`
}

type panelLoginResponse struct {
	User    userResponse    `json:"user"`
	Session sessionResponse `json:"session"`
}

type presenceResponse struct {
	Username         string     `json:"username"`
	Enabled          bool       `json:"enabled"`
	Admin            bool       `json:"admin"`
	LoggedIn         bool       `json:"logged_in"`
	SessionID        string     `json:"session_id,omitempty"`
	LastLogin        *time.Time `json:"last_login"`
	LastKnownAddress string     `json:"last_known_address,omitempty"`
}

type loginFormResponse struct {
	Method string   `json:"method"`
	Action string   `json:"action"`
	Fields []string `json:"fields"`
	Next   string   `json:"next,omitempty"`
}

type dashboardResponse struct {
	Viewer   presenceResponse   `json:"viewer"`
	Count    int                `json:"count"`
	Active   int                `json:"active"`
	Accounts []presenceResponse `json:"accounts,omitempty"`
}

type accountListResponse struct {
	Accounts []presenceResponse `json:"accounts"`
	Count    int                `json:"count"`
	Active   int                `json:"active"`
}

type takeoverResponse struct {
	Username string          `json:"username"`
	Session  sessionResponse `json:"session"`
}

type recordResponse struct {
	SessionID        string     `json:"session_id"`
	StartedAt        time.Time  `json:"started_at"`
	EndedAt          *time.Time `json:"ended_at"`
	OriginAddress    string     `json:"origin_address,omitempty"`
	ClientDescriptor string     `json:"client_descriptor,omitempty"`
	Surface          string     `json:"surface"`
	EndReason        string     `json:"end_reason,omitempty"`
}

type historyResponse struct {
	Username string           `json:"username"`
	Sessions []recordResponse `json:"sessions"`
}

type partnerStatus struct {
	Status  string `json:"status"`
	Message string `json:"message,omitempty"`
	Ended   *bool  `json:"ended,omitempty"`
}

func toUserResponse(a account.Account) userResponse {
	return userResponse{
		Username:  a.Username,
		Enabled:   a.Enabled,
		Admin:     a.Admin,
		LastLogin: a.LastLoginAt,
	}
}

func toPresenceResponse(a account.Account) presenceResponse {
	return presenceResponse{
		Username:         a.Username,
		Enabled:          a.Enabled,
		Admin:            a.Admin,
		LoggedIn:         a.Presence.LoggedIn(),
		SessionID:        a.Presence.SessionID,
		LastLogin:        a.LastLoginAt,
		LastKnownAddress: a.LastKnownAddress,
	}
}

func toRecordResponse(r ledger.Record) recordResponse {
	return recordResponse{
		SessionID:        r.ID,
		StartedAt:        r.StartedAt,
		EndedAt:          r.EndedAt,
		OriginAddress:    r.OriginAddress,
		ClientDescriptor: r.ClientDescriptor,
		Surface:          string(r.Surface),
		EndReason:        string(r.EndReason),
	}
}
