package authapi

type loginRequest struct {
	UserID string `json:"user_id"`
}

type meResponse struct {
	UserID string `json:"user_id"`
}

type loginResponse struct {
	UserID     string `json:"user_id"`
	HeaderName string `json:"header"`
}
