package user

import "github.com/google/uuid"

// UpdateRankRequest for PUT /users/{id}/rank (admin)
type UpdateRankRequest struct {
	Rank string `json:"rank" validate:"required,rank"`
}

// RankResponse confirms an applied rank change
type RankResponse struct {
	UserID uuid.UUID `json:"user_id"`
	Rank   Rank      `json:"rank"`
}
