package api

import (
	"context"
	"fmt"
	"net/http"

	"github.com/example/carpool-sync/internal/models"
)

type userDTO struct {
	ID     int64    `json:"id"`
	Name   string   `json:"name"`
	Email  string   `json:"email"`
	Phone  string   `json:"phone"`
	Role   string   `json:"role"`
	Rating *float64 `json:"rating"`
}

func (c *Client) GetUser(ctx context.Context, id int64) (models.User, error) {
	var out userDTO
	if err := c.do(ctx, "get user", http.MethodGet, fmt.Sprintf("/api/users/%d", id), nil, &out); err != nil {
		return models.User{}, err
	}
	u := models.User{
		ID:    out.ID,
		Name:  out.Name,
		Email: out.Email,
		Phone: out.Phone,
		Role:  models.Role(out.Role),
	}
	if out.Rating != nil {
		u.Rating = *out.Rating
	}
	return u, nil
}
