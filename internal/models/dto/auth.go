package dto

import (
	"github.com/google/uuid"

	"github.com/hongminglow/accounts/internal/models"
)

type RegisterRequest struct {
	Email       string        `json:"email"`
	Password    string        `json:"password"`
	FirstName   string        `json:"first_name"`
	LastName    string        `json:"last_name"`
	PhoneNumber string        `json:"phone_number"`
	Gender      models.Gender `json:"gender"`
}

type LoginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type ChangePasswordRequest struct {
	OldPassword             string `json:"old_password"`
	NewPassword             string `json:"new_password"`
	NewPasswordConfirmation string `json:"new_password_confirmation"`
}

// AccountResponse is returned by register and login.
type AccountResponse struct {
	ID          uuid.UUID     `json:"id"`
	FirstName   string        `json:"first_name"`
	LastName    string        `json:"last_name"`
	Email       string        `json:"email"`
	PhoneNumber string        `json:"phone_number"`
	Gender      models.Gender `json:"gender"`
	Token       string        `json:"token"`
}

func NewAccountResponse(user models.User, token string) AccountResponse {
	return AccountResponse{
		ID:          user.ID,
		FirstName:   user.FirstName,
		LastName:    user.LastName,
		Email:       user.Email,
		PhoneNumber: user.PhoneNumber,
		Gender:      user.Gender,
		Token:       token,
	}
}
