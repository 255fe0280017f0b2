package httptransport

import (
	"accounts/internal/profile"
	"accounts/internal/registration"
)

// Field rules are enforced by the services; tags here only reject
// obviously malformed bodies early.

type registerRequest struct {
	Email    string `json:"email" validate:"required"`
	Password string `json:"password" validate:"required"`
	Name     string `json:"name"`
	Lastname string `json:"lastname"`
	Age      int    `json:"age"`
}

func (r registerRequest) toCommand() registration.RegistrationRequest {
	return registration.RegistrationRequest{
		Email:    r.Email,
		Password: r.Password,
		Name:     r.Name,
		Lastname: r.Lastname,
		Age:      r.Age,
	}
}

type registerExternalRequest struct {
	Email      string `json:"email" validate:"required"`
	ExternalID string `json:"external_id" validate:"required"`
	Name       string `json:"name"`
	Lastname   string `json:"lastname"`
	Age        int    `json:"age"`
}

func (r registerExternalRequest) toCommand() registration.ExternalRegistrationRequest {
	return registration.ExternalRegistrationRequest{
		Email:      r.Email,
		ExternalID: r.ExternalID,
		Name:       r.Name,
		Lastname:   r.Lastname,
		Age:        r.Age,
	}
}

type loginRequest struct {
	Email    string `json:"email" validate:"required"`
	Password string `json:"password" validate:"required"`
}

type refreshRequest struct {
	RefreshToken string `json:"refresh_token" validate:"required"`
}

type updateProfileRequest struct {
	Name     *string `json:"name,omitempty"`
	Lastname *string `json:"lastname,omitempty"`
	Age      *int    `json:"age,omitempty"`
}

func (r updateProfileRequest) toPatch() profile.Patch {
	return profile.Patch{Name: r.Name, Lastname: r.Lastname, Age: r.Age}
}
