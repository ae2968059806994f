package users

import (
	"context"

	errspkg "github.com/drblury/userflow/internal/runtime/errors"
)

// ResponseStatus is the outcome reported to inbound callers.
type ResponseStatus string

const (
	StatusSuccess ResponseStatus = "SUCCESS"
	StatusFailure ResponseStatus = "FAILURE"
)

// GenericResponse wraps every inbound reply.
type GenericResponse[T any] struct {
	Data   T              `json:"data"`
	Status ResponseStatus `json:"status"`
	Errors []string       `json:"errors,omitempty"`
}

// CreateUserRequest is the inbound command to publish a new user.
type CreateUserRequest struct {
	ID    *int64  `json:"id"`
	Name  *string `json:"name"`
	Email *string `json:"email,omitempty"`
	Age   *int    `json:"age,omitempty"`
}

// UserCreatedResponse echoes the key a record was published with.
type UserCreatedResponse struct {
	Key  string `json:"key"`
	User User   `json:"user"`
}

// Service is the inbound side of the pipeline.
type Service struct {
	producer *Producer
}

func NewService(producer *Producer) (*Service, error) {
	if producer == nil {
		return nil, errspkg.ErrPublisherRequired
	}
	return &Service{producer: producer}, nil
}

// CreateUser publishes the requested user. The broker outcome is not awaited;
// a record the schema rejects yields a FAILURE response with the violations
// and the serialization error.
func (s *Service) CreateUser(ctx context.Context, req CreateUserRequest) (GenericResponse[UserCreatedResponse], error) {
	u := User{ID: req.ID, Name: req.Name, Email: req.Email, Age: req.Age}

	delivery, err := s.producer.Publish(ctx, u)
	if err != nil {
		resp := GenericResponse[UserCreatedResponse]{Status: StatusFailure, Errors: errspkg.Reasons(err)}
		if len(resp.Errors) == 0 {
			resp.Errors = []string{err.Error()}
		}
		return resp, err
	}

	return GenericResponse[UserCreatedResponse]{
		Status: StatusSuccess,
		Data:   UserCreatedResponse{Key: delivery.Key(), User: u},
	}, nil
}
