// Package users implements the user-created pipeline: a producer that
// publishes schema-checked user records, a consumer that validates them and
// applies the adult age rule, and the storage collaborator valid records are
// handed to.
package users

import (
	"fmt"

	"github.com/drblury/userflow/internal/runtime/schema"
)

// AdultAge is the age below which a valid user is reported as underage.
const AdultAge = 18

// Schema is the JSON Schema registered for the value subject of the
// user-created topic.
const Schema = `{
  "$schema": "http://json-schema.org/draft-07/schema#",
  "title": "User",
  "type": "object",
  "properties": {
    "id": {"type": "integer"},
    "name": {"type": "string"},
    "email": {"type": "string", "format": "email"},
    "age": {"type": "integer"}
  },
  "required": ["id", "name"]
}`

// User is the record flowing through the pipeline. Optional fields are
// pointers so an absent value survives a round trip.
type User struct {
	ID    *int64  `json:"id" validate:"required" msg:"ID cannot be null"`
	Name  *string `json:"name" validate:"required" msg:"Name cannot be null"`
	Email *string `json:"email,omitempty"`
	Age   *int    `json:"age,omitempty"`
}

// NewUser returns a user with the required fields set.
func NewUser(id int64, name string) User {
	return User{ID: &id, Name: &name}
}

// WithEmail returns a copy of u with email set.
func (u User) WithEmail(email string) User {
	u.Email = &email
	return u
}

// WithAge returns a copy of u with age set.
func (u User) WithAge(age int) User {
	u.Age = &age
	return u
}

// Underage reports whether the user has an age below AdultAge.
func (u User) Underage() bool {
	return u.Age != nil && *u.Age < AdultAge
}

func (u User) String() string {
	return fmt.Sprintf("User(id=%s, name=%s, email=%s, age=%s)",
		deref(u.ID), deref(u.Name), deref(u.Email), deref(u.Age))
}

func deref[T any](v *T) string {
	if v == nil {
		return "null"
	}
	return fmt.Sprint(*v)
}

var recordValidator = schema.NewStructValidator()

// Validate checks the required fields of u and reports every missing one.
func Validate(u *User) schema.Outcome {
	if u == nil {
		return schema.InvalidOutcome("record is null")
	}
	return recordValidator.Validate(u)
}
